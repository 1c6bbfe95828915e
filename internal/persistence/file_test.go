package persistence

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rewired-gh/robotd/internal/models"
)

func testSnapshot(v float64) *models.Snapshot {
	return &models.Snapshot{
		Motors: []models.Motor{
			{ID: 1, Velocity: v, Distance: 20.5, Temperature: 70.1},
		},
		Pallets:     []models.Pallet{{ID: 42, Timestamp: "2025-06-01T10:00:00Z"}},
		Orientation: models.Orientation{X: 0.1, Y: -0.2, Z: 0.3},
	}
}

func newTestFileSink(t *testing.T) (*FileSink, string, string) {
	t.Helper()
	dir := t.TempDir()
	cur := filepath.Join(dir, "data", "robot_data.json")
	hist := filepath.Join(dir, "data", "hist_data.json")
	s, err := NewFileSink(cur, hist, 0o644, 0o755)
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, cur, hist
}

func readHistory(t *testing.T, path string) []models.HistoryRecord {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	var out []models.HistoryRecord
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("history file is not valid JSON: %v\n%s", err, raw)
	}
	return out
}

func TestFileSink_EmptyHistoryIsValidArray(t *testing.T) {
	_, _, hist := newTestFileSink(t)

	if got := readHistory(t, hist); len(got) != 0 {
		t.Errorf("expected empty array, got %d records", len(got))
	}
}

func TestFileSink_WriteCurrentIdempotent(t *testing.T) {
	s, cur, _ := newTestFileSink(t)

	if err := s.WriteCurrent(testSnapshot(140)); err != nil {
		t.Fatalf("WriteCurrent failed: %v", err)
	}
	first, err := os.ReadFile(cur)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.WriteCurrent(testSnapshot(140)); err != nil {
		t.Fatalf("WriteCurrent failed: %v", err)
	}
	second, err := os.ReadFile(cur)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(first, second) {
		t.Errorf("identical snapshots produced different bytes:\n%s\n---\n%s", first, second)
	}
	if !bytes.Contains(first, []byte("\n  \"motors\": [")) {
		t.Errorf("expected 2-space indented document, got:\n%s", first)
	}
	if _, err := os.Stat(cur + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	var back models.Snapshot
	if err := json.Unmarshal(first, &back); err != nil {
		t.Fatalf("current document is not valid JSON: %v", err)
	}
	if back.Motors[0].Velocity != 140 {
		t.Errorf("unexpected velocity %v", back.Motors[0].Velocity)
	}
}

func TestFileSink_AppendHistoryStaysValid(t *testing.T) {
	s, _, hist := newTestFileSink(t)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := models.HistoryRecord{
			CollectedAt: base.Add(time.Duration(i) * 2 * time.Second),
			Data:        *testSnapshot(float64(130 + i)),
		}
		if err := s.AppendHistory(rec); err != nil {
			t.Fatalf("AppendHistory %d failed: %v", i, err)
		}

		got := readHistory(t, hist)
		if len(got) != i+1 {
			t.Fatalf("after %d appends expected %d records, got %d", i+1, i+1, len(got))
		}
		for j, r := range got {
			if r.Data.Motors[0].Velocity != float64(130+j) {
				t.Errorf("record %d out of order: %v", j, r.Data.Motors[0].Velocity)
			}
			if !r.CollectedAt.Equal(base.Add(time.Duration(j) * 2 * time.Second)) {
				t.Errorf("record %d collected_at = %v", j, r.CollectedAt)
			}
		}
	}
}

func TestFileSink_HistoryResetOnOpen(t *testing.T) {
	dir := t.TempDir()
	cur := filepath.Join(dir, "cur.json")
	hist := filepath.Join(dir, "hist.json")

	s, err := NewFileSink(cur, hist, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	rec := models.HistoryRecord{CollectedAt: time.Now().UTC(), Data: *testSnapshot(1)}
	if err := s.AppendHistory(rec); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := NewFileSink(cur, hist, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	if got := readHistory(t, hist); len(got) != 0 {
		t.Errorf("expected history reset on open, got %d records", len(got))
	}
}

func TestFileSink_AppendAfterClose(t *testing.T) {
	s, _, _ := newTestFileSink(t)
	s.Close()

	err := s.AppendHistory(models.HistoryRecord{CollectedAt: time.Now(), Data: *testSnapshot(1)})
	if !errors.Is(err, models.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestFileSink_WriteCurrentFailure(t *testing.T) {
	dir := t.TempDir()
	// current path whose parent is a regular file cannot be written
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := &FileSink{currentPath: filepath.Join(blocker, "cur.json"), filePerm: 0o644}

	if err := s.WriteCurrent(testSnapshot(1)); !errors.Is(err, models.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

// memFile is an in-memory history file whose Truncate fails while truncErr
// is set
type memFile struct {
	buf      []byte
	truncErr error
}

func (f *memFile) WriteAt(b []byte, off int64) (int, error) {
	if end := int(off) + len(b); end > len(f.buf) {
		f.buf = append(f.buf, make([]byte, end-len(f.buf))...)
	}
	return copy(f.buf[off:], b), nil
}

func (f *memFile) Truncate(size int64) error {
	if f.truncErr != nil {
		return f.truncErr
	}
	if int(size) > len(f.buf) {
		f.buf = append(f.buf, make([]byte, int(size)-len(f.buf))...)
	}
	f.buf = f.buf[:size]
	return nil
}

func (f *memFile) Close() error { return nil }

func TestFileSink_AppendAfterTruncateFailure(t *testing.T) {
	f := &memFile{buf: append([]byte(nil), emptyArray...)}
	s := &FileSink{historyPath: "mem", history: f, tail: 2}
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	f.truncErr = errors.New("disk quota exceeded")
	first := models.HistoryRecord{CollectedAt: base, Data: *testSnapshot(130)}
	if err := s.AppendHistory(first); !errors.Is(err, models.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}

	f.truncErr = nil
	second := models.HistoryRecord{CollectedAt: base.Add(2 * time.Second), Data: *testSnapshot(131)}
	if err := s.AppendHistory(second); err != nil {
		t.Fatalf("AppendHistory failed: %v", err)
	}

	var got []models.HistoryRecord
	if err := json.Unmarshal(f.buf, &got); err != nil {
		t.Fatalf("history is not valid JSON: %v\n%s", err, f.buf)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	for i, want := range []float64{130, 131} {
		if v := got[i].Data.Motors[0].Velocity; v != want {
			t.Errorf("record %d velocity = %v, expected %v", i, v, want)
		}
	}
}

type recordingSink struct {
	current int
	history int
	closed  bool
	err     error
}

func (r *recordingSink) WriteCurrent(*models.Snapshot) error {
	r.current++
	return r.err
}

func (r *recordingSink) AppendHistory(models.HistoryRecord) error {
	r.history++
	return r.err
}

func (r *recordingSink) Close() error {
	r.closed = true
	return r.err
}

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	ok := &recordingSink{}
	bad := &recordingSink{err: boom}
	m := Multi{bad, ok}

	if err := m.WriteCurrent(testSnapshot(1)); !errors.Is(err, boom) {
		t.Errorf("expected joined error, got %v", err)
	}
	if err := m.AppendHistory(models.HistoryRecord{}); !errors.Is(err, boom) {
		t.Errorf("expected joined error, got %v", err)
	}
	if err := m.Close(); !errors.Is(err, boom) {
		t.Errorf("expected joined error, got %v", err)
	}

	// a failing sink must not stop the ones after it
	if ok.current != 1 || ok.history != 1 || !ok.closed {
		t.Errorf("second sink not fully called: %+v", ok)
	}

	if err := (Multi{ok}).WriteCurrent(testSnapshot(1)); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestNop(t *testing.T) {
	var s Sink = Nop{}
	if err := s.WriteCurrent(nil); err != nil {
		t.Error(err)
	}
	if err := s.AppendHistory(models.HistoryRecord{}); err != nil {
		t.Error(err)
	}
	if err := s.Close(); err != nil {
		t.Error(err)
	}
}
