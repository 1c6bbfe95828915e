package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rewired-gh/robotd/internal/logger"
	"github.com/rewired-gh/robotd/internal/models"
)

var (
	emptyArray = []byte("[\n]\n")
	closing    = []byte("\n]\n")
)

// historyFile is the part of *os.File the history document needs
type historyFile interface {
	WriteAt(b []byte, off int64) (int, error)
	Truncate(size int64) error
	Close() error
}

// FileSink keeps two pretty-printed JSON documents: the current snapshot,
// rewritten whole on every cycle, and the history array, extended in place.
//
// The history file is truncated when the sink is opened so that it mirrors
// the store of this process.
type FileSink struct {
	currentPath string
	historyPath string
	filePerm    os.FileMode

	mu      sync.Mutex
	history historyFile
	tail    int64 // offset of the closing ']'
	count   int
}

// NewFileSink creates the parent directories and resets the history document
// to an empty array.
func NewFileSink(currentPath, historyPath string, filePerm, dirPerm os.FileMode) (*FileSink, error) {
	if filePerm == 0 {
		filePerm = 0o644
	}
	if dirPerm == 0 {
		dirPerm = 0o755
	}

	for _, p := range []string{currentPath, historyPath} {
		if err := os.MkdirAll(filepath.Dir(p), dirPerm); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	// Clean up a stale temp file from a previous crash
	tempPath := currentPath + ".tmp"
	if _, err := os.Stat(tempPath); err == nil {
		_ = os.Remove(tempPath)
	}

	f, err := os.OpenFile(historyPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	if _, err := f.WriteAt(emptyArray, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize history file: %w", err)
	}

	logger.Debug("Persistence: current=%s history=%s", currentPath, historyPath)

	return &FileSink{
		currentPath: currentPath,
		historyPath: historyPath,
		filePerm:    filePerm,
		history:     f,
		tail:        2,
	}, nil
}

// WriteCurrent marshals the snapshot and swaps it in with a rename, so
// readers of the file see either the old or the new document.
func (s *FileSink) WriteCurrent(snapshot *models.Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal current: %w", models.ErrPersistence, err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	// Write to temporary file first (atomic write)
	tempPath := s.currentPath + ".tmp"
	if err := os.WriteFile(tempPath, data, s.filePerm); err != nil {
		return fmt.Errorf("%w: write current: %w", models.ErrPersistence, err)
	}
	if err := os.Rename(tempPath, s.currentPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("%w: rename current: %w", models.ErrPersistence, err)
	}
	return nil
}

// AppendHistory overwrites the closing bracket with the new element and a
// fresh bracket. The document is valid JSON before and after each call.
func (s *FileSink) AppendHistory(record models.HistoryRecord) error {
	data, err := json.MarshalIndent(record, "  ", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal history record: %w", models.ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.history == nil {
		return fmt.Errorf("%w: history file closed", models.ErrPersistence)
	}

	var (
		off int64
		buf []byte
	)
	if s.count == 0 {
		// "[\n" + "  {...}\n]\n"
		off = s.tail
		buf = make([]byte, 0, len(data)+5)
		buf = append(buf, "  "...)
	} else {
		// replace the newline before ']' with ",\n  {...}\n]\n"
		off = s.tail - 1
		buf = make([]byte, 0, len(data)+7)
		buf = append(buf, ",\n  "...)
	}
	buf = append(buf, data...)
	buf = append(buf, closing...)

	if _, err := s.history.WriteAt(buf, off); err != nil {
		s.restoreLocked()
		return fmt.Errorf("%w: append history: %w", models.ErrPersistence, err)
	}

	// the element and bracket are on disk; stale bytes past end are cut on
	// the next successful append
	end := off + int64(len(buf))
	s.tail = end - 2
	s.count++
	if err := s.history.Truncate(end); err != nil {
		return fmt.Errorf("%w: truncate history: %w", models.ErrPersistence, err)
	}
	return nil
}

// restoreLocked puts the closing bracket back after a partial write.
func (s *FileSink) restoreLocked() {
	var err error
	if s.count == 0 {
		_, err = s.history.WriteAt(emptyArray, 0)
	} else {
		_, err = s.history.WriteAt(closing, s.tail-1)
	}
	if err == nil {
		err = s.history.Truncate(s.tail + 2)
	}
	if err != nil {
		logger.Error("Persistence: failed to restore history file %s: %v", s.historyPath, err)
	}
}

// Close releases the history file handle.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.history == nil {
		return nil
	}
	err := s.history.Close()
	s.history = nil
	return err
}

var _ Sink = (*FileSink)(nil)
