// Package refresh drives the periodic collection cycle: read the source,
// transform, commit to the store, mirror to the sink, report an Event.
//
// A Scheduler is either Stopped or Running. While Running, one goroutine owns
// a ticker and executes cycles back to back at most once per period. Cycles
// never overlap, including cycles triggered through RunOnce, and a cycle that
// has begun always runs to completion even if the scheduler is stopped.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/robotd/internal/logger"
	"github.com/rewired-gh/robotd/internal/models"
	"github.com/rewired-gh/robotd/internal/persistence"
	"github.com/rewired-gh/robotd/internal/source"
	"github.com/rewired-gh/robotd/internal/storage"
	"github.com/rewired-gh/robotd/internal/transform"
)

// ErrAlreadyRunning is returned by Start on a Running scheduler.
var ErrAlreadyRunning = errors.New("scheduler already running")

// State is the scheduler lifecycle state
type State int32

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// Clock allows for deterministic testing
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options configures a Scheduler. Zero values get defaults.
type Options struct {
	Period     time.Duration // default 2s
	RunOnStart bool
	Sink       persistence.Sink // default persistence.Nop
	Observers  []Observer
	Clock      Clock
}

// Scheduler runs refresh cycles against one store.
type Scheduler struct {
	source      source.Source
	transformer transform.Transformer
	store       *storage.Store
	sink        persistence.Sink
	observers   []Observer
	clock       Clock
	period      time.Duration
	runOnStart  bool

	// newTicker is swapped in tests to drive ticks by hand
	newTicker func(d time.Duration) (<-chan time.Time, func())

	cycleMu sync.Mutex // held for the whole of a cycle

	mu     sync.Mutex // guards state, cancel, done
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Stopped scheduler.
func New(src source.Source, tr transform.Transformer, store *storage.Store, opts Options) (*Scheduler, error) {
	if src == nil {
		return nil, errors.New("source is required")
	}
	if tr == nil {
		return nil, errors.New("transformer is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Period < 0 {
		return nil, fmt.Errorf("invalid period %v", opts.Period)
	}
	if opts.Period == 0 {
		opts.Period = 2 * time.Second
	}
	if opts.Sink == nil {
		opts.Sink = persistence.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}

	return &Scheduler{
		source:      src,
		transformer: tr,
		store:       store,
		sink:        opts.Sink,
		observers:   opts.Observers,
		clock:       opts.Clock,
		period:      opts.Period,
		runOnStart:  opts.RunOnStart,
		newTicker:   stdTicker,
	}, nil
}

func stdTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start moves the scheduler to Running and returns immediately. The loop ends
// on Stop or when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.state = StateRunning
	s.cancel = cancel
	s.done = done

	logger.Info("Starting refresh scheduler (period: %v, run_on_start: %v)", s.period, s.runOnStart)
	go s.loop(loopCtx, done)
	return nil
}

// Stop moves the scheduler to Stopped. It waits for an in-flight cycle to
// commit and guarantees no further cycle is scheduled. Stop on a Stopped
// scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.done == done {
			s.cancel()
			s.state = StateStopped
			s.cancel = nil
			s.done = nil
		}
		s.mu.Unlock()
		close(done)
		logger.Info("Refresh scheduler stopped")
	}()

	// period counts from the start of the initial cycle
	ticks, stop := s.newTicker(s.period)
	defer stop()

	if s.runOnStart {
		logger.Debug("Running initial refresh cycle")
		s.runCycle(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			// select picks randomly when both are ready
			if ctx.Err() != nil {
				return
			}
			s.runCycle(ctx)
		}
	}
}

// RunOnce executes one cycle synchronously, regardless of state. It waits for
// any cycle already in progress.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.runCycle(ctx).Err
}

func (s *Scheduler) runCycle(ctx context.Context) Event {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	// a started cycle is never interrupted
	ctx = context.WithoutCancel(ctx)

	ev := Event{
		CycleID:   uuid.NewString(),
		StartedAt: s.clock.Now(),
	}
	s.execute(ctx, &ev)
	ev.Duration = s.clock.Now().Sub(ev.StartedAt)
	ev.Records = s.store.Len()

	s.report(ev)
	return ev
}

func (s *Scheduler) execute(ctx context.Context, ev *Event) {
	raw, err := s.source.Read(ctx)
	if err == nil && raw == nil {
		err = errors.New("source returned no data")
	}
	if err != nil {
		ev.Kind = KindAcquisitionFailed
		ev.Err = ensureKind(err, models.ErrAcquisition)
		return
	}

	snap, err := s.transformer.Transform(raw)
	if err == nil && snap == nil {
		err = errors.New("transformer returned no data")
	}
	if err != nil {
		ev.Kind = KindTransformFailed
		ev.Err = ensureKind(err, models.ErrTransform)
		return
	}

	record, err := s.store.Update(snap, s.clock.Now())
	if err != nil {
		ev.Kind = KindTransformFailed
		ev.Err = ensureKind(err, models.ErrTransform)
		return
	}
	ev.CollectedAt = record.CollectedAt
	ev.Motors = len(record.Data.Motors)
	ev.Pallets = len(record.Data.Pallets)
	ev.Snapshot = &record.Data
	ev.Kind = KindCommitted

	// best-effort: the in-memory update stands either way
	if err := errors.Join(s.sink.WriteCurrent(&record.Data), s.sink.AppendHistory(record)); err != nil {
		ev.Kind = KindPersistenceFailed
		ev.Err = ensureKind(err, models.ErrPersistence)
	}
}

func (s *Scheduler) report(ev Event) {
	switch ev.Kind {
	case KindCommitted:
		logger.Info("Refresh %s", ev)
	case KindPersistenceFailed:
		logger.Warn("Refresh %s", ev)
	default:
		logger.Error("Refresh %s", ev)
	}

	for _, o := range s.observers {
		o.Observe(ev)
	}
}

func ensureKind(err, kind error) error {
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
