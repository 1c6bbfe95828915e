package telegram

import (
	"sync"

	"github.com/rewired-gh/robotd/internal/logger"
	"github.com/rewired-gh/robotd/internal/refresh"
)

// notifier is implemented by *Client
type notifier interface {
	SendFailure(ev refresh.Event) error
	SendRecovery(failures int, ev refresh.Event) error
}

type alert struct {
	failures int // 0 for a failure alert
	ev       refresh.Event
}

// Alerter turns the cycle event stream into one alert when a failure streak
// begins and one when it ends. Delivery happens on a background goroutine so
// retries never delay the refresh loop.
type Alerter struct {
	n notifier

	mu       sync.Mutex
	failures int

	queue chan alert
	wg    sync.WaitGroup
	once  sync.Once
}

// NewAlerter starts the delivery goroutine. Call Close to drain it.
func NewAlerter(c *Client) *Alerter {
	return newAlerter(c)
}

func newAlerter(n notifier) *Alerter {
	a := &Alerter{n: n, queue: make(chan alert, 16)}
	a.wg.Add(1)
	go a.deliver()
	return a
}

// Observe implements refresh.Observer. Any cycle with an error, including a
// persistence failure, counts toward the streak.
func (a *Alerter) Observe(ev refresh.Event) {
	a.mu.Lock()
	var (
		pending bool
		out     alert
	)
	if ev.Err != nil {
		a.failures++
		if a.failures == 1 {
			pending, out = true, alert{ev: ev}
		}
	} else {
		if a.failures > 0 {
			pending, out = true, alert{failures: a.failures, ev: ev}
		}
		a.failures = 0
	}
	a.mu.Unlock()

	if !pending {
		return
	}
	select {
	case a.queue <- out:
	default:
		logger.Warn("Telegram alert queue full, dropping alert for cycle %s", ev.CycleID)
	}
}

func (a *Alerter) deliver() {
	defer a.wg.Done()
	for al := range a.queue {
		if al.failures == 0 {
			if err := a.n.SendFailure(al.ev); err != nil {
				logger.Warn("Failed to send error notification to Telegram: %v", err)
			}
			continue
		}
		if err := a.n.SendRecovery(al.failures, al.ev); err != nil {
			logger.Warn("Failed to send recovery notification to Telegram: %v", err)
		}
	}
}

// Close flushes queued alerts. Observe must not be called afterwards.
func (a *Alerter) Close() {
	a.once.Do(func() { close(a.queue) })
	a.wg.Wait()
}

var _ refresh.Observer = (*Alerter)(nil)
