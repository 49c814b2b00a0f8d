// Package events fans ledger events out to external sinks: the Redis bus,
// the audit log, chat notifications and the process log.
//
// The ledger calls Emit while holding its own lock, so Emit only appends to
// an unbounded queue. Run drains the queue on its own goroutine and delivers
// each event to every sink in emission order.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// Sink receives delivered events. Deliver may be retried, so it should be
// idempotent on Event.ID.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e domain.Event) error
}

// Dispatcher is an in-order, non-blocking event queue. It implements
// domain.EventSink.
type Dispatcher struct {
	sinks    []Sink
	logger   *slog.Logger
	newRetry func() backoff.BackOff

	mu     sync.Mutex
	queue  []domain.Event
	wake   chan struct{}
	closed bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRetry overrides the per-delivery retry policy.
func WithRetry(f func() backoff.BackOff) DispatcherOption {
	return func(d *Dispatcher) { d.newRetry = f }
}

// DefaultRetry retries with exponential backoff for up to maxElapsed.
func DefaultRetry(maxElapsed time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 200 * time.Millisecond
		b.MaxElapsedTime = maxElapsed
		return b
	}
}

// NewDispatcher creates a Dispatcher delivering to sinks.
func NewDispatcher(sinks []Sink, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks:    sinks,
		logger:   logger.With(slog.String("component", "events")),
		newRetry: DefaultRetry(30 * time.Second),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Emit queues e for delivery. It never blocks. Events emitted after Run has
// returned are dropped.
func (d *Dispatcher) Emit(e domain.Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("event dropped after shutdown",
			slog.String("event_id", e.ID),
			slog.String("type", string(e.Type)),
		)
		return
	}
	d.queue = append(d.queue, e)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued, undelivered events.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Run delivers queued events until ctx is cancelled, then flushes what is
// left (one attempt per sink, bounded by drainTimeout) and returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	const drainTimeout = 5 * time.Second

	for {
		batch := d.take()
		for _, e := range batch {
			d.deliver(ctx, e, true)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.closed = true
			rest := d.queue
			d.queue = nil
			d.mu.Unlock()

			flushCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			for _, e := range rest {
				d.deliver(flushCtx, e, false)
			}
			cancel()
			return nil
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) take() []domain.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	batch := d.queue
	d.queue = nil
	return batch
}

// deliver hands e to every sink. A sink that still fails after retries is
// logged and skipped; the queue keeps moving.
func (d *Dispatcher) deliver(ctx context.Context, e domain.Event, retry bool) {
	for _, s := range d.sinks {
		op := func() error { return s.Deliver(ctx, e) }

		var err error
		if retry {
			err = backoff.RetryNotify(op, backoff.WithContext(d.newRetry(), ctx),
				func(err error, wait time.Duration) {
					d.logger.WarnContext(ctx, "event delivery failed, retrying",
						slog.String("sink", s.Name()),
						slog.String("event_id", e.ID),
						slog.String("error", err.Error()),
						slog.Duration("retry_in", wait),
					)
				})
		} else {
			err = op()
		}
		if err != nil {
			d.logger.ErrorContext(ctx, "event delivery abandoned",
				slog.String("sink", s.Name()),
				slog.String("event_id", e.ID),
				slog.String("type", string(e.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}

var _ domain.EventSink = (*Dispatcher)(nil)
