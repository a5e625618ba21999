// Package dispatch fans published events out to subscribers. Each
// subscriber gets its own delivery goroutine with bounded retries, so one
// slow or failing sink never holds back the others.
package dispatch

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/tenex-chat/tenex-sub006/internal/subscribers"
	"github.com/tenex-chat/tenex-sub006/internal/types"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 150 * time.Millisecond
)

type Option func(*Dispatcher)

// WithRetry overrides the per-subscriber attempt count and the pause
// between attempts. Non-positive values keep the defaults.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.maxAttempts = attempts
		}
		if backoff > 0 {
			d.backoff = backoff
		}
	}
}

type Dispatcher struct {
	logger      *log.Logger
	subs        []subscribers.Subscriber
	maxAttempts int
	backoff     time.Duration
}

func New(logger *log.Logger, subs []subscribers.Subscriber, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	d := &Dispatcher{
		logger:      logger,
		subs:        subs,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

func (d *Dispatcher) Dispatch(ctx context.Context, event types.EventEnvelope) {
	for _, sub := range d.subs {
		s := sub
		go d.deliver(ctx, s, event)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sub subscribers.Subscriber, event types.EventEnvelope) {
	for attempt := 1; ; attempt++ {
		err := sub.Handle(ctx, event)
		if err == nil {
			return
		}

		d.logger.Printf("delivery failed subscriber=%s event_id=%s type=%s attempt=%d/%d err=%v",
			sub.Name(), event.EventID, event.EventType, attempt, d.maxAttempts, err)
		if attempt >= d.maxAttempts {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.backoff):
		}
	}
}
