package dispatch

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/tenex-chat/tenex-sub006/internal/subscribers"
	"github.com/tenex-chat/tenex-sub006/internal/types"
)

type countingSubscriber struct {
	mu       sync.Mutex
	name     string
	failures int
	handled  int
}

func (s *countingSubscriber) Name() string { return s.name }

func (s *countingSubscriber) Handle(_ context.Context, _ types.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handled++
	if s.handled <= s.failures {
		return errors.New("transient failure")
	}
	return nil
}

func (s *countingSubscriber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handled
}

func TestDispatcherFansOut(t *testing.T) {
	a := &countingSubscriber{name: "a"}
	b := &countingSubscriber{name: "b"}
	d := New(log.New(io.Discard, "", 0), []subscribers.Subscriber{a, b})

	d.Dispatch(context.Background(), types.EventEnvelope{EventID: "e-1"})

	waitFor(t, "both subscribers to handle the event", func() bool {
		return a.count() == 1 && b.count() == 1
	})
}

func TestDispatcherRetriesFailures(t *testing.T) {
	flaky := &countingSubscriber{name: "flaky", failures: 2}
	d := New(log.New(io.Discard, "", 0), []subscribers.Subscriber{flaky})

	d.Dispatch(context.Background(), types.EventEnvelope{EventID: "e-1"})

	waitFor(t, "subscriber to succeed on the third attempt", func() bool {
		return flaky.count() == 3
	})
}

func TestDispatcherGivesUpAfterRetries(t *testing.T) {
	broken := &countingSubscriber{name: "broken", failures: 100}
	d := New(log.New(io.Discard, "", 0), []subscribers.Subscriber{broken})

	d.Dispatch(context.Background(), types.EventEnvelope{EventID: "e-1"})

	waitFor(t, "dispatcher to exhaust retries", func() bool {
		return broken.count() == 3
	})
	time.Sleep(300 * time.Millisecond)
	if got := broken.count(); got != 3 {
		t.Fatalf("dispatcher should stop after 3 attempts, got %d", got)
	}
}

func TestDispatcherRetryPolicyIsConfigurable(t *testing.T) {
	broken := &countingSubscriber{name: "broken", failures: 100}
	d := New(log.New(io.Discard, "", 0), []subscribers.Subscriber{broken},
		WithRetry(1, 10*time.Millisecond))

	d.Dispatch(context.Background(), types.EventEnvelope{EventID: "e-1"})

	waitFor(t, "single attempt to happen", func() bool {
		return broken.count() == 1
	})
	time.Sleep(100 * time.Millisecond)
	if got := broken.count(); got != 1 {
		t.Fatalf("a one-attempt policy must not retry, got %d", got)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
