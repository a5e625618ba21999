package orchestrator

import (
	"context"
	"errors"
	"log"
	"sync"
)

var ErrQueueFull = errors.New("orchestrator: run queue full")

type task func(context.Context)

// scheduler serializes model-loop runs per (agent, conversation) key: one
// worker goroutine per key, so at most one loop execution is active for a
// record at any time. Routing decisions happen before submission and are
// never blocked behind an in-flight run; different keys run fully in
// parallel.
type scheduler struct {
	logger    *log.Logger
	queueSize int

	mu      sync.Mutex
	workers map[string]*worker
}

type worker struct {
	ch chan task
}

func newScheduler(logger *log.Logger, queueSize int) *scheduler {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &scheduler{
		logger:    logger,
		queueSize: queueSize,
		workers:   make(map[string]*worker),
	}
}

func (s *scheduler) Submit(key string, fn task) error {
	w := s.workerFor(key)

	select {
	case w.ch <- fn:
		return nil
	default:
		s.logger.Printf("run queue full key=%s", key)
		return ErrQueueFull
	}
}

func (s *scheduler) workerFor(key string) *worker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.workers[key]; ok {
		return w
	}

	w := &worker{ch: make(chan task, s.queueSize)}
	s.workers[key] = w

	go func() {
		for fn := range w.ch {
			fn(context.Background())
		}
	}()

	return w
}
