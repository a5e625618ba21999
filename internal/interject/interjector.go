// Package interject watches queued injections and steps in when the owning
// loop does not consume them in time: the sender gets an acknowledgment,
// the queued content is rewritten into a system status note, and a stuck
// action can be aborted.
package interject

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/tenex-chat/tenex-sub006/internal/publish"
	"github.com/tenex-chat/tenex-sub006/internal/ral"
)

const defaultDelay = 30 * time.Second

type Option func(*Interjector)

func WithDelay(d time.Duration) Option {
	return func(i *Interjector) {
		if d > 0 {
			i.delay = d
		}
	}
}

type Interjector struct {
	logger    *log.Logger
	store     ral.Store
	publisher publish.Publisher
	gen       Generator
	delay     time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func New(logger *log.Logger, store ral.Store, publisher publish.Publisher, gen Generator, opts ...Option) *Interjector {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	i := &Interjector{
		logger:    logger,
		store:     store,
		publisher: publisher,
		gen:       gen,
		delay:     defaultDelay,
		timers:    make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i
}

// Watch arms a timer for a queued user injection. System injections are
// never watched; they have no sender waiting on a reply.
func (i *Interjector) Watch(rec ral.Record, inj ral.QueuedInjection) {
	if inj.Kind != ral.InjectionKindUser {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	if _, ok := i.timers[inj.ID]; ok {
		return
	}
	i.timers[inj.ID] = time.AfterFunc(i.delay, func() {
		i.fire(rec.Key, inj)
	})
}

// CancelWatch disarms timers for injections the loop has consumed.
func (i *Interjector) CancelWatch(injectionIDs ...string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, id := range injectionIDs {
		if timer, ok := i.timers[id]; ok {
			timer.Stop()
			delete(i.timers, id)
		}
	}
}

func (i *Interjector) fire(key ral.Key, inj ral.QueuedInjection) {
	i.mu.Lock()
	delete(i.timers, inj.ID)
	closed := i.closed
	i.mu.Unlock()
	if closed {
		return
	}

	ctx := context.Background()
	summary, err := i.store.Summarize(ctx, key.AgentID, key.ConversationID)
	if err != nil {
		i.logger.Printf("interject skipped, no active record record=%s injection=%s", key, inj.ID)
		return
	}

	out, err := i.gen.Generate(ctx, summary, inj.Content)
	if err != nil {
		// A failed generation never blocks the loop; the content stays
		// queued and is delivered at the next injection point.
		i.logger.Printf("interject generation failed record=%s injection=%s err=%v", key, inj.ID, err)
		return
	}

	// The swap is the commit point. A false return means the loop drained
	// the queue first; the original content won, so no acknowledgment.
	swapped, err := i.store.SwapInjection(ctx, key, inj.ID, out.Note)
	if err != nil || !swapped {
		i.logger.Printf("interject lost race record=%s injection=%s err=%v", key, inj.ID, err)
		return
	}

	origin := publish.Origin{AgentID: key.AgentID, ConversationID: key.ConversationID}
	if _, err := i.publisher.PublishAcknowledgment(ctx, origin, out.Ack, inj.SourceEventID); err != nil {
		i.logger.Printf("publish acknowledgment failed record=%s injection=%s err=%v", key, inj.ID, err)
	}

	if out.Abort {
		if err := i.store.CancelCurrentAction(ctx, key); err != nil {
			i.logger.Printf("cancel current action failed record=%s err=%v", key, err)
		} else {
			i.logger.Printf("current action aborted record=%s injection=%s", key, inj.ID)
		}
	}
	i.logger.Printf("interjection delivered record=%s injection=%s abort=%t", key, inj.ID, out.Abort)
}

func (i *Interjector) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	for id, timer := range i.timers {
		timer.Stop()
		delete(i.timers, id)
	}
}
