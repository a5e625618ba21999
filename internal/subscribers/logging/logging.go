package logging

import (
	"context"
	"io"
	"log"

	"github.com/tenex-chat/tenex-sub006/internal/types"
)

type Subscriber struct {
	logger *log.Logger
}

func New(logger *log.Logger) *Subscriber {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Subscriber{logger: logger}
}

func (s *Subscriber) Name() string {
	return "logging"
}

func (s *Subscriber) Handle(_ context.Context, event types.EventEnvelope) error {
	s.logger.Printf("event type=%s event_id=%s agent=%s conversation=%s delegation=%s",
		event.EventType, event.EventID, event.Routing.AgentID, event.Routing.ConversationID, event.Routing.DelegationEventID)
	return nil
}
