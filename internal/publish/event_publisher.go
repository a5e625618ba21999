package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/tenex-chat/tenex-sub006/internal/dispatch"
	"github.com/tenex-chat/tenex-sub006/internal/ids"
	"github.com/tenex-chat/tenex-sub006/internal/types"
)

// EventPublisher builds versioned envelopes and hands them to the
// dispatcher for delivery to all subscribers.
type EventPublisher struct {
	logger      *log.Logger
	dispatcher  *dispatch.Dispatcher
	componentID string
}

func NewEventPublisher(logger *log.Logger, dispatcher *dispatch.Dispatcher, componentID string) *EventPublisher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if componentID == "" {
		componentID = "orchestrator-core"
	}
	return &EventPublisher{logger: logger, dispatcher: dispatcher, componentID: componentID}
}

func (p *EventPublisher) PublishDelegations(ctx context.Context, from Origin, delegations []Delegation) ([]string, error) {
	eventIDs := make([]string, 0, len(delegations))
	for _, d := range delegations {
		eventID := d.EventID
		if eventID == "" {
			eventID = ids.New()
		}
		payload := types.DelegationRequestedPayload{
			Request:         d.Request,
			Kind:            d.Kind,
			RecipientID:     d.RecipientID,
			RecipientLabel:  d.RecipientLabel,
			BatchID:         d.BatchID,
			SiblingEventIDs: d.SiblingEventIDs,
			WorkspacePath:   d.WorkspacePath,
		}
		event, err := p.envelope(from, eventID, types.EventTypeDelegationRequested, d.RecipientID, payload)
		if err != nil {
			return nil, err
		}
		p.dispatcher.Dispatch(ctx, event)
		eventIDs = append(eventIDs, eventID)
	}
	return eventIDs, nil
}

func (p *EventPublisher) PublishAnswerRequest(ctx context.Context, from Origin, question string, choices []string) (string, error) {
	eventID := ids.New()
	event, err := p.envelope(from, eventID, types.EventTypeAnswerRequested, "", types.AnswerRequestedPayload{
		Question: question,
		Choices:  choices,
	})
	if err != nil {
		return "", err
	}
	p.dispatcher.Dispatch(ctx, event)
	return eventID, nil
}

func (p *EventPublisher) PublishFollowUp(ctx context.Context, from Origin, recipientID, request, previousResponseEventID string) (string, error) {
	eventID := ids.New()
	event, err := p.envelope(from, eventID, types.EventTypeFollowUpRequested, recipientID, types.FollowUpRequestedPayload{
		Request:                 request,
		PreviousResponseEventID: previousResponseEventID,
	})
	if err != nil {
		return "", err
	}
	p.dispatcher.Dispatch(ctx, event)
	return eventID, nil
}

func (p *EventPublisher) PublishAcknowledgment(ctx context.Context, from Origin, text, inReplyTo string) (string, error) {
	eventID := ids.New()
	event, err := p.envelope(from, eventID, types.EventTypeAcknowledgmentCreated, "", types.AcknowledgmentCreatedPayload{
		Text:      text,
		InReplyTo: inReplyTo,
	})
	if err != nil {
		return "", err
	}
	p.dispatcher.Dispatch(ctx, event)
	return eventID, nil
}

func (p *EventPublisher) envelope(from Origin, eventID string, eventType types.EventType, targetAgentID string, payload any) (types.EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return types.EventEnvelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	routing := types.EventRouting{
		AgentID:        targetAgentID,
		ConversationID: from.ConversationID,
	}
	return types.EventEnvelope{
		Version:    types.VersionV1,
		EventID:    eventID,
		TraceID:    from.TraceID,
		OccurredAt: time.Now().UTC(),
		EventType:  eventType,
		Source: types.EventSource{
			ComponentType: types.ComponentTypeOrchestrator,
			ComponentID:   p.componentID,
			AgentID:       from.AgentID,
		},
		Routing: routing,
		Payload: data,
	}, nil
}
