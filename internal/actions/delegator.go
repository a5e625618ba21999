package actions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/tenex-chat/tenex-sub006/internal/batch"
	"github.com/tenex-chat/tenex-sub006/internal/publish"
	"github.com/tenex-chat/tenex-sub006/internal/ral"
	"github.com/tenex-chat/tenex-sub006/internal/types"
	"github.com/tenex-chat/tenex-sub006/internal/workspace"
)

// PairingOpener starts a supervision session for a delegation issued with
// supervision enabled. Declared here so the delegator does not depend on
// the pairing package.
type PairingOpener interface {
	Open(ctx context.Context, delegationEventID, supervisorAgentID, supervisorConversationID string, interval int)
}

// Caller carries the issuing loop's identity and state into an action.
type Caller struct {
	Record  ral.Record
	TraceID string
}

func (c Caller) origin() publish.Origin {
	return publish.Origin{
		AgentID:        c.Record.Key.AgentID,
		ConversationID: c.Record.Key.ConversationID,
		TraceID:        c.TraceID,
	}
}

// Target is one delegation recipient together with its request text; a
// fork carries one target per sibling.
type Target struct {
	RecipientID    string
	RecipientLabel string
	Request        string
}

type DelegateOptions struct {
	IsolatedWorkspace bool
	Supervise         bool
	SuperviseInterval int
}

const defaultSuperviseInterval = 5

// Delegator implements the delegation-issuing actions. Every method
// returns a stop signal on success; none of them wait for a reply.
type Delegator struct {
	logger     *log.Logger
	publisher  publish.Publisher
	batches    batch.Registry
	workspaces workspace.Provisioner
	pairing    PairingOpener
}

func NewDelegator(logger *log.Logger, publisher publish.Publisher, batches batch.Registry, workspaces workspace.Provisioner, pairing PairingOpener) *Delegator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Delegator{
		logger:     logger,
		publisher:  publisher,
		batches:    batches,
		workspaces: workspaces,
		pairing:    pairing,
	}
}

// Delegate issues a work delegation to one or more recipients. Multiple
// targets form a fork: one batch, N outbound events, and a single stop
// signal listing all N, so the calling loop pauses once.
func (d *Delegator) Delegate(ctx context.Context, caller Caller, targets []Target, opts DelegateOptions) (Result, error) {
	if len(targets) == 0 {
		return Result{}, errors.New("delegate: at least one target is required")
	}

	items := make([]batch.Item, len(targets))
	for i, t := range targets {
		items[i] = batch.Item{RecipientID: t.RecipientID, RecipientLabel: t.RecipientLabel, Request: t.Request}
	}
	b, plans, err := d.batches.CreateBatch(ctx, caller.Record.Key.AgentID, caller.Record.Key.ConversationID, items)
	if err != nil {
		return Result{}, fmt.Errorf("create delegation batch: %w", err)
	}

	workspacePath := ""
	if opts.IsolatedWorkspace && d.workspaces != nil {
		handle, err := d.workspaces.Provision(ctx, caller.Record.Key.AgentID, caller.Record.Key.ConversationID)
		if err != nil {
			return Result{}, fmt.Errorf("provision workspace: %w", err)
		}
		workspacePath = handle.Path
	}

	delegations := make([]publish.Delegation, len(plans))
	for i, plan := range plans {
		delegations[i] = publish.Delegation{
			EventID:         plan.EventID,
			RecipientID:     plan.Item.RecipientID,
			RecipientLabel:  plan.Item.RecipientLabel,
			Request:         plan.Item.Request,
			Kind:            types.DelegationKindWork,
			BatchID:         b.BatchID,
			SiblingEventIDs: plan.SiblingEventIDs,
			WorkspacePath:   workspacePath,
		}
	}
	eventIDs, err := d.publisher.PublishDelegations(ctx, caller.origin(), delegations)
	if err != nil {
		return Result{}, fmt.Errorf("publish delegations: %w", err)
	}

	pending := make([]ral.PendingDelegation, len(plans))
	for i, plan := range plans {
		pending[i] = ral.PendingDelegation{
			EventID:        eventIDs[i],
			RecipientID:    plan.Item.RecipientID,
			RecipientLabel: plan.Item.RecipientLabel,
			Request:        plan.Item.Request,
			Kind:           types.DelegationKindWork,
			BatchID:        b.BatchID,
		}
	}

	if opts.Supervise && d.pairing != nil {
		interval := opts.SuperviseInterval
		if interval <= 0 {
			interval = defaultSuperviseInterval
		}
		for _, eventID := range eventIDs {
			d.pairing.Open(ctx, eventID, caller.Record.Key.AgentID, caller.Record.Key.ConversationID, interval)
		}
	}

	d.logger.Printf("delegation fork issued agent=%s conversation=%s batch=%s targets=%d",
		caller.Record.Key.AgentID, caller.Record.Key.ConversationID, b.BatchID, len(targets))
	return StopResult(pending...), nil
}

// Ask publishes a question to a human and suspends the loop until the
// answer arrives as a normal inbound message.
func (d *Delegator) Ask(ctx context.Context, caller Caller, question string, choices []string) (Result, error) {
	eventID, err := d.publisher.PublishAnswerRequest(ctx, caller.origin(), question, choices)
	if err != nil {
		return Result{}, fmt.Errorf("publish answer request: %w", err)
	}
	pd := ral.PendingDelegation{
		EventID: eventID,
		Request: question,
		Kind:    types.DelegationKindHumanQuestion,
		Choices: choices,
	}
	d.logger.Printf("answer request issued agent=%s conversation=%s event_id=%s",
		caller.Record.Key.AgentID, caller.Record.Key.ConversationID, eventID)
	return StopResult(pd), nil
}

// FollowUp addresses the recipient of an earlier completed delegation; the
// previous response is located on the caller's record.
func (d *Delegator) FollowUp(ctx context.Context, caller Caller, recipientID, request string) (Result, error) {
	previous, ok := caller.Record.LastResponseFrom(recipientID)
	if !ok {
		return Result{}, fmt.Errorf("follow-up: no completed delegation from recipient %q", recipientID)
	}
	eventID, err := d.publisher.PublishFollowUp(ctx, caller.origin(), recipientID, request, previous.ResponseEventID)
	if err != nil {
		return Result{}, fmt.Errorf("publish follow-up: %w", err)
	}
	pd := ral.PendingDelegation{
		EventID:        eventID,
		RecipientID:    recipientID,
		RecipientLabel: previous.RecipientLabel,
		Request:        request,
		Kind:           types.DelegationKindFollowUp,
	}
	d.logger.Printf("follow-up issued agent=%s conversation=%s recipient=%s event_id=%s",
		caller.Record.Key.AgentID, caller.Record.Key.ConversationID, recipientID, eventID)
	return StopResult(pd), nil
}

// DelegateExternal hands work to a recipient outside the local agent pool.
func (d *Delegator) DelegateExternal(ctx context.Context, caller Caller, target Target) (Result, error) {
	delegation := publish.Delegation{
		RecipientID:    target.RecipientID,
		RecipientLabel: target.RecipientLabel,
		Request:        target.Request,
		Kind:           types.DelegationKindExternal,
	}
	eventIDs, err := d.publisher.PublishDelegations(ctx, caller.origin(), []publish.Delegation{delegation})
	if err != nil {
		return Result{}, fmt.Errorf("publish external delegation: %w", err)
	}
	pd := ral.PendingDelegation{
		EventID:        eventIDs[0],
		RecipientID:    target.RecipientID,
		RecipientLabel: target.RecipientLabel,
		Request:        target.Request,
		Kind:           types.DelegationKindExternal,
	}
	d.logger.Printf("external delegation issued agent=%s conversation=%s recipient=%s event_id=%s",
		caller.Record.Key.AgentID, caller.Record.Key.ConversationID, target.RecipientID, eventIDs[0])
	return StopResult(pd), nil
}
