// Package orchestrator drives reasoning-action loops. Given an inbound
// trigger it decides whether to start a fresh loop, resume a paused one,
// or queue the trigger for later, then runs the model loop until it ends
// or an action returns a stop signal.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/tenex-chat/tenex-sub006/internal/actions"
	"github.com/tenex-chat/tenex-sub006/internal/batch"
	"github.com/tenex-chat/tenex-sub006/internal/dispatch"
	"github.com/tenex-chat/tenex-sub006/internal/ids"
	"github.com/tenex-chat/tenex-sub006/internal/model"
	"github.com/tenex-chat/tenex-sub006/internal/ral"
	"github.com/tenex-chat/tenex-sub006/internal/types"
)

// Watcher is notified about queued injections so a timeout responder can
// acknowledge content the loop has not consumed yet.
type Watcher interface {
	Watch(rec ral.Record, inj ral.QueuedInjection)
	CancelWatch(injectionIDs ...string)
}

// ActionExecutor runs a model-requested action call against the loop's own
// state. Delegation actions return stop signals through here.
type ActionExecutor interface {
	Execute(ctx context.Context, rec ral.Record, traceID string, call actions.Call) (actions.Result, error)
}

type Option func(*Orchestrator)

func WithWatcher(w Watcher) Option {
	return func(o *Orchestrator) {
		o.watcher = w
	}
}

func WithActionExecutor(e ActionExecutor) Option {
	return func(o *Orchestrator) {
		o.executor = e
	}
}

func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) {
		o.systemPrompt = prompt
	}
}

func WithQueueSize(size int) Option {
	return func(o *Orchestrator) {
		o.queueSize = size
	}
}

func WithActionDefinitions(defs []model.ActionDefinition) Option {
	return func(o *Orchestrator) {
		o.actionDefs = defs
	}
}

type Orchestrator struct {
	logger     *log.Logger
	store      ral.Store
	batches    batch.Registry
	runner     model.Runner
	dispatcher *dispatch.Dispatcher
	watcher    Watcher
	executor   ActionExecutor

	systemPrompt string
	queueSize    int
	actionDefs   []model.ActionDefinition
	scheduler    *scheduler
}

func New(logger *log.Logger, store ral.Store, batches batch.Registry, runner model.Runner, dispatcher *dispatch.Dispatcher, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	o := &Orchestrator{
		logger:     logger,
		store:      store,
		batches:    batches,
		runner:     runner,
		dispatcher: dispatcher,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.scheduler = newScheduler(logger, o.queueSize)
	return o
}

// HandleEvent classifies an inbound trigger and either runs, resumes, or
// queues. Classification is synchronous and cheap; model-loop runs are
// handed to the per-record scheduler so unrelated triggers are never
// blocked behind a long run.
func (o *Orchestrator) HandleEvent(ctx context.Context, event types.EventEnvelope) error {
	switch event.EventType {
	case types.EventTypeDelegationCompleted:
		return o.handleCompletion(ctx, event)
	case types.EventTypeAgentMessageReceived:
		return o.handleMessage(ctx, event)
	default:
		return nil
	}
}

func (o *Orchestrator) handleMessage(ctx context.Context, event types.EventEnvelope) error {
	var payload types.AgentMessageReceivedPayload
	if err := event.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode message payload for event %s: %w", event.EventID, err)
	}
	agentID := event.Routing.AgentID
	conversationID := event.Routing.ConversationID
	if agentID == "" || conversationID == "" {
		return fmt.Errorf("event %s has no resolvable agent/conversation routing", event.EventID)
	}

	rec, err := o.store.Latest(ctx, agentID, conversationID)
	if errors.Is(err, ral.ErrNotFound) {
		return o.startFresh(ctx, event, payload)
	}
	if err != nil {
		return fmt.Errorf("record lookup: %w", err)
	}

	switch {
	case rec.Status == ral.StatusExecuting:
		return o.enqueueInjection(ctx, rec, event, payload)
	case rec.AwaitingAnswer():
		return o.resumeWithAnswer(ctx, rec, event, payload)
	default:
		return o.enqueueInjection(ctx, rec, event, payload)
	}
}

func (o *Orchestrator) startFresh(ctx context.Context, event types.EventEnvelope, payload types.AgentMessageReceivedPayload) error {
	rec, err := o.store.Create(ctx, event.Routing.AgentID, event.Routing.ConversationID)
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	o.logger.Printf("fresh loop record=%s event_id=%s", rec.Key, event.EventID)

	messages := []types.Message{{Role: types.RoleUser, Content: payload.Text}}
	return o.submitRun(rec, messages, nil)
}

func (o *Orchestrator) enqueueInjection(ctx context.Context, rec ral.Record, event types.EventEnvelope, payload types.AgentMessageReceivedPayload) error {
	inj := ral.QueuedInjection{
		ID:            ids.New(),
		Kind:          ral.InjectionKindUser,
		Content:       payload.Text,
		SourceEventID: event.EventID,
		QueuedAt:      time.Now().UTC(),
	}
	updated, err := o.store.Enqueue(ctx, rec.Key.AgentID, rec.Key.ConversationID, inj)
	if errors.Is(err, ral.ErrNotFound) {
		// The loop finished between classification and enqueue; start over.
		return o.startFresh(ctx, event, payload)
	}
	if err != nil {
		return fmt.Errorf("enqueue injection: %w", err)
	}
	o.logger.Printf("injection queued record=%s injection=%s event_id=%s", updated.Key, inj.ID, event.EventID)
	if o.watcher != nil {
		o.watcher.Watch(updated, inj)
	}
	return nil
}

func (o *Orchestrator) resumeWithAnswer(ctx context.Context, rec ral.Record, event types.EventEnvelope, payload types.AgentMessageReceivedPayload) error {
	if pd, ok := rec.AnswerPending(); ok {
		updated, _, _, err := o.store.RecordCompletion(ctx, ral.CompletedDelegation{
			EventID:         pd.EventID,
			Response:        payload.Text,
			ResponseEventID: event.EventID,
			RecipientID:     payload.SenderID,
		})
		if err != nil && !errors.Is(err, ral.ErrNotFound) {
			return fmt.Errorf("record answer: %w", err)
		}
		if err == nil {
			rec = updated
		}
	}
	o.logger.Printf("resume with answer record=%s event_id=%s", rec.Key, event.EventID)
	answer := []types.Message{{Role: types.RoleUser, Content: payload.Text}}
	return o.submitRun(rec, append(cloneMessages(rec.Messages), answer...), remainingPending(rec))
}

func (o *Orchestrator) handleCompletion(ctx context.Context, event types.EventEnvelope) error {
	var payload types.DelegationCompletedPayload
	if err := event.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode completion payload for event %s: %w", event.EventID, err)
	}
	delegationID := event.Routing.DelegationEventID
	if delegationID == "" {
		return fmt.Errorf("completion event %s has no delegation event id", event.EventID)
	}

	responseEventID := payload.ResponseEventID
	if responseEventID == "" {
		responseEventID = event.EventID
	}
	rec, pd, satisfied, err := o.store.RecordCompletion(ctx, ral.CompletedDelegation{
		EventID:         delegationID,
		Response:        payload.Response,
		ResponseEventID: responseEventID,
		RecipientID:     payload.RecipientID,
	})
	if errors.Is(err, ral.ErrNotFound) {
		// Stale: already completed, or the owning loop is gone. At-least-once
		// delivery makes this a legitimate no-op.
		o.logger.Printf("stale completion delegation=%s event_id=%s", delegationID, event.EventID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("record completion: %w", err)
	}

	if pd.BatchID != "" {
		completedSet := make(map[string]bool, len(rec.Completed))
		for _, c := range rec.Completed {
			completedSet[c.EventID] = true
		}
		batchSatisfied, known, batchErr := o.batches.IsJoinSatisfied(ctx, pd.BatchID, completedSet)
		switch {
		case batchErr != nil:
			o.logger.Printf("batch lookup failed batch=%s err=%v", pd.BatchID, batchErr)
		case !known:
			// Unknown batch: treat as an ungrouped single and resume rather
			// than fail closed.
			o.logger.Printf("unknown batch, resuming early batch=%s delegation=%s", pd.BatchID, delegationID)
			satisfied = true
		default:
			satisfied = batchSatisfied
		}
		if satisfied && known {
			if err := o.batches.Drop(ctx, pd.BatchID); err != nil && !errors.Is(err, batch.ErrNotFound) {
				o.logger.Printf("batch drop failed batch=%s err=%v", pd.BatchID, err)
			}
		}
	}

	if !satisfied {
		o.logger.Printf("completion recorded, join pending record=%s batch=%s delegation=%s",
			rec.Key, pd.BatchID, delegationID)
		return nil
	}

	o.logger.Printf("join satisfied record=%s batch=%s delegation=%s", rec.Key, pd.BatchID, delegationID)
	resolution := resolutionContext(rec, pd)
	return o.submitRun(rec, append(cloneMessages(rec.Messages), resolution...), remainingPending(rec))
}

// CheckpointResume forces a paused supervising loop to briefly run with a
// synthesized observation note. The loop may respond with guidance; either
// way it is re-paused afterward with its original pending delegations
// preserved.
func (o *Orchestrator) CheckpointResume(ctx context.Context, agentID, conversationID, note string, checkpointNumber int) error {
	rec, err := o.store.Latest(ctx, agentID, conversationID)
	if err != nil {
		return fmt.Errorf("checkpoint lookup: %w", err)
	}
	if rec.Status != ral.StatusPaused {
		return fmt.Errorf("checkpoint target %s is not paused", rec.Key)
	}

	o.publishLifecycle(rec, types.EventTypeLoopCheckpoint, types.LoopCheckpointPayload{
		CheckpointNumber: checkpointNumber,
	})
	messages := append(cloneMessages(rec.Messages), types.Message{Role: types.RoleSystem, Content: note})
	return o.submitRun(rec, messages, remainingPending(rec))
}

// submitRun hands a model-loop run to the per-record worker. carry lists
// pending delegations that must survive the run: the record re-pauses on
// them if the run ends without resolving anything new.
func (o *Orchestrator) submitRun(rec ral.Record, messages []types.Message, carry []ral.PendingDelegation) error {
	key := rec.Key.AgentID + ":" + rec.Key.ConversationID
	return o.scheduler.Submit(key, func(ctx context.Context) {
		o.runLoop(ctx, rec, messages, carry)
	})
}

func (o *Orchestrator) runLoop(ctx context.Context, rec ral.Record, messages []types.Message, carry []ral.PendingDelegation) {
	if err := o.store.SetExecuting(ctx, rec.Key); err != nil {
		o.logger.Printf("run aborted, record gone record=%s err=%v", rec.Key, err)
		return
	}
	o.publishLifecycle(rec, types.EventTypeLoopResumed, nil)

	for {
		// Injection point: everything queued while the loop was away is
		// delivered now, in arrival order.
		drained, err := o.store.DrainQueue(ctx, rec.Key)
		if err != nil && !errors.Is(err, ral.ErrNotFound) {
			o.logger.Printf("drain queue failed record=%s err=%v", rec.Key, err)
		}
		if len(drained) > 0 {
			if o.watcher != nil {
				injIDs := make([]string, len(drained))
				for i, inj := range drained {
					injIDs[i] = inj.ID
				}
				o.watcher.CancelWatch(injIDs...)
			}
			messages = append(messages, injectionMessages(drained)...)
		}

		actionCtx, err := o.store.SetCurrentAction(ctx, rec.Key, "model_run")
		if err != nil {
			o.logger.Printf("run aborted, record gone record=%s err=%v", rec.Key, err)
			return
		}
		result, runErr := o.runner.Run(actionCtx, model.RunRequest{
			AgentID:        rec.Key.AgentID,
			ConversationID: rec.Key.ConversationID,
			SystemPrompt:   o.systemPrompt,
			Messages:       messages,
			Actions:        o.actionDefs,
		})
		if err := o.store.ClearCurrentAction(ctx, rec.Key); err != nil && !errors.Is(err, ral.ErrNotFound) {
			o.logger.Printf("clear current action failed record=%s err=%v", rec.Key, err)
		}

		if runErr != nil {
			// Pause on whatever this run was processing: the transcript keeps
			// the triggering content and any drained injections, carry keeps
			// the surviving pending set. With nothing pending the record is
			// left awaiting the next message, which resumes and retries.
			o.logger.Printf("model run failed record=%s err=%v", rec.Key, runErr)
			o.publishLifecycle(rec, types.EventTypeLoopFailed, types.LoopFailedPayload{Error: runErr.Error()})
			if err := o.store.Pause(ctx, rec.Key, messages, carry); err != nil && !errors.Is(err, ral.ErrNotFound) {
				o.logger.Printf("pause after failure failed record=%s err=%v", rec.Key, err)
			}
			return
		}

		transcript := append(messages, result.NewMessages...)

		if stop, ok := result.FirstStop(); ok {
			o.pauseOn(ctx, rec, transcript, carry, stop.Pending)
			return
		}

		if o.executor != nil && len(result.Calls) > 0 {
			current, err := o.store.Get(ctx, rec.Key)
			if err != nil {
				current = rec
			}
			var stopped bool
			var stopPending []ral.PendingDelegation
			for _, call := range result.Calls {
				res, execErr := o.executor.Execute(ctx, current, "", actions.Call{Name: call.Name, Input: call.Input})
				if execErr != nil {
					o.logger.Printf("action %s failed record=%s err=%v", call.Name, rec.Key, execErr)
					transcript = append(transcript, types.Message{
						Role:    types.RoleUser,
						Content: fmt.Sprintf("Action %s failed: %v", call.Name, execErr),
					})
					continue
				}
				if res.IsStop() {
					stopped = true
					stopPending = res.Pending
					break
				}
				if res.Text != "" {
					transcript = append(transcript, types.Message{
						Role:    types.RoleUser,
						Content: fmt.Sprintf("Result of %s:\n%s", call.Name, res.Text),
					})
				}
			}
			if stopped {
				o.pauseOn(ctx, rec, transcript, carry, stopPending)
				return
			}
			// All calls resolved inline; run the model again with the results.
			messages = transcript
			continue
		}

		if len(carry) > 0 {
			// Terminal finish while earlier delegations are still out: the
			// record stays paused on them.
			o.pauseOn(ctx, rec, transcript, carry, nil)
			return
		}

		// Terminal finish. Content queued during the final step would be
		// lost with the record, so loop again instead of finishing.
		leftover, err := o.store.DrainQueue(ctx, rec.Key)
		if err != nil && !errors.Is(err, ral.ErrNotFound) {
			o.logger.Printf("final drain failed record=%s err=%v", rec.Key, err)
		}
		if len(leftover) > 0 {
			if o.watcher != nil {
				injIDs := make([]string, len(leftover))
				for i, inj := range leftover {
					injIDs[i] = inj.ID
				}
				o.watcher.CancelWatch(injIDs...)
			}
			messages = append(transcript, injectionMessages(leftover)...)
			continue
		}

		if err := o.store.Finish(ctx, rec.Key); err != nil && !errors.Is(err, ral.ErrNotFound) {
			o.logger.Printf("finish failed record=%s err=%v", rec.Key, err)
			return
		}
		o.publishLifecycle(rec, types.EventTypeLoopFinished, nil)
		o.logger.Printf("loop finished record=%s", rec.Key)
		return
	}
}

// pauseOn parks the record on carried plus newly created pending
// delegations and announces the pause.
func (o *Orchestrator) pauseOn(ctx context.Context, rec ral.Record, transcript []types.Message, carry, fresh []ral.PendingDelegation) {
	pending := append(append([]ral.PendingDelegation(nil), carry...), fresh...)
	if err := o.store.Pause(ctx, rec.Key, transcript, pending); err != nil {
		o.logger.Printf("pause failed record=%s err=%v", rec.Key, err)
		return
	}
	o.publishLifecycle(rec, types.EventTypeLoopPaused, types.LoopPausedPayload{PendingCount: len(pending)})
	o.logger.Printf("loop paused record=%s pending=%d", rec.Key, len(pending))
}

// resolutionContext renders completed delegations into messages appended
// ahead of the resumed run. For a batch, every sibling's response is
// included; for a single, just the one completion.
func resolutionContext(rec ral.Record, pd ral.PendingDelegation) []types.Message {
	var relevant []ral.CompletedDelegation
	for _, c := range rec.Completed {
		if pd.BatchID != "" && c.BatchID == pd.BatchID {
			relevant = append(relevant, c)
		} else if pd.BatchID == "" && c.EventID == pd.EventID {
			relevant = append(relevant, c)
		}
	}

	messages := make([]types.Message, 0, len(relevant))
	for _, c := range relevant {
		label := c.RecipientLabel
		if label == "" {
			label = c.RecipientID
		}
		content := fmt.Sprintf("Delegation to %s completed:\n%s", label, strings.TrimSpace(c.Response))
		messages = append(messages, types.Message{Role: types.RoleUser, Content: content})
	}
	return messages
}

func injectionMessages(injections []ral.QueuedInjection) []types.Message {
	messages := make([]types.Message, 0, len(injections))
	for _, inj := range injections {
		role := types.RoleUser
		if inj.Kind == ral.InjectionKindSystem {
			role = types.RoleSystem
		}
		messages = append(messages, types.Message{Role: role, Content: inj.Content})
	}
	return messages
}

func remainingPending(rec ral.Record) []ral.PendingDelegation {
	if len(rec.Pending) == 0 {
		return nil
	}
	out := make([]ral.PendingDelegation, 0, len(rec.Pending))
	for _, pd := range rec.Pending {
		out = append(out, pd)
	}
	return out
}

func cloneMessages(messages []types.Message) []types.Message {
	return append([]types.Message(nil), messages...)
}

func (o *Orchestrator) publishLifecycle(rec ral.Record, eventType types.EventType, payload any) {
	if o.dispatcher == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.Printf("marshal lifecycle payload type=%s err=%v", eventType, err)
		return
	}
	o.dispatcher.Dispatch(context.Background(), types.EventEnvelope{
		Version:    types.VersionV1,
		EventID:    ids.New(),
		OccurredAt: time.Now().UTC(),
		EventType:  eventType,
		Source: types.EventSource{
			ComponentType: types.ComponentTypeOrchestrator,
			ComponentID:   "orchestrator-core",
			AgentID:       rec.Key.AgentID,
		},
		Routing: types.EventRouting{
			AgentID:        rec.Key.AgentID,
			ConversationID: rec.Key.ConversationID,
		},
		Payload: data,
	})
}
