// Package pairing supervises in-flight delegations. When a delegation is
// issued with supervision enabled, the supervisor counts the recipient's
// reported sub-actions and periodically wakes the delegating loop with a
// progress checkpoint so it can steer without waiting for completion.
package pairing

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/tenex-chat/tenex-sub006/internal/types"
)

// CheckpointResumer briefly resumes a paused loop with an observation note
// and re-pauses it with its pending delegations intact.
type CheckpointResumer interface {
	CheckpointResume(ctx context.Context, agentID, conversationID, note string, checkpointNumber int) error
}

// maxBufferedActions bounds per-session memory for long-running recipients;
// checkpoints only ever render the most recent actions.
const maxBufferedActions = 50

type session struct {
	delegationEventID string
	agentID           string
	conversationID    string
	interval          int

	actionCount     int
	checkpointCount int
	recent          []string
}

type Supervisor struct {
	logger  *log.Logger
	resumer CheckpointResumer

	mu       sync.Mutex
	sessions map[string]*session
}

func NewSupervisor(logger *log.Logger, resumer CheckpointResumer) *Supervisor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Supervisor{
		logger:   logger,
		resumer:  resumer,
		sessions: make(map[string]*session),
	}
}

// Open registers a supervision session for a delegation. Every interval
// recipient sub-actions, the supervising loop gets a checkpoint.
func (s *Supervisor) Open(_ context.Context, delegationEventID, supervisorAgentID, supervisorConversationID string, interval int) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[delegationEventID] = &session{
		delegationEventID: delegationEventID,
		agentID:           supervisorAgentID,
		conversationID:    supervisorConversationID,
		interval:          interval,
	}
	s.logger.Printf("pairing opened delegation=%s supervisor=%s:%s interval=%d",
		delegationEventID, supervisorAgentID, supervisorConversationID, interval)
}

// Close drops the session for a delegation; completion events do this
// implicitly via Observe.
func (s *Supervisor) Close(delegationEventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, delegationEventID)
}

// Observe feeds the supervisor an inbound event. Action events advance the
// counter; completion events end the session. Events for delegations with
// no open session are ignored.
func (s *Supervisor) Observe(ctx context.Context, event types.EventEnvelope) {
	delegationID := event.Routing.DelegationEventID
	if delegationID == "" {
		return
	}

	switch event.EventType {
	case types.EventTypeDelegationCompleted:
		s.Close(delegationID)
		return
	case types.EventTypeDelegationAction:
	default:
		return
	}

	var payload types.DelegationActionPayload
	if err := event.DecodePayload(&payload); err != nil {
		s.logger.Printf("pairing: bad action payload delegation=%s err=%v", delegationID, err)
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[delegationID]
	if !ok {
		s.mu.Unlock()
		return
	}
	sess.actionCount++
	line := payload.ActionName
	if payload.Summary != "" {
		line += ": " + payload.Summary
	}
	sess.recent = append(sess.recent, line)
	if len(sess.recent) > maxBufferedActions {
		sess.recent = sess.recent[len(sess.recent)-maxBufferedActions:]
	}
	// The counter never resets on checkpoints or guidance; interval is a
	// pure modulus over the lifetime action count.
	due := sess.actionCount%sess.interval == 0
	var note string
	var checkpoint int
	if due {
		sess.checkpointCount++
		checkpoint = sess.checkpointCount
		note = checkpointNote(sess)
		sess.recent = nil
	}
	agentID, conversationID := sess.agentID, sess.conversationID
	actionCount := sess.actionCount
	s.mu.Unlock()

	if !due {
		return
	}

	if err := s.resumer.CheckpointResume(ctx, agentID, conversationID, note, checkpoint); err != nil {
		s.logger.Printf("pairing checkpoint failed delegation=%s supervisor=%s:%s err=%v",
			delegationID, agentID, conversationID, err)
		return
	}
	s.logger.Printf("pairing checkpoint delegation=%s supervisor=%s:%s n=%d actions=%d",
		delegationID, agentID, conversationID, checkpoint, actionCount)
}

func checkpointNote(sess *session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Progress checkpoint for delegation %s: %d action(s) so far.\nRecent activity:",
		sess.delegationEventID, sess.actionCount)
	for _, line := range sess.recent {
		b.WriteString("\n- ")
		b.WriteString(line)
	}
	b.WriteString("\nReply with guidance for the recipient, or end your turn to keep observing.")
	return b.String()
}
