// Package eventsource connects to the relay websocket and turns the inbound
// stream into decoded event envelopes.
package eventsource

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tenex-chat/tenex-sub006/internal/types"
)

const ioTimeout = 10 * time.Second

// Source is a single websocket connection to the relay. Events arrive on
// Events(); malformed frames and read failures surface on Errors(). A read
// failure closes the source; reconnecting is the caller's call.
type Source struct {
	url string

	mu      sync.RWMutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  bool

	events chan types.EventEnvelope
	errs   chan error
	done   chan struct{}
}

func New(url string) *Source {
	return &Source{
		url:    url,
		events: make(chan types.EventEnvelope, 64),
		errs:   make(chan error, 16),
		done:   make(chan struct{}),
	}
}

func (s *Source) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: ioTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial relay websocket: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	go s.readLoop()
	return nil
}

func (s *Source) Events() <-chan types.EventEnvelope {
	return s.events
}

func (s *Source) Errors() <-chan error {
	return s.errs
}

func (s *Source) Done() <-chan struct{} {
	return s.done
}

// SendEvent writes an envelope back to the relay.
func (s *Source) SendEvent(ctx context.Context, event types.EventEnvelope) error {
	s.mu.RLock()
	conn := s.conn
	closed := s.closed
	s.mu.RUnlock()
	if conn == nil || closed {
		return fmt.Errorf("source is not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(ioTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteJSON(event); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(500*time.Millisecond))
		_ = conn.Close()
	}
	close(s.done)
	return nil
}

func (s *Source) readLoop() {
	defer s.Close()
	for {
		s.mu.RLock()
		conn := s.conn
		closed := s.closed
		s.mu.RUnlock()
		if conn == nil || closed {
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(24 * time.Hour)); err != nil {
			s.pushErr(fmt.Errorf("set read deadline: %w", err))
			return
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.pushErr(fmt.Errorf("read websocket message: %w", err))
			return
		}

		var event types.EventEnvelope
		if err := json.Unmarshal(payload, &event); err != nil {
			s.pushErr(fmt.Errorf("decode event envelope: %w", err))
			continue
		}
		if strings.TrimSpace(string(event.EventType)) == "" {
			continue
		}

		select {
		case s.events <- event:
		default:
			s.pushErr(fmt.Errorf("dropping event %s because the consumer is behind", event.EventID))
		}
	}
}

func (s *Source) pushErr(err error) {
	if err == nil {
		return
	}
	select {
	case s.errs <- err:
	default:
	}
}
