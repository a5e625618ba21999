package eventsource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tenex-chat/tenex-sub006/internal/types"
)

func startRelayStub(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestSourceReceivesEvents(t *testing.T) {
	sent := types.EventEnvelope{
		Version:   types.VersionV1,
		EventID:   "e-1",
		EventType: types.EventTypeAgentMessageReceived,
		Routing:   types.EventRouting{AgentID: "agent-a", ConversationID: "conv-1"},
	}
	server := startRelayStub(t, func(conn *websocket.Conn) {
		if err := conn.WriteJSON(sent); err != nil {
			t.Errorf("write event: %v", err)
			return
		}
		// Hold the connection open until the client disconnects.
		_, _, _ = conn.ReadMessage()
	})

	source := New(wsURL(server))
	if err := source.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer source.Close()

	select {
	case got := <-source.Events():
		if got.EventID != "e-1" || got.EventType != types.EventTypeAgentMessageReceived {
			t.Fatalf("unexpected event: %+v", got)
		}
		if got.Routing.AgentID != "agent-a" {
			t.Fatalf("routing did not round-trip: %+v", got.Routing)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the event")
	}
}

func TestSourceSkipsMalformedFrames(t *testing.T) {
	server := startRelayStub(t, func(conn *websocket.Conn) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
			return
		}
		_ = conn.WriteJSON(types.EventEnvelope{
			Version:   types.VersionV1,
			EventID:   "e-2",
			EventType: types.EventTypeDelegationCompleted,
		})
		_, _, _ = conn.ReadMessage()
	})

	source := New(wsURL(server))
	if err := source.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer source.Close()

	select {
	case err := <-source.Errors():
		if !strings.Contains(err.Error(), "decode event envelope") {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the decode error")
	}

	select {
	case got := <-source.Events():
		if got.EventID != "e-2" {
			t.Fatalf("valid event after a bad frame should still arrive: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the valid event")
	}
}

func TestSourceSendEvent(t *testing.T) {
	received := make(chan types.EventEnvelope, 1)
	server := startRelayStub(t, func(conn *websocket.Conn) {
		var event types.EventEnvelope
		if err := conn.ReadJSON(&event); err != nil {
			return
		}
		received <- event
	})

	source := New(wsURL(server))
	if err := source.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer source.Close()

	out := types.EventEnvelope{
		Version:   types.VersionV1,
		EventID:   "e-3",
		EventType: types.EventTypeDelegationRequested,
	}
	if err := source.SendEvent(context.Background(), out); err != nil {
		t.Fatalf("send event: %v", err)
	}

	select {
	case got := <-received:
		if got.EventID != "e-3" {
			t.Fatalf("unexpected event on the server side: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the server to read the event")
	}
}

func TestSourceSendAfterClose(t *testing.T) {
	server := startRelayStub(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})

	source := New(wsURL(server))
	if err := source.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := source.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := source.SendEvent(context.Background(), types.EventEnvelope{EventID: "e-4"}); err == nil {
		t.Fatalf("send after close should fail")
	}
}
