package actions

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/tenex-chat/tenex-sub006/internal/batch"
)

func TestExecutorDelegateCall(t *testing.T) {
	pub := &fakePublisher{}
	exec := NewExecutor(NewDelegator(testLogger(), pub, batch.NewMemoryRegistry(), nil, nil))

	input := `{"targets": [{"recipient_id": "r-1", "request": "do it"}]}`
	result, err := exec.Execute(context.Background(), testCaller().Record, "", Call{Name: ActionDelegate, Input: json.RawMessage(input)})
	if err != nil {
		t.Fatalf("execute delegate: %v", err)
	}
	if !result.IsStop() || len(result.Pending) != 1 {
		t.Fatalf("delegate call should stop on one pending: %+v", result)
	}
}

func TestExecutorUnknownAction(t *testing.T) {
	exec := NewExecutor(NewDelegator(testLogger(), &fakePublisher{}, batch.NewMemoryRegistry(), nil, nil))

	result, err := exec.Execute(context.Background(), testCaller().Record, "", Call{Name: "teleport"})
	if err != nil {
		t.Fatalf("unknown action should not error: %v", err)
	}
	if result.Kind != ResultKindMessage || !strings.Contains(result.Text, "teleport") {
		t.Fatalf("unknown action should come back as a message naming it: %+v", result)
	}
}

func TestExecutorMalformedInput(t *testing.T) {
	exec := NewExecutor(NewDelegator(testLogger(), &fakePublisher{}, batch.NewMemoryRegistry(), nil, nil))

	result, err := exec.Execute(context.Background(), testCaller().Record, "", Call{Name: ActionAsk, Input: json.RawMessage(`{"question": 7}`)})
	if err != nil {
		t.Fatalf("malformed input should not error: %v", err)
	}
	if result.Kind != ResultKindMessage {
		t.Fatalf("malformed input should come back as a message: %+v", result)
	}
}

func TestExecutorFollowUpWithoutHistory(t *testing.T) {
	exec := NewExecutor(NewDelegator(testLogger(), &fakePublisher{}, batch.NewMemoryRegistry(), nil, nil))

	input := `{"recipient_id": "stranger", "request": "more"}`
	result, err := exec.Execute(context.Background(), testCaller().Record, "", Call{Name: ActionFollowUp, Input: json.RawMessage(input)})
	if err != nil {
		t.Fatalf("follow-up without history should not error: %v", err)
	}
	if result.Kind != ResultKindMessage || !strings.Contains(result.Text, "follow_up") {
		t.Fatalf("follow-up failure should come back as a message: %+v", result)
	}
}
