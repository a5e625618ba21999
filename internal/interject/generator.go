package interject

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tenex-chat/tenex-sub006/internal/model"
	"github.com/tenex-chat/tenex-sub006/internal/types"
)

// Interjection is the generated response to an unconsumed injection: an
// acknowledgment for the sender, a system note replacing the queued
// content, and whether the in-flight action should be aborted.
type Interjection struct {
	Ack   string `json:"ack"`
	Note  string `json:"note"`
	Abort bool   `json:"abort"`
}

type Generator interface {
	Generate(ctx context.Context, summary, queuedContent string) (Interjection, error)
}

const generatorSystemPrompt = `You observe a busy agent that has not yet read a message queued for it.
Given the agent's current status and the queued message, respond with a JSON
object with three fields:
  "ack":   a short acknowledgment for the message sender describing what the
           agent is currently doing.
  "note":  a one-line note for the agent summarizing the sender's message.
  "abort": true only if the message clearly asks to stop or redirect the
           agent's current work.
Respond with the JSON object only.`

// RunnerGenerator produces interjections with a model run. It is stateless;
// each timeout is a single one-shot call.
type RunnerGenerator struct {
	runner model.Runner
}

func NewRunnerGenerator(runner model.Runner) *RunnerGenerator {
	return &RunnerGenerator{runner: runner}
}

func (g *RunnerGenerator) Generate(ctx context.Context, summary, queuedContent string) (Interjection, error) {
	prompt := fmt.Sprintf("Agent status:\n%s\n\nQueued message:\n%s", summary, queuedContent)
	result, err := g.runner.Run(ctx, model.RunRequest{
		SystemPrompt: generatorSystemPrompt,
		Messages:     []types.Message{{Role: types.RoleUser, Content: prompt}},
	})
	if err != nil {
		return Interjection{}, fmt.Errorf("interjection run: %w", err)
	}

	var text string
	for i := len(result.NewMessages) - 1; i >= 0; i-- {
		if result.NewMessages[i].Role == types.RoleAssistant {
			text = result.NewMessages[i].Content
			break
		}
	}
	if text == "" {
		return Interjection{}, fmt.Errorf("interjection run returned no assistant message")
	}

	var out Interjection
	if err := json.Unmarshal([]byte(extractJSON(text)), &out); err != nil {
		return Interjection{}, fmt.Errorf("decode interjection: %w", err)
	}
	if out.Note == "" {
		out.Note = "A message arrived while you were working: " + queuedContent
	}
	return out, nil
}

// extractJSON trims surrounding prose or code fences around a JSON object.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}
