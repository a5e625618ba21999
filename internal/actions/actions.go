// Package actions implements the delegation-capable actions and the stop
// signal they return. A delegation-issuing action never blocks its calling
// loop: it publishes the outbound events, then returns a stop signal
// listing the pending delegations it created. The orchestrator honors the
// signal by pausing the record and returning early.
package actions

import (
	"github.com/tenex-chat/tenex-sub006/internal/ral"
)

type ResultKind string

const (
	// ResultKindMessage is a plain action result folded back into the
	// transcript; the loop keeps going.
	ResultKindMessage ResultKind = "message"
	// ResultKindStop suspends the calling loop until the listed
	// delegations complete.
	ResultKindStop ResultKind = "stop"
)

// Result is the closed tagged variant every action returns. The
// orchestrator exhaustively switches on Kind when building pause state and
// resume context.
type Result struct {
	Kind    ResultKind            `json:"kind"`
	Text    string                `json:"text,omitempty"`
	Pending []ral.PendingDelegation `json:"pending,omitempty"`
}

func MessageResult(text string) Result {
	return Result{Kind: ResultKindMessage, Text: text}
}

func StopResult(pending ...ral.PendingDelegation) Result {
	return Result{Kind: ResultKindStop, Pending: pending}
}

// IsStop reports whether the result is a stop signal with at least one
// pending delegation.
func (r Result) IsStop() bool {
	return r.Kind == ResultKindStop && len(r.Pending) > 0
}
