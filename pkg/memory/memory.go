// Package memory defines the three-horizon state model for agent tasks.
//
// Horizon 1 is user-scoped and long-lived: Profile and Conversation.
// Horizon 2 is task-scoped and persisted: Workspace.
// Horizon 3 is per-run and ephemeral: Execution, always rebuilt, never stored.
package memory

import "time"

// Mode selects the reasoning template family for a task.
type Mode string

const (
	// ModeFast bounds history to a few prior attempts and asks for terse reasoning.
	ModeFast Mode = "fast"
	// ModeDeep widens the history window and requests explicit
	// thinking/reflect/plan sections.
	ModeDeep Mode = "deep"
	// ModeAdapt lets the engine pick fast or deep per task.
	ModeAdapt Mode = "adapt"
)

// Outcome classifies a completed tool call.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
	OutcomeError   Outcome = "error"
)

// ActionOutcome summarizes one Act phase on the thought that produced it.
type ActionOutcome string

const (
	ActionSuccess ActionOutcome = "success"
	ActionPartial ActionOutcome = "partial"
	ActionFailure ActionOutcome = "failure"
)

// PlannedCall is a tool invocation requested by a Reason turn, not yet executed.
type PlannedCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolCall is the completed-call value object.
type ToolCall struct {
	Name     string         `json:"name"`
	Args     map[string]any `json:"args"`
	Outcome  Outcome        `json:"outcome"`
	Result   string         `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Succeeded reports whether the call completed with a success outcome.
func (c ToolCall) Succeeded() bool {
	return c.Outcome == OutcomeSuccess
}
