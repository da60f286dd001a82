// Package controller implements the three phases of the execution loop and
// the engine that sequences them.
//
// Reason runs one model turn and extracts a decision. Act executes the
// pending tool calls. Respond produces the final user-facing text. The
// engine drives Reason/Act until a decision terminates the loop, persisting
// the workspace after every phase so a task survives restarts and
// cancellation.
package controller

import (
	"errors"

	"github.com/sigil-dev/sigil/pkg/agent/prompt"
	"github.com/sigil-dev/sigil/pkg/events"
	"github.com/sigil-dev/sigil/pkg/knowledge"
	"github.com/sigil-dev/sigil/pkg/llm"
	"github.com/sigil-dev/sigil/pkg/memory"
	"github.com/sigil-dev/sigil/pkg/store"
	"github.com/sigil-dev/sigil/pkg/tools"
)

var (
	// ErrEmptyQuery rejects blank task submissions before any state exists.
	ErrEmptyQuery = errors.New("query must not be empty")
	// ErrTaskBusy means another engine run currently owns the task.
	ErrTaskBusy = errors.New("task is already running")
)

// Config holds the engine knobs resolved from configuration.
type Config struct {
	MaxIterations      int
	Mode               memory.Mode
	ModeSwitchCooldown int
}

// Deps bundles the engine's collaborators. Store, LLM, Registry, Scheduler
// and Prompts are required; the rest are optional.
type Deps struct {
	Store     store.Store
	LLM       llm.Client
	Registry  *tools.Registry
	Scheduler *tools.Scheduler
	Prompts   *prompt.Builder

	Retriever *knowledge.Retriever
	Publisher *events.EventPublisher

	// OnMessage is notified after every conversation append, so the
	// background learner can track cadence.
	OnMessage func(userID string, msg memory.Message)
}

// DecisionKind tags the outcome of one Reason turn.
type DecisionKind int

const (
	// DecisionDirectResponse means the model answered; the loop ends.
	DecisionDirectResponse DecisionKind = iota
	// DecisionActions means the model requested tool calls.
	DecisionActions
	// DecisionParseError means the model's output could not be decoded
	// even after one correction retry.
	DecisionParseError
	// DecisionNone means the turn produced neither answer nor calls.
	DecisionNone
)

// Decision is the tagged union extracted from a Reason turn's event stream.
type Decision struct {
	Kind         DecisionKind
	Response     string
	Calls        []memory.PlannedCall
	ParseFailure string

	// ModeSwitched marks a turn whose only effect was a mode change;
	// the loop continues instead of stopping with no_actions.
	ModeSwitched bool
}

// State is the mutable per-run view a phase operates on.
type State struct {
	TaskID       string
	UserID       string
	Profile      *memory.Profile
	Conversation *memory.Conversation
	Workspace    *memory.Workspace
	Execution    *memory.Execution
}
