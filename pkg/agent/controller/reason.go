package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sigil-dev/sigil/pkg/agent/prompt"
	"github.com/sigil-dev/sigil/pkg/events"
	"github.com/sigil-dev/sigil/pkg/llm"
	"github.com/sigil-dev/sigil/pkg/memory"
	"github.com/sigil-dev/sigil/pkg/protocol"
)

// switchModeTool is the reserved call name for the mode-switch directive.
// It is intercepted by Reason and never reaches the scheduler.
const switchModeTool = "switch_mode"

// llmFailureMessage is the user-facing fallback after a hard model failure.
const llmFailureMessage = "I ran into a problem while working on this and could not finish. Please try again, or rephrase your request."

// parseFailureMessage is the user-facing fallback after repeated protocol
// violations in the model output.
const parseFailureMessage = "I had trouble organizing my work on this task and could not finish. Please try again."

// reason runs one reasoning turn: budget check, context build, model stream,
// decision extraction, and state writes.
func (e *Engine) reason(ctx context.Context, st *State) (Decision, error) {
	exec := st.Execution

	// Budget check: synthesize and stop without spending a model turn.
	if exec.BudgetExhausted() {
		exec.Response = prompt.SynthesizeCompletion(exec.Iteration, exec.CompletedCalls)
		exec.PendingCalls = nil
		exec.StopReason = memory.StopMaxIterations
		return Decision{Kind: DecisionDirectResponse, Response: exec.Response}, nil
	}

	var retrieved []memory.ScoredArtifact
	if e.deps.Retriever != nil {
		arts, err := e.deps.Retriever.Retrieve(ctx, st.Workspace.Objective, st.UserID)
		if err != nil {
			slog.Warn("Knowledge retrieval failed, continuing without it",
				"task_id", st.TaskID, "error", err)
		} else {
			retrieved = arts
		}
	}

	msgs := e.deps.Prompts.BuildReasonMessages(prompt.ReasonInput{
		Profile:         st.Profile,
		History:         st.Conversation.Window(0),
		Workspace:       st.Workspace,
		Execution:       exec,
		ToolDefinitions: e.deps.Registry.Render(),
		Knowledge:       retrieved,
	})

	turn, err := e.streamTurnWithRetry(ctx, st, msgs)
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		slog.Error("LLM turn failed after retry", "task_id", st.TaskID, "error", err)
		exec.StopReason = memory.StopLLMError
		exec.UserErrorMessage = llmFailureMessage
		e.recordThought(st, memory.Thought{
			Thinking:     "(model call failed)",
			ParseFailure: err.Error(),
		})
		return Decision{Kind: DecisionNone}, nil
	}

	// Parse error path: one correction retry, then stop. The corrected
	// failure is still recorded on the turn's thought below.
	var correctedFailure string
	if turn.parseErr != "" {
		exec.ParseFailures++
		e.publishError(st, turn.parseErr)
		correctedFailure = turn.parseErr

		correction := append(msgs, e.deps.Prompts.BuildCorrectionMessage(turn.parseErr))
		turn, err = e.streamTurnWithRetry(ctx, st, correction)
		if err != nil {
			if ctx.Err() != nil {
				return Decision{}, ctx.Err()
			}
			exec.StopReason = memory.StopLLMError
			exec.UserErrorMessage = llmFailureMessage
			e.recordThought(st, memory.Thought{Thinking: "(model call failed)", ParseFailure: err.Error()})
			return Decision{Kind: DecisionNone}, nil
		}
		if turn.parseErr != "" {
			exec.ParseFailures++
			e.publishError(st, turn.parseErr)
			exec.StopReason = memory.StopParseErrorExceeded
			exec.UserErrorMessage = parseFailureMessage
			e.recordThought(st, memory.Thought{
				Thinking:     turn.thinking,
				ParseFailure: turn.parseErr,
			})
			return Decision{Kind: DecisionParseError, ParseFailure: turn.parseErr}, nil
		}
	}
	exec.ParseFailures = 0

	dec := e.extractDecision(st, turn)

	planning, reflection := extractSections(turn.thinking)
	e.recordThought(st, memory.Thought{
		Thinking:     turn.thinking,
		Planning:     planning,
		Reflection:   reflection,
		Approach:     st.Workspace.Approach,
		ToolCalls:    dec.Calls,
		ParseFailure: correctedFailure,
	})

	switch dec.Kind {
	case DecisionDirectResponse:
		exec.Response = dec.Response
	case DecisionActions:
		exec.PendingCalls = dec.Calls
	}
	return dec, nil
}

// recordThought appends the turn's thought and advances the iteration
// counter, keeping len(thoughts) == iteration.
func (e *Engine) recordThought(st *State, t memory.Thought) {
	t.Iteration = st.Execution.Iteration
	st.Workspace.AppendThought(t)
	st.Execution.Iteration++
}

// turnResult is the collected output of one model stream.
type turnResult struct {
	thinking string
	response string
	rawCalls []string // validated JSON, one per call section
	parseErr string   // first parser error event content
}

// streamTurnWithRetry runs the model stream, retrying once on hard failure.
func (e *Engine) streamTurnWithRetry(ctx context.Context, st *State, msgs []llm.Message) (*turnResult, error) {
	turn, err := e.streamTurn(ctx, st, msgs)
	if err == nil || ctx.Err() != nil {
		return turn, err
	}
	slog.Warn("LLM stream failed, retrying once", "task_id", st.TaskID, "error", err)
	return e.streamTurn(ctx, st, msgs)
}

// streamTurn pipes one model stream through the protocol parser and collects
// the turn's sections, publishing think events as they arrive.
func (e *Engine) streamTurn(ctx context.Context, st *State, msgs []llm.Message) (*turnResult, error) {
	tokens, errs := e.deps.LLM.Stream(ctx, msgs)
	eventsCh := protocol.Parse(ctx, tokens)

	turn := &turnResult{}
	for ev := range eventsCh {
		switch ev.Type {
		case protocol.EventThink:
			turn.thinking += ev.Content
			if e.deps.Publisher != nil {
				e.deps.Publisher.PublishThink(st.TaskID, events.ThinkPayload{
					Iteration: st.Execution.Iteration,
					Content:   ev.Content,
				})
			}
		case protocol.EventRespond:
			turn.response += ev.Content
		case protocol.EventCall:
			turn.rawCalls = append(turn.rawCalls, ev.Content)
		case protocol.EventError:
			if turn.parseErr == "" {
				turn.parseErr = ev.Content
			}
		}
	}
	// The parser stops consuming at a terminator; drain the remaining
	// tokens so the provider stream can finish and report errors.
	for range tokens {
	}
	if err := <-errs; err != nil {
		return nil, fmt.Errorf("llm stream: %w", err)
	}
	return turn, nil
}

// extractDecision converts a turn's sections into the decision tagged union,
// applying mode-switch directives along the way.
func (e *Engine) extractDecision(st *State, turn *turnResult) Decision {
	var calls []memory.PlannedCall
	for _, raw := range turn.rawCalls {
		decoded, err := protocol.DecodeCalls(raw)
		if err != nil {
			// The parser already validated this JSON; a failure here
			// would be a bug, not model output.
			slog.Error("Validated call JSON failed to decode", "task_id", st.TaskID, "error", err)
			continue
		}
		calls = append(calls, toPlanned(decoded)...)
	}

	switched := false
	executable := calls[:0]
	for _, call := range calls {
		if call.Name == switchModeTool {
			if e.applyModeSwitch(st, call) {
				switched = true
			}
			continue
		}
		executable = append(executable, call)
	}
	calls = executable

	response := strings.TrimSpace(turn.response)
	if response != "" {
		if len(calls) > 0 {
			slog.Warn("Turn produced both a response and calls, keeping the response",
				"task_id", st.TaskID, "dropped_calls", len(calls))
		}
		return Decision{Kind: DecisionDirectResponse, Response: response, ModeSwitched: switched}
	}
	if len(calls) > 0 {
		return Decision{Kind: DecisionActions, Calls: calls, ModeSwitched: switched}
	}
	return Decision{Kind: DecisionNone, ModeSwitched: switched}
}

// applyModeSwitch enforces the cooldown and reason requirement. Returns
// whether the mode actually changed.
func (e *Engine) applyModeSwitch(st *State, call memory.PlannedCall) bool {
	to, _ := call.Args["to"].(string)
	reason, _ := call.Args["reason"].(string)
	before := st.Workspace.Mode
	err := st.Workspace.SwitchMode(memory.Mode(to), reason, st.Execution.Iteration, e.cfg.ModeSwitchCooldown)
	if err != nil {
		slog.Warn("Mode switch rejected",
			"task_id", st.TaskID, "to", to, "error", err)
		return false
	}
	changed := st.Workspace.Mode != before
	if changed {
		slog.Info("Reasoning mode switched",
			"task_id", st.TaskID, "from", before, "to", st.Workspace.Mode, "reason", reason)
	}
	return changed
}

func toPlanned(calls []protocol.PlannedCall) []memory.PlannedCall {
	out := make([]memory.PlannedCall, len(calls))
	for i, c := range calls {
		out[i] = memory.PlannedCall{Name: c.Name, Args: c.Args}
	}
	return out
}

// extractSections pulls explicit planning and reflection lines out of deep
// mode thinking text.
func extractSections(thinking string) (planning, reflection string) {
	for _, line := range strings.Split(thinking, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "Plan:"); ok && planning == "" {
			planning = strings.TrimSpace(rest)
		}
		if rest, ok := strings.CutPrefix(trimmed, "Reflection:"); ok && reflection == "" {
			reflection = strings.TrimSpace(rest)
		}
	}
	return planning, reflection
}

func (e *Engine) publishError(st *State, msg string) {
	if e.deps.Publisher != nil {
		e.deps.Publisher.PublishError(st.TaskID, events.ErrorPayload{
			Iteration: st.Execution.Iteration,
			Message:   msg,
		})
	}
}
