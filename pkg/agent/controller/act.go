package controller

import (
	"context"

	"github.com/sigil-dev/sigil/pkg/events"
	"github.com/sigil-dev/sigil/pkg/memory"
)

// act executes the pending calls from the last Reason turn. It never decides
// whether the loop continues; the next Reason turn sees the outcomes.
func (e *Engine) act(ctx context.Context, st *State) {
	exec := st.Execution
	calls := exec.DrainPending()
	if len(calls) == 0 {
		return
	}

	mode := e.deps.Scheduler.Mode(calls)
	if e.deps.Publisher != nil {
		e.deps.Publisher.PublishCallPlanned(st.TaskID, events.CallPlannedPayload{
			Iteration: exec.Iteration,
			Calls:     calls,
			Mode:      string(mode),
		})
	}

	batch := e.deps.Scheduler.ExecuteBatch(ctx, calls)
	exec.CompletedCalls = append(exec.CompletedCalls, batch.Calls...)

	if t := st.Workspace.LastThought(); t != nil {
		t.ActionOutcome = actionOutcome(batch.SuccessfulCount, batch.FailedCount)
	}

	if e.deps.Publisher != nil {
		for _, call := range batch.Calls {
			e.deps.Publisher.PublishCallResult(st.TaskID, events.CallResultPayload{
				Iteration: exec.Iteration,
				Tool:      call.Name,
				Outcome:   string(call.Outcome),
				Result:    call.Result,
				Error:     call.Error,
			})
		}
		e.deps.Publisher.PublishToolBatch(st.TaskID, events.ToolBatchPayload{
			Iteration:       exec.Iteration,
			ExecutionMode:   string(batch.ExecutionMode),
			SuccessfulCount: batch.SuccessfulCount,
			FailedCount:     batch.FailedCount,
			Summary:         batch.Summary,
		})
	}
}

// actionOutcome classifies one batch for the workspace thought.
func actionOutcome(successes, failures int) memory.ActionOutcome {
	switch {
	case failures == 0:
		return memory.ActionSuccess
	case successes > 0:
		return memory.ActionPartial
	default:
		return memory.ActionFailure
	}
}
