package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sigil-dev/sigil/pkg/memory"
)

// ExecutionMode reports how a batch was scheduled.
type ExecutionMode string

const (
	ModeParallel   ExecutionMode = "parallel"
	ModeSequential ExecutionMode = "sequential"
)

// BatchResult aggregates one batch's outcomes. The engine surfaces it back
// into the prompt for the next Reason turn.
type BatchResult struct {
	Successful      []memory.ToolCall `json:"successful,omitempty"`
	Failures        []memory.ToolCall `json:"failures,omitempty"`
	Summary         string            `json:"summary"`
	SuccessfulCount int               `json:"successful_count"`
	FailedCount     int               `json:"failed_count"`
	TotalExecuted   int               `json:"total_executed"`
	ExecutionMode   ExecutionMode     `json:"execution_mode"`

	// Calls holds every outcome in list order, regardless of scheduling.
	Calls []memory.ToolCall `json:"calls"`
}

// Observer receives one completed call at a time, for event emission.
type Observer func(call memory.ToolCall)

// Scheduler executes batches of planned calls against a registry, deciding
// between parallel and sequential dispatch with a conservative dependency
// heuristic.
type Scheduler struct {
	registry  *Registry
	heuristic bool
	observer  Observer
}

// NewScheduler creates a scheduler. observer may be nil.
func NewScheduler(registry *Registry, heuristicEnabled bool, observer Observer) *Scheduler {
	return &Scheduler{registry: registry, heuristic: heuristicEnabled, observer: observer}
}

// mutatingOps are the filesystem operations that count as mutation when a
// tool exposes an "op" argument.
var mutatingOps = map[string]bool{
	"create": true, "write": true, "edit": true, "delete": true,
}

// Mode decides the scheduling mode for a batch. A batch containing both a
// filesystem-mutating call and a shell-executing call runs sequentially; no
// other cross-tool dependency is inferred.
func (s *Scheduler) Mode(calls []memory.PlannedCall) ExecutionMode {
	if !s.heuristic {
		return ModeParallel
	}
	var hasMutator, hasShell bool
	for _, call := range calls {
		tool, ok := s.registry.Get(call.Name)
		if !ok {
			continue
		}
		if HasCapability(tool, CapShellExecution) {
			hasShell = true
		}
		if HasCapability(tool, CapFilesystemMutation) && isMutatingCall(call) {
			hasMutator = true
		}
	}
	if hasMutator && hasShell {
		return ModeSequential
	}
	return ModeParallel
}

// isMutatingCall refines the capability tag with the call's "op" argument
// when present: a files read is not a mutation.
func isMutatingCall(call memory.PlannedCall) bool {
	op, ok := call.Args["op"].(string)
	if !ok {
		return true
	}
	return mutatingOps[op]
}

// ExecuteBatch runs all calls under the decided mode and aggregates results.
// Parallel mode dispatches concurrently and awaits every sibling; a failure
// never cancels the rest. Sequential mode preserves list order and does not
// short-circuit on failure.
func (s *Scheduler) ExecuteBatch(ctx context.Context, calls []memory.PlannedCall) *BatchResult {
	mode := s.Mode(calls)
	results := make([]memory.ToolCall, len(calls))

	switch mode {
	case ModeSequential:
		for i, call := range calls {
			results[i] = s.executeOne(ctx, call)
		}
	default:
		g, gctx := errgroup.WithContext(ctx)
		for i, call := range calls {
			g.Go(func() error {
				results[i] = s.executeOne(gctx, call)
				// Failures are carried in the result, never returned:
				// returning an error would cancel sibling calls.
				return nil
			})
		}
		_ = g.Wait()
	}

	return aggregate(results, mode)
}

// executeOne runs a single call, classifying its outcome.
func (s *Scheduler) executeOne(ctx context.Context, call memory.PlannedCall) memory.ToolCall {
	done := memory.ToolCall{Name: call.Name, Args: call.Args}
	start := time.Now()

	tool, ok := s.registry.Get(call.Name)
	if !ok {
		done.Outcome = memory.OutcomeFailure
		done.Error = fmt.Sprintf("Tool '%s' not found", call.Name)
		done.Duration = time.Since(start)
		s.observe(done)
		return done
	}

	result := safeExecute(ctx, tool, call.Args)
	done.Duration = time.Since(start)

	switch {
	case result.Success:
		done.Outcome = memory.OutcomeSuccess
		done.Result = result.Content
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		done.Outcome = memory.OutcomeTimeout
		done.Error = result.Error
		if done.Error == "" {
			done.Error = "tool execution timed out"
		}
	default:
		done.Outcome = memory.OutcomeFailure
		done.Error = result.Error
	}
	s.observe(done)
	return done
}

// safeExecute shields the scheduler from panicking tools.
func safeExecute(ctx context.Context, tool Tool, args map[string]any) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Fail("tool panicked: %v", r)
		}
	}()
	return tool.Execute(ctx, args)
}

func (s *Scheduler) observe(call memory.ToolCall) {
	if s.observer != nil {
		s.observer(call)
	}
}

// aggregate splits results into successes and failures and writes the
// human-readable batch summary.
func aggregate(results []memory.ToolCall, mode ExecutionMode) *BatchResult {
	batch := &BatchResult{
		ExecutionMode: mode,
		TotalExecuted: len(results),
		Calls:         results,
	}
	for _, r := range results {
		if r.Succeeded() {
			batch.Successful = append(batch.Successful, r)
		} else {
			batch.Failures = append(batch.Failures, r)
		}
	}
	batch.SuccessfulCount = len(batch.Successful)
	batch.FailedCount = len(batch.Failures)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Executed %d call(s) in %s mode: %d succeeded, %d failed.",
		batch.TotalExecuted, mode, batch.SuccessfulCount, batch.FailedCount)
	for _, f := range batch.Failures {
		fmt.Fprintf(&sb, " %s: %s.", f.Name, f.Error)
	}
	batch.Summary = sb.String()
	return batch
}
