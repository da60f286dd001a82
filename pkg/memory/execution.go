package memory

// StopReason records why the engine stopped iterating before a natural
// direct response.
type StopReason string

const (
	StopNone               StopReason = ""
	StopMaxIterations      StopReason = "max_iterations"
	StopNoActions          StopReason = "no_actions"
	StopLLMError           StopReason = "llm_error"
	StopParseErrorExceeded StopReason = "parse_error_exceeded"
)

// Execution is the ephemeral per-run horizon. It is reconstructed fresh at
// every task start or resume and discarded once a response is produced.
// Never persisted.
type Execution struct {
	Iteration     int
	MaxIterations int

	// PendingCalls is set by Reason and drained by Act.
	PendingCalls []PlannedCall
	// CompletedCalls is appended by Act, in execution order.
	CompletedCalls []ToolCall

	StopReason       StopReason
	Response         string
	UserErrorMessage string

	// ParseFailures counts consecutive call-JSON parse failures.
	// Reset on any successful decision extraction.
	ParseFailures int
}

// NewExecution creates a fresh execution record.
func NewExecution(maxIterations int) *Execution {
	return &Execution{MaxIterations: maxIterations}
}

// BudgetExhausted reports whether the iteration budget is spent.
func (e *Execution) BudgetExhausted() bool {
	return e.Iteration >= e.MaxIterations
}

// LastTurn reports whether the next Reason turn is the final one allowed,
// after which the engine forces completion.
func (e *Execution) LastTurn() bool {
	return e.Iteration == e.MaxIterations-1
}

// DrainPending removes and returns the pending calls.
func (e *Execution) DrainPending() []PlannedCall {
	calls := e.PendingCalls
	e.PendingCalls = nil
	return calls
}

// RecentCompleted returns up to n most recent completed calls, oldest first.
func (e *Execution) RecentCompleted(n int) []ToolCall {
	if n <= 0 || len(e.CompletedCalls) <= n {
		return e.CompletedCalls
	}
	return e.CompletedCalls[len(e.CompletedCalls)-n:]
}

// Terminal reports whether a response or stop reason has been set.
func (e *Execution) Terminal() bool {
	return e.Response != "" || e.StopReason != StopNone
}
