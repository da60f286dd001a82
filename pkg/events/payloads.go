package events

import "github.com/sigil-dev/sigil/pkg/memory"

// PhaseStartPayload is the payload for phase.start events.
type PhaseStartPayload struct {
	Type      string `json:"type"` // always EventTypePhaseStart
	TaskID    string `json:"task_id"`
	Iteration int    `json:"iteration"`
	Phase     string `json:"phase"`     // reason, act, respond
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// PhaseEndPayload is the payload for phase.end events.
type PhaseEndPayload struct {
	Type      string `json:"type"` // always EventTypePhaseEnd
	TaskID    string `json:"task_id"`
	Iteration int    `json:"iteration"`
	Phase     string `json:"phase"`
	Timestamp string `json:"timestamp"`
}

// ThinkPayload is the payload for think events. Emitted per parser event, so
// a single reasoning turn may produce several of these.
type ThinkPayload struct {
	Type      string `json:"type"` // always EventTypeThink
	TaskID    string `json:"task_id"`
	Iteration int    `json:"iteration"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// CallPlannedPayload is the payload for call.planned events, published when
// the reasoning phase commits to a batch of tool calls.
type CallPlannedPayload struct {
	Type      string               `json:"type"` // always EventTypeCallPlanned
	TaskID    string               `json:"task_id"`
	Iteration int                  `json:"iteration"`
	Calls     []memory.PlannedCall `json:"calls"`
	Mode      string               `json:"mode"` // parallel or sequential
	Timestamp string               `json:"timestamp"`
}

// CallResultPayload is the payload for call.result events, one per executed
// tool call.
type CallResultPayload struct {
	Type      string `json:"type"` // always EventTypeCallResult
	TaskID    string `json:"task_id"`
	Iteration int    `json:"iteration"`
	Tool      string `json:"tool"`
	Outcome   string `json:"outcome"` // success, failure, timeout, error
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ToolBatchPayload is the aggregate payload for one executed batch.
type ToolBatchPayload struct {
	Type            string `json:"type"` // always EventTypeToolBatch
	TaskID          string `json:"task_id"`
	Iteration       int    `json:"iteration"`
	ExecutionMode   string `json:"execution_mode"` // parallel or sequential
	SuccessfulCount int    `json:"successful_count"`
	FailedCount     int    `json:"failed_count"`
	Summary         string `json:"summary"`
	Timestamp       string `json:"timestamp"`
}

// ResponsePayload is the payload for response events: the task's final
// user-facing text plus the reason the loop stopped.
type ResponsePayload struct {
	Type       string `json:"type"` // always EventTypeResponse
	TaskID     string `json:"task_id"`
	Iteration  int    `json:"iteration"`
	Content    string `json:"content"`
	StopReason string `json:"stop_reason"`
	Timestamp  string `json:"timestamp"`
}

// ErrorPayload is the payload for error events. Content is the sanitized
// user-facing message; internal detail stays in the logs.
type ErrorPayload struct {
	Type      string `json:"type"` // always EventTypeError
	TaskID    string `json:"task_id"`
	Iteration int    `json:"iteration"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}
