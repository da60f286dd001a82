// Package events provides real-time task event delivery. Events are published
// in-process by the engine and fanned out to per-task subscriber channels,
// which the API layer drains into SSE streams.
//
// Delivery is best-effort: a slow subscriber loses events rather than
// stalling the engine. The persisted workspace is the authoritative record;
// the event stream is a live view, not a log.
package events

// Event type values carried in every payload's "type" field.
const (
	// Phase lifecycle, one pair per iteration phase (reason, act, respond).
	EventTypePhaseStart = "phase.start"
	EventTypePhaseEnd   = "phase.end"

	// Reasoning output, emitted as the parser yields it.
	EventTypeThink = "think"

	// Tool execution lifecycle.
	EventTypeCallPlanned = "call.planned"
	EventTypeCallResult  = "call.result"
	EventTypeToolBatch   = "tool.batch"

	// Task lifecycle.
	EventTypeResponse = "response"
	EventTypeError    = "error"
)

// Phase names used in PhaseStartPayload and PhaseEndPayload.
const (
	PhaseReason  = "reason"
	PhaseAct     = "act"
	PhaseRespond = "respond"
)

// TaskChannel returns the channel name for a task's events.
// Format: "task:{task_id}"
func TaskChannel(taskID string) string {
	return "task:" + taskID
}
