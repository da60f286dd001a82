package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Broadcaster delivers a marshaled event to a channel's subscribers.
// Implemented by Manager.
type Broadcaster interface {
	Broadcast(channel string, event []byte)
}

// EventPublisher publishes typed task events. Each public method takes a
// specific payload struct, stamps type and timestamp, and routes the
// marshaled JSON to the task's channel.
//
// Publishing is best-effort: failures are logged, never returned to the
// engine, because event delivery must not affect task execution.
type EventPublisher struct {
	broadcaster Broadcaster
}

// NewEventPublisher creates a publisher over a broadcaster.
func NewEventPublisher(b Broadcaster) *EventPublisher {
	return &EventPublisher{broadcaster: b}
}

func (p *EventPublisher) PublishPhaseStart(taskID string, payload PhaseStartPayload) {
	payload.Type = EventTypePhaseStart
	payload.TaskID = taskID
	payload.Timestamp = now()
	p.publish(taskID, payload)
}

func (p *EventPublisher) PublishPhaseEnd(taskID string, payload PhaseEndPayload) {
	payload.Type = EventTypePhaseEnd
	payload.TaskID = taskID
	payload.Timestamp = now()
	p.publish(taskID, payload)
}

func (p *EventPublisher) PublishThink(taskID string, payload ThinkPayload) {
	payload.Type = EventTypeThink
	payload.TaskID = taskID
	payload.Timestamp = now()
	p.publish(taskID, payload)
}

func (p *EventPublisher) PublishCallPlanned(taskID string, payload CallPlannedPayload) {
	payload.Type = EventTypeCallPlanned
	payload.TaskID = taskID
	payload.Timestamp = now()
	p.publish(taskID, payload)
}

func (p *EventPublisher) PublishCallResult(taskID string, payload CallResultPayload) {
	payload.Type = EventTypeCallResult
	payload.TaskID = taskID
	payload.Timestamp = now()
	p.publish(taskID, payload)
}

func (p *EventPublisher) PublishToolBatch(taskID string, payload ToolBatchPayload) {
	payload.Type = EventTypeToolBatch
	payload.TaskID = taskID
	payload.Timestamp = now()
	p.publish(taskID, payload)
}

func (p *EventPublisher) PublishResponse(taskID string, payload ResponsePayload) {
	payload.Type = EventTypeResponse
	payload.TaskID = taskID
	payload.Timestamp = now()
	p.publish(taskID, payload)
}

func (p *EventPublisher) PublishError(taskID string, payload ErrorPayload) {
	payload.Type = EventTypeError
	payload.TaskID = taskID
	payload.Timestamp = now()
	p.publish(taskID, payload)
}

func (p *EventPublisher) publish(taskID string, payload any) {
	if p == nil || p.broadcaster == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal event payload",
			"task_id", taskID, "error", fmt.Errorf("marshal payload: %w", err))
		return
	}
	p.broadcaster.Broadcast(TaskChannel(taskID), data)
}

func now() string {
	return time.Now().Format(time.RFC3339Nano)
}
