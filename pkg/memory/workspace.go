package memory

import (
	"fmt"
	"slices"
	"time"
)

// Thought is one reasoning turn's record inside a workspace.
// Entries are append-only within a task.
type Thought struct {
	Iteration     int           `json:"iteration"`
	Thinking      string        `json:"thinking"`
	Planning      string        `json:"planning,omitempty"`
	Reflection    string        `json:"reflection,omitempty"`
	Approach      string        `json:"approach,omitempty"`
	ToolCalls     []PlannedCall `json:"tool_calls,omitempty"`
	ActionOutcome ActionOutcome `json:"action_outcome,omitempty"`
	ParseFailure  string        `json:"parse_failure,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Workspace is the task-scoped horizon: the accumulator of reasoning and
// facts persisted after every phase so a task survives process restarts.
type Workspace struct {
	TaskID         string `json:"task_id"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id,omitempty"`

	Objective string            `json:"objective"`
	Thoughts  []Thought         `json:"thoughts,omitempty"`
	Insights  []string          `json:"insights,omitempty"`
	Facts     map[string]string `json:"facts,omitempty"`
	Approach  string            `json:"approach,omitempty"`
	Mode      Mode              `json:"mode"`

	// LastModeSwitch is the iteration at which Mode last changed,
	// used to enforce the switch cooldown. -1 means never switched;
	// iteration 0 is a valid switch point.
	LastModeSwitch int `json:"last_mode_switch"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkspace creates a workspace for a new task.
func NewWorkspace(taskID, userID, objective string, mode Mode) *Workspace {
	now := time.Now()
	if mode == "" || mode == ModeAdapt {
		mode = ModeFast
	}
	return &Workspace{
		TaskID:         taskID,
		UserID:         userID,
		Objective:      objective,
		Facts:          map[string]string{},
		Mode:           mode,
		LastModeSwitch: -1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// AppendThought records a reasoning turn.
func (w *Workspace) AppendThought(t Thought) {
	t.CreatedAt = time.Now()
	w.Thoughts = append(w.Thoughts, t)
	w.UpdatedAt = t.CreatedAt
}

// LastThought returns the most recent thought, or nil when none exist.
func (w *Workspace) LastThought() *Thought {
	if len(w.Thoughts) == 0 {
		return nil
	}
	return &w.Thoughts[len(w.Thoughts)-1]
}

// RecentThoughts returns up to n most recent thoughts, oldest first.
func (w *Workspace) RecentThoughts(n int) []Thought {
	if n <= 0 || len(w.Thoughts) <= n {
		return w.Thoughts
	}
	return w.Thoughts[len(w.Thoughts)-n:]
}

// AddInsight records a learned insight, skipping duplicates.
func (w *Workspace) AddInsight(insight string) {
	if insight == "" || slices.Contains(w.Insights, insight) {
		return
	}
	w.Insights = append(w.Insights, insight)
	w.UpdatedAt = time.Now()
}

// SetFact records or overwrites a fact.
func (w *Workspace) SetFact(key, value string) {
	if w.Facts == nil {
		w.Facts = map[string]string{}
	}
	w.Facts[key] = value
	w.UpdatedAt = time.Now()
}

// SwitchMode transitions the reasoning mode. A switch requires a non-empty
// reason and is allowed at most once every cooldown iterations.
func (w *Workspace) SwitchMode(to Mode, reason string, iteration, cooldown int) error {
	if to != ModeFast && to != ModeDeep {
		return fmt.Errorf("invalid mode %q", to)
	}
	if to == w.Mode {
		return nil
	}
	if reason == "" {
		return fmt.Errorf("mode switch to %q requires a reason", to)
	}
	if w.LastModeSwitch >= 0 && iteration-w.LastModeSwitch < cooldown {
		return fmt.Errorf("mode switch on cooldown until iteration %d", w.LastModeSwitch+cooldown)
	}
	w.Mode = to
	w.LastModeSwitch = iteration
	w.UpdatedAt = time.Now()
	return nil
}
