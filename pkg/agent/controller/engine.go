package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sigil-dev/sigil/pkg/events"
	"github.com/sigil-dev/sigil/pkg/memory"
	"github.com/sigil-dev/sigil/pkg/store"
)

// Options tunes a single task run.
type Options struct {
	// TaskID fixes the task identifier, letting callers subscribe to the
	// task's event channel before the run starts. Empty generates one.
	TaskID string
	// ConversationID attaches the task to an existing conversation.
	// Empty creates a new one.
	ConversationID string
	// Mode overrides the configured reasoning mode for this task.
	Mode memory.Mode
	// MaxIterations overrides the configured budget. Zero keeps the default.
	MaxIterations int
	// OutputSchema, when set, asks for the final response as JSON
	// conforming to this schema.
	OutputSchema string
}

// TaskResult is what a completed run returns to the caller.
type TaskResult struct {
	TaskID         string
	ConversationID string
	Response       string
	StopReason     memory.StopReason
	Iterations     int
	CompletedCalls []memory.ToolCall
}

// Engine sequences the Reason/Act/Respond phases and owns task lifecycle.
// One engine instance serves the whole process; each run drives exactly one
// task, guarded by a per-task lock so a task is never driven twice at once.
type Engine struct {
	deps Deps
	cfg  Config

	mu      sync.Mutex
	running map[string]bool
}

// NewEngine creates an engine over its collaborators.
func NewEngine(deps Deps, cfg Config) *Engine {
	return &Engine{deps: deps, cfg: cfg, running: map[string]bool{}}
}

// StartTask validates the query, creates the task state, and runs the loop
// to completion. An empty query is rejected before any state is created.
func (e *Engine) StartTask(ctx context.Context, query, userID string, opts Options) (*TaskResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	taskID := opts.TaskID
	if taskID == "" {
		taskID = uuid.New().String()
	}
	if !e.acquire(taskID) {
		return nil, ErrTaskBusy
	}
	defer e.release(taskID)

	profile := e.loadOrNewProfile(ctx, userID)

	conv, err := e.loadOrNewConversation(ctx, opts.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	conv.Append(memory.RoleUser, query)
	if err := e.deps.Store.SaveConversation(ctx, conv); err != nil {
		slog.Warn("Failed to persist conversation", "task_id", taskID, "error", err)
	}
	if e.deps.OnMessage != nil {
		e.deps.OnMessage(userID, conv.Messages[len(conv.Messages)-1])
	}

	mode := e.cfg.Mode
	if opts.Mode != "" {
		mode = opts.Mode
	}
	ws := memory.NewWorkspace(taskID, userID, query, mode)
	ws.ConversationID = conv.ID
	e.persistWorkspace(ctx, ws)

	st := &State{
		TaskID:       taskID,
		UserID:       userID,
		Profile:      profile,
		Conversation: conv,
		Workspace:    ws,
	}
	return e.run(ctx, st, opts)
}

// ContinueTask resumes a persisted task with a fresh execution record.
func (e *Engine) ContinueTask(ctx context.Context, taskID, userID string, opts Options) (*TaskResult, error) {
	if !e.acquire(taskID) {
		return nil, ErrTaskBusy
	}
	defer e.release(taskID)

	ws, err := e.deps.Store.LoadWorkspace(ctx, taskID, userID)
	if err != nil {
		return nil, fmt.Errorf("load workspace: %w", err)
	}

	conv, err := e.loadOrNewConversation(ctx, ws.ConversationID, userID)
	if err != nil {
		return nil, err
	}

	st := &State{
		TaskID:       taskID,
		UserID:       userID,
		Profile:      e.loadOrNewProfile(ctx, userID),
		Conversation: conv,
		Workspace:    ws,
	}
	return e.run(ctx, st, opts)
}

// run drives the loop: Reason until terminal, Act between turns, then
// Respond. The workspace is persisted after every phase; cancellation
// persists and returns without responding.
func (e *Engine) run(ctx context.Context, st *State, opts Options) (*TaskResult, error) {
	maxIters := e.cfg.MaxIterations
	if opts.MaxIterations > 0 {
		maxIters = opts.MaxIterations
	}
	st.Execution = memory.NewExecution(maxIters)
	exec := st.Execution

	for {
		e.phaseStart(st, events.PhaseReason)
		dec, err := e.reason(ctx, st)
		e.phaseEnd(st, events.PhaseReason)
		e.persistWorkspace(ctx, st.Workspace)
		if err != nil {
			// Cancellation: state is saved, Respond is skipped.
			return nil, err
		}

		if exec.Terminal() {
			break
		}
		if len(exec.PendingCalls) == 0 {
			if dec.ModeSwitched {
				continue
			}
			exec.StopReason = memory.StopNoActions
			break
		}

		e.phaseStart(st, events.PhaseAct)
		e.act(ctx, st)
		e.phaseEnd(st, events.PhaseAct)
		e.persistWorkspace(ctx, st.Workspace)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	e.phaseStart(st, events.PhaseRespond)
	response := e.respond(ctx, st, opts)
	e.phaseEnd(st, events.PhaseRespond)
	e.persistWorkspace(ctx, st.Workspace)

	return &TaskResult{
		TaskID:         st.TaskID,
		ConversationID: st.Conversation.ID,
		Response:       response,
		StopReason:     exec.StopReason,
		Iterations:     exec.Iteration,
		CompletedCalls: exec.CompletedCalls,
	}, nil
}

func (e *Engine) loadOrNewProfile(ctx context.Context, userID string) *memory.Profile {
	profile, err := e.deps.Store.LoadProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("Failed to load profile, starting empty", "user_id", userID, "error", err)
		}
		return memory.NewProfile(userID)
	}
	return profile
}

func (e *Engine) loadOrNewConversation(ctx context.Context, id, userID string) (*memory.Conversation, error) {
	if id == "" {
		return memory.NewConversation(uuid.New().String(), userID), nil
	}
	conv, err := e.deps.Store.LoadConversation(ctx, id, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return memory.NewConversation(id, userID), nil
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return conv, nil
}

// persistWorkspace is an advisory write: failures are logged, the run
// continues.
func (e *Engine) persistWorkspace(ctx context.Context, ws *memory.Workspace) {
	if err := e.deps.Store.SaveWorkspace(context.WithoutCancel(ctx), ws); err != nil {
		slog.Warn("Failed to persist workspace", "task_id", ws.TaskID, "error", err)
	}
}

func (e *Engine) acquire(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[taskID] {
		return false
	}
	e.running[taskID] = true
	return true
}

func (e *Engine) release(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, taskID)
}

func (e *Engine) phaseStart(st *State, phase string) {
	if e.deps.Publisher != nil {
		e.deps.Publisher.PublishPhaseStart(st.TaskID, events.PhaseStartPayload{
			Iteration: st.Execution.Iteration,
			Phase:     phase,
		})
	}
}

func (e *Engine) phaseEnd(st *State, phase string) {
	if e.deps.Publisher != nil {
		e.deps.Publisher.PublishPhaseEnd(st.TaskID, events.PhaseEndPayload{
			Iteration: st.Execution.Iteration,
			Phase:     phase,
		})
	}
}
