package controller

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/sigil/pkg/agent/prompt"
	"github.com/sigil-dev/sigil/pkg/events"
	"github.com/sigil-dev/sigil/pkg/llm"
	"github.com/sigil-dev/sigil/pkg/memory"
	"github.com/sigil-dev/sigil/pkg/store/memstore"
	"github.com/sigil-dev/sigil/pkg/tools"
	"github.com/sigil-dev/sigil/pkg/tools/builtin"
)

type stubTool struct {
	name string
	caps []tools.Capability
	fn   func(ctx context.Context, args map[string]any) tools.Result
}

func (s *stubTool) Name() string                     { return s.name }
func (s *stubTool) Description() string              { return s.name + " stub" }
func (s *stubTool) Schema() tools.Schema             { return tools.Schema{} }
func (s *stubTool) Examples() []string               { return nil }
func (s *stubTool) Rules() []string                  { return nil }
func (s *stubTool) Capabilities() []tools.Capability { return s.caps }
func (s *stubTool) Execute(ctx context.Context, args map[string]any) tools.Result {
	if s.fn != nil {
		return s.fn(ctx, args)
	}
	return tools.Ok("ok")
}

type testRig struct {
	engine *Engine
	store  *memstore.Store
	client *llm.ScriptedClient
}

func newRig(t *testing.T, maxIterations int, toolset ...tools.Tool) *testRig {
	t.Helper()
	st := memstore.New()
	client := llm.NewScriptedClient()
	registry, err := tools.NewRegistry(toolset...)
	require.NoError(t, err)
	deps := Deps{
		Store:     st,
		LLM:       client,
		Registry:  registry,
		Scheduler: tools.NewScheduler(registry, true, nil),
		Prompts:   prompt.NewBuilder(),
	}
	cfg := Config{MaxIterations: maxIterations, Mode: memory.ModeFast, ModeSwitchCooldown: 2}
	return &testRig{engine: NewEngine(deps, cfg), store: st, client: client}
}

func shellStub(output string) *stubTool {
	return &stubTool{
		name: "shell",
		caps: []tools.Capability{tools.CapShellExecution},
		fn: func(_ context.Context, _ map[string]any) tools.Result {
			return tools.Ok(output)
		},
	}
}

func TestDirectAnswer(t *testing.T) {
	rig := newRig(t, 10)
	rig.client.Add(llm.ScriptEntry{Text: "§respond:\n4§end"})

	res, err := rig.engine.StartTask(context.Background(), "What is 2+2?", "alice", Options{})
	require.NoError(t, err)

	assert.Equal(t, "4", res.Response)
	assert.Equal(t, 1, res.Iterations)
	assert.Empty(t, res.CompletedCalls)
	assert.Equal(t, memory.StopNone, res.StopReason)

	ws, err := rig.store.LoadWorkspace(context.Background(), res.TaskID, "alice")
	require.NoError(t, err)
	assert.Len(t, ws.Thoughts, res.Iterations)
}

func TestSingleToolCall(t *testing.T) {
	rig := newRig(t, 10, shellStub("a.txt\nb.txt\n"))
	rig.client.Add(llm.ScriptEntry{Text: "§think:\nI need to list files.§call:\n[{\"name\":\"shell\",\"args\":{\"command\":\"ls\"}}]§execute"})
	rig.client.Add(llm.ScriptEntry{Text: "§respond:\nFiles: a.txt, b.txt§end"})

	res, err := rig.engine.StartTask(context.Background(), "List files in ./", "alice", Options{})
	require.NoError(t, err)

	assert.Contains(t, res.Response, "a.txt")
	assert.Contains(t, res.Response, "b.txt")
	assert.Len(t, res.CompletedCalls, 1)
	assert.Equal(t, "shell", res.CompletedCalls[0].Name)
	assert.True(t, res.CompletedCalls[0].Succeeded())
	assert.Equal(t, 2, res.Iterations)
}

func TestForcedCompletionAtBudget(t *testing.T) {
	rig := newRig(t, 2, shellStub("etc hosts"))
	callTurn := llm.ScriptEntry{Text: "§think:\nstill digging§call:\n[{\"name\":\"shell\",\"args\":{\"command\":\"ls\"}}]§execute"}
	rig.client.Add(callTurn)
	rig.client.Add(callTurn)

	res, err := rig.engine.StartTask(context.Background(), "Investigate the host config", "alice", Options{})
	require.NoError(t, err)

	assert.Contains(t, res.Response, "Task completed after 2 iterations")
	assert.Equal(t, memory.StopMaxIterations, res.StopReason)
	assert.Len(t, res.CompletedCalls, 2)
	// Forced completion never spends another model turn.
	assert.Equal(t, 2, rig.client.CallCount())
}

func TestMaxIterationsOneNeverLoops(t *testing.T) {
	rig := newRig(t, 1, shellStub("data"))
	rig.client.Add(llm.ScriptEntry{Text: "§call:\n[{\"name\":\"shell\",\"args\":{}}]§execute"})

	res, err := rig.engine.StartTask(context.Background(), "Check something", "alice", Options{})
	require.NoError(t, err)

	assert.Equal(t, memory.StopMaxIterations, res.StopReason)
	assert.Contains(t, res.Response, "Task completed after 1 iterations")
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 1, rig.client.CallCount())
}

func TestMalformedCallJSONRecoversAfterCorrection(t *testing.T) {
	rig := newRig(t, 10, shellStub("fine"))
	rig.client.Add(llm.ScriptEntry{Text: "§call:\n{not valid json§execute"})
	rig.client.Add(llm.ScriptEntry{Text: "§call:\n[{\"name\":\"shell\",\"args\":{}}]§execute"})
	rig.client.Add(llm.ScriptEntry{Text: "§respond:\nall done§end"})

	res, err := rig.engine.StartTask(context.Background(), "Run the check", "alice", Options{})
	require.NoError(t, err)

	assert.Equal(t, "all done", res.Response)
	assert.Len(t, res.CompletedCalls, 1)
	// Initial turn, correction retry, then the concluding turn.
	assert.Equal(t, 3, rig.client.CallCount())
	// The correction prompt was actually sent.
	correction := rig.client.CapturedPrompt(1)
	require.NotEmpty(t, correction)
	assert.Contains(t, correction[len(correction)-1].Content, "could not be processed")

	// The corrected failure is recorded on the turn's thought, not just
	// published as an event.
	ws, err := rig.store.LoadWorkspace(context.Background(), res.TaskID, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, ws.Thoughts)
	assert.NotEmpty(t, ws.Thoughts[0].ParseFailure)
}

func TestTwoConsecutiveParseFailuresStopTheTask(t *testing.T) {
	rig := newRig(t, 10)
	rig.client.Add(llm.ScriptEntry{Text: "§call:\n{not valid json§execute"})
	rig.client.Add(llm.ScriptEntry{Text: "§call:\n{still broken§execute"})

	res, err := rig.engine.StartTask(context.Background(), "Run the check", "alice", Options{})
	require.NoError(t, err)

	assert.Equal(t, memory.StopParseErrorExceeded, res.StopReason)
	assert.Equal(t, parseFailureMessage, res.Response)
	assert.Equal(t, 2, rig.client.CallCount())
}

func TestEmptyQueryRejectedWithoutState(t *testing.T) {
	rig := newRig(t, 10)

	_, err := rig.engine.StartTask(context.Background(), "   ", "alice", Options{})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	list, err := rig.store.ListWorkspaces(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, rig.client.CallCount())
}

func TestNoActionsFallsBackToDirectAnswer(t *testing.T) {
	rig := newRig(t, 10)
	// The turn ends without content, calls, or response.
	rig.client.Add(llm.ScriptEntry{Text: "§end"})
	// Respond's context branch then asks the model directly.
	rig.client.Add(llm.ScriptEntry{Text: "Paris is the capital of France."})

	res, err := rig.engine.StartTask(context.Background(), "What is the capital of France?", "alice", Options{})
	require.NoError(t, err)

	assert.Equal(t, memory.StopNoActions, res.StopReason)
	assert.Equal(t, "Paris is the capital of France.", res.Response)
}

func TestLLMHardFailureAfterRetry(t *testing.T) {
	rig := newRig(t, 10)
	boom := errors.New("rate limited")
	rig.client.Add(llm.ScriptEntry{Err: boom})
	rig.client.Add(llm.ScriptEntry{Err: boom})

	res, err := rig.engine.StartTask(context.Background(), "Do the thing", "alice", Options{})
	require.NoError(t, err)

	assert.Equal(t, memory.StopLLMError, res.StopReason)
	assert.Equal(t, llmFailureMessage, res.Response)
	assert.Equal(t, 2, rig.client.CallCount())
}

func TestLLMTransientFailureRetriesOnce(t *testing.T) {
	rig := newRig(t, 10)
	rig.client.Add(llm.ScriptEntry{Err: errors.New("connection reset")})
	rig.client.Add(llm.ScriptEntry{Text: "§respond:\nrecovered§end"})

	res, err := rig.engine.StartTask(context.Background(), "Do the thing", "alice", Options{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Response)
	assert.Equal(t, memory.StopNone, res.StopReason)
}

func TestCancellationPersistsWorkspaceAndSkipsRespond(t *testing.T) {
	rig := newRig(t, 10, shellStub("data"))
	rig.client.Add(llm.ScriptEntry{Text: "§call:\n[{\"name\":\"shell\",\"args\":{}}]§execute"})
	onBlock := make(chan struct{}, 1)
	rig.client.Add(llm.ScriptEntry{BlockUntilCancelled: true, OnBlock: onBlock})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *TaskResult, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := rig.engine.StartTask(ctx, "Long task", "alice", Options{})
		done <- res
		errCh <- err
	}()

	select {
	case <-onBlock:
	case <-time.After(2 * time.Second):
		t.Fatal("second turn never started")
	}
	cancel()

	res := <-done
	err := <-errCh
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)

	// The first completed phase's state survived.
	list, lerr := rig.store.ListWorkspaces(context.Background(), "alice")
	require.NoError(t, lerr)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Thoughts, 1)
}

func TestContinueTaskResumesWorkspace(t *testing.T) {
	rig := newRig(t, 10, shellStub("data"))
	rig.client.Add(llm.ScriptEntry{Text: "§call:\n[{\"name\":\"shell\",\"args\":{}}]§execute"})
	rig.client.Add(llm.ScriptEntry{Text: "§respond:\nfirst pass done§end"})

	res, err := rig.engine.StartTask(context.Background(), "Phase one", "alice", Options{})
	require.NoError(t, err)

	rig.client.Add(llm.ScriptEntry{Text: "§respond:\nsecond pass done§end"})
	res2, err := rig.engine.ContinueTask(context.Background(), res.TaskID, "alice", Options{})
	require.NoError(t, err)
	assert.Equal(t, "second pass done", res2.Response)

	ws, err := rig.store.LoadWorkspace(context.Background(), res.TaskID, "alice")
	require.NoError(t, err)
	// Two thoughts from the first run, one from the resume.
	assert.Len(t, ws.Thoughts, 3)
}

func TestContinueUnknownTask(t *testing.T) {
	rig := newRig(t, 10)
	_, err := rig.engine.ContinueTask(context.Background(), "no-such-task", "alice", Options{})
	assert.Error(t, err)
}

func TestConcurrentDriversRejected(t *testing.T) {
	rig := newRig(t, 10)

	ws := memory.NewWorkspace("t-busy", "alice", "slow task", memory.ModeFast)
	require.NoError(t, rig.store.SaveWorkspace(context.Background(), ws))

	release := make(chan struct{})
	onBlock := make(chan struct{}, 1)
	rig.client.Add(llm.ScriptEntry{WaitCh: release, OnBlock: onBlock, Text: "§respond:\ndone§end"})

	go func() {
		_, _ = rig.engine.ContinueTask(context.Background(), "t-busy", "alice", Options{})
	}()
	select {
	case <-onBlock:
	case <-time.After(2 * time.Second):
		t.Fatal("first driver never reached the model call")
	}

	_, err := rig.engine.ContinueTask(context.Background(), "t-busy", "alice", Options{})
	assert.ErrorIs(t, err, ErrTaskBusy)
	close(release)
}

func TestModeSwitchDirective(t *testing.T) {
	rig := newRig(t, 10, shellStub("data"))
	rig.client.Add(llm.ScriptEntry{Text: "§think:\nThis needs more care.§call:\n" +
		"[{\"name\":\"switch_mode\",\"args\":{\"to\":\"deep\",\"reason\":\"multi step investigation\"}}," +
		"{\"name\":\"shell\",\"args\":{}}]§execute"})
	rig.client.Add(llm.ScriptEntry{Text: "§respond:\ndone§end"})

	res, err := rig.engine.StartTask(context.Background(), "Tricky task", "alice", Options{})
	require.NoError(t, err)

	ws, err := rig.store.LoadWorkspace(context.Background(), res.TaskID, "alice")
	require.NoError(t, err)
	assert.Equal(t, memory.ModeDeep, ws.Mode)
	// The directive itself never reaches the scheduler.
	require.Len(t, res.CompletedCalls, 1)
	assert.Equal(t, "shell", res.CompletedCalls[0].Name)
}

func TestModeSwitchOnlyTurnContinuesLoop(t *testing.T) {
	rig := newRig(t, 10)
	rig.client.Add(llm.ScriptEntry{Text: "§call:\n[{\"name\":\"switch_mode\",\"args\":{\"to\":\"deep\",\"reason\":\"needs depth\"}}]§execute"})
	rig.client.Add(llm.ScriptEntry{Text: "§respond:\nthought it through§end"})

	res, err := rig.engine.StartTask(context.Background(), "Tricky task", "alice", Options{})
	require.NoError(t, err)
	assert.Equal(t, "thought it through", res.Response)
	assert.Equal(t, memory.StopNone, res.StopReason)
	assert.Equal(t, 2, res.Iterations)
}

func TestUnknownToolFailsThatCallOnly(t *testing.T) {
	rig := newRig(t, 10, shellStub("ran fine"))
	rig.client.Add(llm.ScriptEntry{Text: "§call:\n[{\"name\":\"nonexistent\",\"args\":{}},{\"name\":\"shell\",\"args\":{}}]§execute"})
	rig.client.Add(llm.ScriptEntry{Text: "§respond:\nwrapped up§end"})

	res, err := rig.engine.StartTask(context.Background(), "Mixed batch", "alice", Options{})
	require.NoError(t, err)

	require.Len(t, res.CompletedCalls, 2)
	byName := map[string]memory.ToolCall{}
	for _, c := range res.CompletedCalls {
		byName[c.Name] = c
	}
	assert.False(t, byName["nonexistent"].Succeeded())
	assert.Contains(t, byName["nonexistent"].Error, "not found")
	assert.True(t, byName["shell"].Succeeded())
}

// newEventRig wires a live event manager into the engine so tests can assert
// on the published stream.
func newEventRig(t *testing.T, toolset ...tools.Tool) (*testRig, *events.Manager) {
	t.Helper()
	st := memstore.New()
	client := llm.NewScriptedClient()
	registry, err := tools.NewRegistry(toolset...)
	require.NoError(t, err)
	manager := events.NewManager()
	t.Cleanup(manager.Close)
	deps := Deps{
		Store:     st,
		LLM:       client,
		Registry:  registry,
		Scheduler: tools.NewScheduler(registry, true, nil),
		Prompts:   prompt.NewBuilder(),
		Publisher: events.NewEventPublisher(manager),
	}
	cfg := Config{MaxIterations: 10, Mode: memory.ModeFast, ModeSwitchCooldown: 2}
	return &testRig{engine: NewEngine(deps, cfg), store: st, client: client}, manager
}

// drainEvents decodes everything buffered on a subscription.
func drainEvents(ch <-chan []byte) []map[string]any {
	var out []map[string]any
	for {
		select {
		case data, ok := <-ch:
			if !ok {
				return out
			}
			var ev map[string]any
			if json.Unmarshal(data, &ev) == nil {
				out = append(out, ev)
			}
		default:
			return out
		}
	}
}

func eventsOfType(evs []map[string]any, typ string) []map[string]any {
	var out []map[string]any
	for _, ev := range evs {
		if ev["type"] == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestParallelSearchBatch(t *testing.T) {
	search := &builtin.SearchTool{
		Search: func(_ context.Context, query string) (string, error) {
			if strings.Contains(query, "weather") {
				return "Sunny, 22C in Lisbon", nil
			}
			return "Lisbon: capital of Portugal, population 545k", nil
		},
	}
	rig, manager := newEventRig(t, search)
	ch, cancel := manager.Subscribe(events.TaskChannel("task-parallel"))
	defer cancel()

	rig.client.Add(llm.ScriptEntry{Text: "§think:\nTwo independent lookups, run them together.§call:\n" +
		`[{"name":"search","args":{"query":"weather in Lisbon"}},{"name":"search","args":{"query":"Lisbon facts"}}]§execute`})
	rig.client.Add(llm.ScriptEntry{Text: "§respond:\nIt is sunny and 22C in Lisbon, the capital of Portugal.§end"})

	res, err := rig.engine.StartTask(context.Background(),
		"What's the weather in Lisbon, and tell me about the city", "alice",
		Options{TaskID: "task-parallel"})
	require.NoError(t, err)

	require.Len(t, res.CompletedCalls, 2)
	assert.True(t, res.CompletedCalls[0].Succeeded())
	assert.True(t, res.CompletedCalls[1].Succeeded())
	assert.Contains(t, res.Response, "sunny")

	evs := drainEvents(ch)
	batches := eventsOfType(evs, "tool.batch")
	require.Len(t, batches, 1)
	assert.Equal(t, "parallel", batches[0]["execution_mode"])
	assert.Equal(t, float64(2), batches[0]["successful_count"])
	assert.Equal(t, float64(0), batches[0]["failed_count"])
	assert.Len(t, eventsOfType(evs, "call.result"), 2)
	require.Len(t, eventsOfType(evs, "response"), 1)
}

func TestSequentialFileThenShellBatch(t *testing.T) {
	dir := t.TempDir()
	rig, manager := newEventRig(t,
		&builtin.FilesTool{Root: dir},
		&builtin.ShellTool{WorkDir: dir},
	)
	ch, cancel := manager.Subscribe(events.TaskChannel("task-sequential"))
	defer cancel()

	rig.client.Add(llm.ScriptEntry{Text: "§think:\nCreate the file first, then read it back with the shell.§call:\n" +
		`[{"name":"files","args":{"op":"create","path":"note.txt","content":"hi"}},{"name":"shell","args":{"command":"cat note.txt"}}]§execute`})
	rig.client.Add(llm.ScriptEntry{Text: "§respond:\nCreated note.txt; it contains: hi§end"})

	res, err := rig.engine.StartTask(context.Background(),
		"Create note.txt with 'hi' and show its contents", "alice",
		Options{TaskID: "task-sequential"})
	require.NoError(t, err)

	require.Len(t, res.CompletedCalls, 2)
	assert.Equal(t, "files", res.CompletedCalls[0].Name)
	assert.True(t, res.CompletedCalls[0].Succeeded())
	assert.Equal(t, "shell", res.CompletedCalls[1].Name)
	require.True(t, res.CompletedCalls[1].Succeeded())
	// The shell call observes the file the files call just wrote.
	assert.Equal(t, "hi", res.CompletedCalls[1].Result)

	evs := drainEvents(ch)
	batches := eventsOfType(evs, "tool.batch")
	require.Len(t, batches, 1)
	assert.Equal(t, "sequential", batches[0]["execution_mode"])
	assert.Equal(t, float64(2), batches[0]["successful_count"])
}

func TestConversationRecordsBothSides(t *testing.T) {
	rig := newRig(t, 10)
	rig.client.Add(llm.ScriptEntry{Text: "§respond:\nhello back§end"})

	res, err := rig.engine.StartTask(context.Background(), "Say hello", "alice", Options{})
	require.NoError(t, err)

	conv, err := rig.store.LoadConversation(context.Background(), res.ConversationID, "alice")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, memory.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "Say hello", conv.Messages[0].Content)
	assert.Equal(t, memory.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "hello back", conv.Messages[1].Content)
}
