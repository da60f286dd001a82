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
)

const noActionsMessage = "I was not able to make progress on this task. Could you clarify what you need, or provide more detail?"

// respond produces the final user-facing text, appends it to the
// conversation, and publishes the response event.
func (e *Engine) respond(ctx context.Context, st *State, opts Options) string {
	exec := st.Execution
	response := e.buildResponse(ctx, st)

	if opts.OutputSchema != "" {
		response = e.applyOutputSchema(ctx, response, opts.OutputSchema)
	}

	exec.Response = response
	st.Conversation.Append(memory.RoleAssistant, response)
	if err := e.deps.Store.SaveConversation(ctx, st.Conversation); err != nil {
		// Advisory write: the response is still returned to the caller.
		slog.Warn("Failed to persist conversation", "task_id", st.TaskID, "error", err)
	}
	if e.deps.OnMessage != nil {
		e.deps.OnMessage(st.UserID, st.Conversation.Messages[len(st.Conversation.Messages)-1])
	}

	if e.deps.Publisher != nil {
		e.deps.Publisher.PublishResponse(st.TaskID, events.ResponsePayload{
			Iteration:  exec.Iteration,
			Content:    response,
			StopReason: string(exec.StopReason),
		})
	}
	return response
}

// buildResponse picks the response branch.
func (e *Engine) buildResponse(ctx context.Context, st *State) string {
	exec := st.Execution

	// A stop with a user-facing message always wins: the fallback is
	// apologetic and non-technical, details stay on internal events.
	if exec.StopReason != memory.StopNone && exec.UserErrorMessage != "" {
		return exec.UserErrorMessage
	}

	// The loop already produced the final text (direct response or
	// forced completion synthesis).
	if exec.Response != "" {
		return exec.Response
	}

	batch := latestBatch(st)
	successes := 0
	for _, call := range batch {
		if call.Succeeded() {
			successes++
		}
	}

	switch {
	case successes > 0:
		return e.summarizeResults(ctx, st, batch)
	case len(batch) > 0:
		return acknowledgeFailures(batch)
	default:
		return e.answerFromContext(ctx, st)
	}
}

// latestBatch returns the completed calls belonging to the most recent Act.
func latestBatch(st *State) []memory.ToolCall {
	t := st.Workspace.LastThought()
	if t == nil || len(t.ToolCalls) == 0 {
		return nil
	}
	completed := st.Execution.CompletedCalls
	n := len(t.ToolCalls)
	if n > len(completed) {
		n = len(completed)
	}
	return completed[len(completed)-n:]
}

// summarizeResults asks the model to turn tool results into an answer,
// falling back to local synthesis when the model is unavailable.
func (e *Engine) summarizeResults(ctx context.Context, st *State, batch []memory.ToolCall) string {
	var sb strings.Builder
	sb.WriteString("Write the final answer for the user based on these tool results.\n\n")
	fmt.Fprintf(&sb, "Task: %s\n\nResults:\n", st.Workspace.Objective)
	for _, call := range batch {
		if call.Succeeded() {
			fmt.Fprintf(&sb, "- %s: %s\n", call.Name, call.Result)
		} else {
			fmt.Fprintf(&sb, "- %s failed: %s\n", call.Name, call.Error)
		}
	}
	sb.WriteString("\nAnswer directly and concisely. Do not mention the tools.")

	out, err := e.deps.LLM.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: sb.String()}})
	if err != nil || strings.TrimSpace(out) == "" {
		if err != nil {
			slog.Warn("Response synthesis via model failed, using local summary",
				"task_id", st.TaskID, "error", err)
		}
		return prompt.SynthesizeCompletion(st.Execution.Iteration, batch)
	}
	return strings.TrimSpace(out)
}

// acknowledgeFailures covers the only-failures branch.
func acknowledgeFailures(batch []memory.ToolCall) string {
	var sb strings.Builder
	sb.WriteString("I could not complete the task because the steps I tried failed:")
	for _, call := range batch {
		detail := call.Error
		if detail == "" {
			detail = string(call.Outcome)
		}
		fmt.Fprintf(&sb, "\n- %s: %s", call.Name, detail)
	}
	sb.WriteString("\n\nYou could try rephrasing the request, or I can attempt a different approach.")
	return sb.String()
}

// answerFromContext answers from the model's own knowledge plus workspace
// context when no tools ran.
func (e *Engine) answerFromContext(ctx context.Context, st *State) string {
	content := fmt.Sprintf("Answer the user's request directly.\n\nRequest: %s", st.Workspace.Objective)
	if len(st.Workspace.Insights) > 0 {
		content += "\n\nNotes gathered so far:\n- " + strings.Join(st.Workspace.Insights, "\n- ")
	}
	out, err := e.deps.LLM.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: content}})
	if err != nil || strings.TrimSpace(out) == "" {
		if err != nil {
			slog.Warn("Direct answer via model failed, using fallback",
				"task_id", st.TaskID, "error", err)
		}
		return noActionsMessage
	}
	return strings.TrimSpace(out)
}

// applyOutputSchema asks the model to reshape the response to a JSON schema.
// On failure the plain response is kept.
func (e *Engine) applyOutputSchema(ctx context.Context, response, schema string) string {
	content := fmt.Sprintf(
		"Reformat this answer as a single JSON document conforming to the schema. Output only the JSON.\n\nSchema:\n%s\n\nAnswer:\n%s",
		schema, response)
	out, err := e.deps.LLM.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: content}})
	if err != nil || strings.TrimSpace(out) == "" {
		slog.Warn("Output schema formatting failed, returning plain response", "error", err)
		return response
	}
	return strings.TrimSpace(out)
}
