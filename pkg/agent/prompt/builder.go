package prompt

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/sigil-dev/sigil/pkg/llm"
	"github.com/sigil-dev/sigil/pkg/memory"
)

const (
	// Prior thoughts included in the reasoning context per mode.
	fastThoughtWindow = 3
	deepThoughtWindow = 10

	// historyTokenBudget bounds the conversation history section. Older
	// messages are dropped first.
	historyTokenBudget = 2000

	// resultWindow bounds how many recent tool results are replayed.
	resultWindow = 6

	encodingName = "cl100k_base"
)

// Builder composes prompts for the execution engine. Thread-safe.
type Builder struct {
	enc *tiktoken.Tiktoken
}

// NewBuilder creates a Builder. The token encoder is best-effort: when it
// cannot be loaded, history bounding falls back to a character estimate.
func NewBuilder() *Builder {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		enc = nil
	}
	return &Builder{enc: enc}
}

// ReasonInput carries everything a reasoning turn's prompt is built from.
type ReasonInput struct {
	Profile         *memory.Profile
	History         []memory.Message
	Workspace       *memory.Workspace
	Execution       *memory.Execution
	ToolDefinitions string
	Knowledge       []memory.ScoredArtifact
}

// BuildReasonMessages builds the prompt for one reasoning turn.
func (b *Builder) BuildReasonMessages(in ReasonInput) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: b.buildSystemMessage(in)},
		{Role: llm.RoleUser, Content: b.buildUserMessage(in)},
	}
}

// BuildCorrectionMessage builds the retry prompt after a parse failure.
func (b *Builder) BuildCorrectionMessage(failure string) llm.Message {
	return llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf(correctionTemplate, failure)}
}

func (b *Builder) buildSystemMessage(in ReasonInput) string {
	var sb strings.Builder
	sb.WriteString(systemIdentity)
	sb.WriteString("\n\n")
	sb.WriteString(formatInstructions)

	if in.ToolDefinitions != "" {
		sb.WriteString("\n\n## Available tools\n\n")
		sb.WriteString(in.ToolDefinitions)
	}

	if in.Workspace != nil && in.Workspace.Mode == memory.ModeDeep {
		sb.WriteString("\n\n")
		sb.WriteString(deepGuidance)
	} else {
		sb.WriteString("\n\n")
		sb.WriteString(fastGuidance)
	}
	return sb.String()
}

func (b *Builder) buildUserMessage(in ReasonInput) string {
	var sb strings.Builder

	if s := formatProfile(in.Profile); s != "" {
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	if s := formatKnowledge(in.Knowledge); s != "" {
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	if s := b.formatHistory(in.History); s != "" {
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	if s := formatWorkspace(in.Workspace); s != "" {
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	if in.Execution != nil {
		if s := formatToolResults(in.Execution.RecentCompleted(resultWindow)); s != "" {
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("## Task\n")
	if in.Workspace != nil {
		sb.WriteString(in.Workspace.Objective)
		sb.WriteString("\n")
	}

	if in.Execution != nil {
		fmt.Fprintf(&sb, "\nIteration %d of %d.\n",
			in.Execution.Iteration+1, in.Execution.MaxIterations)
		if in.Execution.LastTurn() {
			sb.WriteString("\n")
			sb.WriteString(lastTurnWarning)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// formatHistory renders the conversation window, dropping oldest messages
// until the section fits the token budget.
func (b *Builder) formatHistory(history []memory.Message) string {
	if len(history) == 0 {
		return ""
	}
	start := 0
	for start < len(history) {
		total := 0
		for _, m := range history[start:] {
			total += b.countTokens(m.Content)
		}
		if total <= historyTokenBudget {
			break
		}
		start++
	}
	kept := history[start:]
	if len(kept) == 0 {
		// A single oversized message is kept rather than dropping everything.
		kept = history[len(history)-1:]
	}

	var sb strings.Builder
	sb.WriteString("## Conversation so far\n")
	for _, m := range kept {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	return sb.String()
}

func (b *Builder) countTokens(text string) int {
	if b.enc == nil {
		return len(text) / 4
	}
	return len(b.enc.Encode(text, nil, nil))
}

func formatProfile(p *memory.Profile) string {
	if p == nil {
		return ""
	}
	var lines []string
	if p.Who != "" {
		lines = append(lines, "Who: "+p.Who)
	}
	if p.CommunicationStyle != "" {
		lines = append(lines, "Preferred style: "+string(p.CommunicationStyle))
	}
	for k, v := range p.Preferences {
		lines = append(lines, fmt.Sprintf("Preference %s: %s", k, v))
	}
	if len(p.Goals) > 0 {
		lines = append(lines, "Goals: "+strings.Join(p.Goals, "; "))
	}
	if len(p.Expertise) > 0 {
		lines = append(lines, "Expertise: "+strings.Join(p.Expertise, ", "))
	}
	if len(lines) == 0 {
		return ""
	}
	return "## About the user\n" + strings.Join(lines, "\n") + "\n"
}

func formatKnowledge(artifacts []memory.ScoredArtifact) string {
	if len(artifacts) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Relevant knowledge\n")
	for _, a := range artifacts {
		fmt.Fprintf(&sb, "### %s\n%s\n", a.Topic, a.Content)
	}
	return sb.String()
}

// formatToolResults renders observations from executed calls, truncating
// oversized output.
func formatToolResults(calls []memory.ToolCall) string {
	if len(calls) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Tool results\n")
	for _, call := range calls {
		fmt.Fprintf(&sb, "### %s (%s)\n", call.Name, call.Outcome)
		if call.Error != "" {
			sb.WriteString(call.Error + "\n")
			continue
		}
		sb.WriteString(truncate(call.Result, maxResultChars) + "\n")
	}
	return sb.String()
}

const maxResultChars = 4000

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[output truncated]"
}

// formatWorkspace renders the task's accumulated state. Fast mode includes a
// compact view of the last few thoughts; deep mode includes more of them
// with their planning and reflection sections.
func formatWorkspace(ws *memory.Workspace) string {
	if ws == nil {
		return ""
	}
	deep := ws.Mode == memory.ModeDeep
	window := fastThoughtWindow
	if deep {
		window = deepThoughtWindow
	}

	var sb strings.Builder
	if len(ws.Insights) > 0 {
		sb.WriteString("## Insights\n")
		for _, ins := range ws.Insights {
			sb.WriteString("- " + ins + "\n")
		}
	}
	if len(ws.Facts) > 0 {
		sb.WriteString("## Known facts\n")
		for k, v := range ws.Facts {
			fmt.Fprintf(&sb, "- %s: %s\n", k, v)
		}
	}
	if ws.Approach != "" {
		sb.WriteString("## Current approach\n" + ws.Approach + "\n")
	}

	thoughts := ws.RecentThoughts(window)
	if len(thoughts) > 0 {
		sb.WriteString("## Previous reasoning\n")
		for _, t := range thoughts {
			fmt.Fprintf(&sb, "### Iteration %d\n", t.Iteration+1)
			sb.WriteString(t.Thinking + "\n")
			if deep {
				if t.Planning != "" {
					sb.WriteString("Plan: " + t.Planning + "\n")
				}
				if t.Reflection != "" {
					sb.WriteString("Reflection: " + t.Reflection + "\n")
				}
			}
			for _, call := range t.ToolCalls {
				fmt.Fprintf(&sb, "Called %s\n", call.Name)
			}
			if t.ActionOutcome != "" {
				fmt.Fprintf(&sb, "Outcome: %s\n", t.ActionOutcome)
			}
		}
	}
	return sb.String()
}
