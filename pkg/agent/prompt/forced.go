package prompt

import (
	"fmt"
	"strings"

	"github.com/sigil-dev/sigil/pkg/memory"
)

// completionCallWindow is how many of the most recent completed calls the
// synthesized summary draws on.
const completionCallWindow = 3

// SynthesizeCompletion builds the response used when the iteration budget
// runs out without the model concluding. It is assembled locally from the
// executed calls; no model turn is spent on it.
func SynthesizeCompletion(iterations int, calls []memory.ToolCall) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task completed after %d iterations.", iterations)

	recent := calls
	if len(recent) > completionCallWindow {
		recent = recent[len(recent)-completionCallWindow:]
	}
	if len(recent) == 0 {
		sb.WriteString(" No tool results were gathered before the iteration limit was reached.")
		return sb.String()
	}

	sb.WriteString(" Summary of the most recent results:\n")
	anySuccess := false
	for _, call := range recent {
		if call.Succeeded() {
			anySuccess = true
			fmt.Fprintf(&sb, "- %s: %s\n", call.Name, truncate(strings.TrimSpace(call.Result), 500))
		} else {
			detail := call.Error
			if detail == "" {
				detail = string(call.Outcome)
			}
			fmt.Fprintf(&sb, "- %s failed: %s\n", call.Name, detail)
		}
	}
	if !anySuccess {
		sb.WriteString("All recent tool calls failed, so these findings are incomplete.\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
