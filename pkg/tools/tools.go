// Package tools defines the tool contract, the registry that exposes tools
// to the engine, and the scheduler that executes call batches.
package tools

import (
	"context"
	"fmt"
	"strings"
)

// Capability tags a tool for the scheduler's dependency heuristic.
type Capability string

const (
	// CapFilesystemMutation marks tools that create/write/edit/delete files.
	CapFilesystemMutation Capability = "filesystem_mutation"
	// CapShellExecution marks tools that run shell commands.
	CapShellExecution Capability = "shell_execution"
)

// Param describes one tool parameter.
type Param struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Schema is a tool's enumerated parameter descriptor.
type Schema struct {
	Params []Param `json:"params,omitempty"`
}

// Result is a tool execution outcome. Success carries Content (and optional
// structured Data); failure carries Error.
type Result struct {
	Success bool           `json:"success"`
	Content string         `json:"content,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Ok builds a success result.
func Ok(content string) Result {
	return Result{Success: true, Content: content}
}

// Fail builds a failure result.
func Fail(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Tool is the uniform contract every tool implements. Implementations should
// be idempotent on repeated identical calls where practical; the engine makes
// no retry decision of its own.
type Tool interface {
	Name() string
	Description() string
	Schema() Schema
	Examples() []string
	Rules() []string
	Capabilities() []Capability

	// Execute runs the tool. Failures are reported in the Result; an error
	// return is reserved for execution machinery faults (panics, transport).
	Execute(ctx context.Context, args map[string]any) Result
}

// HasCapability reports whether a tool carries the given capability tag.
func HasCapability(t Tool, cap Capability) bool {
	for _, c := range t.Capabilities() {
		if c == cap {
			return true
		}
	}
	return false
}

// RenderDefinition formats one tool for prompt injection: name, description,
// schema, examples and rules in a compact plain-text block.
func RenderDefinition(t Tool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "- %s: %s\n", t.Name(), t.Description())
	if params := t.Schema().Params; len(params) > 0 {
		sb.WriteString("  parameters:\n")
		for _, p := range params {
			req := ""
			if p.Required {
				req = " (required)"
			}
			fmt.Fprintf(&sb, "    %s <%s>%s: %s\n", p.Name, p.Type, req, p.Description)
			if len(p.Enum) > 0 {
				fmt.Fprintf(&sb, "      one of: %s\n", strings.Join(p.Enum, ", "))
			}
		}
	}
	for _, ex := range t.Examples() {
		fmt.Fprintf(&sb, "  example: %s\n", ex)
	}
	for _, r := range t.Rules() {
		fmt.Fprintf(&sb, "  rule: %s\n", r)
	}
	return sb.String()
}
