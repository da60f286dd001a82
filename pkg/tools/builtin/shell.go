// Package builtin provides the reference tools wired into the default
// registry: shell, files and search. They are deliberately small; the
// runtime treats tools as opaque collaborators behind the tools.Tool
// contract, and imposes no sandboxing of its own.
package builtin

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/sigil-dev/sigil/pkg/tools"
)

// DefaultShellTimeout bounds one shell invocation.
const DefaultShellTimeout = 30 * time.Second

// ShellTool runs a command through /bin/sh -c.
type ShellTool struct {
	// WorkDir is the working directory for commands. Empty means inherit.
	WorkDir string
	// Timeout overrides DefaultShellTimeout when positive.
	Timeout time.Duration
}

func (t *ShellTool) Name() string        { return "shell" }
func (t *ShellTool) Description() string { return "Run a shell command and return its output." }

func (t *ShellTool) Schema() tools.Schema {
	return tools.Schema{Params: []tools.Param{
		{Name: "command", Type: "string", Description: "The command line to run", Required: true},
	}}
}

func (t *ShellTool) Examples() []string {
	return []string{`{"name":"shell","args":{"command":"ls -la"}}`}
}

func (t *ShellTool) Rules() []string {
	return []string{"Prefer non-interactive flags; commands cannot prompt for input."}
}

func (t *ShellTool) Capabilities() []tools.Capability {
	return []tools.Capability{tools.CapShellExecution}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]any) tools.Result {
	command, ok := args["command"].(string)
	if !ok || strings.TrimSpace(command) == "" {
		return tools.Fail("shell requires a non-empty 'command' argument")
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = t.WorkDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		out := strings.TrimSpace(stderr.String())
		if out == "" {
			out = strings.TrimSpace(stdout.String())
		}
		return tools.Fail("command failed: %v: %s", err, out)
	}
	return tools.Ok(stdout.String())
}
