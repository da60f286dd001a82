package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sigil-dev/sigil/pkg/tools"
)

// FilesTool performs basic file operations rooted at a base directory.
type FilesTool struct {
	// Root confines all paths when non-empty.
	Root string
}

func (t *FilesTool) Name() string { return "files" }

func (t *FilesTool) Description() string {
	return "Create, read, write, edit or delete files."
}

func (t *FilesTool) Schema() tools.Schema {
	return tools.Schema{Params: []tools.Param{
		{Name: "op", Type: "string", Required: true,
			Enum:        []string{"create", "read", "write", "edit", "delete"},
			Description: "The file operation to perform"},
		{Name: "path", Type: "string", Required: true, Description: "Target file path"},
		{Name: "content", Type: "string", Description: "Content for create/write/edit"},
	}}
}

func (t *FilesTool) Examples() []string {
	return []string{`{"name":"files","args":{"op":"create","path":"notes.txt","content":"hi"}}`}
}

func (t *FilesTool) Rules() []string {
	return []string{"Paths are relative to the task workspace directory."}
}

func (t *FilesTool) Capabilities() []tools.Capability {
	return []tools.Capability{tools.CapFilesystemMutation}
}

func (t *FilesTool) Execute(_ context.Context, args map[string]any) tools.Result {
	op, _ := args["op"].(string)
	path, _ := args["path"].(string)
	if op == "" || path == "" {
		return tools.Fail("files requires 'op' and 'path' arguments")
	}

	resolved, err := t.resolve(path)
	if err != nil {
		return tools.Fail("%v", err)
	}
	content, _ := args["content"].(string)

	switch op {
	case "create", "write", "edit":
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return tools.Fail("create parent directory: %v", err)
		}
		if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
			return tools.Fail("%s %s: %v", op, path, err)
		}
		return tools.Ok(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
	case "read":
		data, err := os.ReadFile(resolved)
		if err != nil {
			return tools.Fail("read %s: %v", path, err)
		}
		return tools.Ok(string(data))
	case "delete":
		if err := os.Remove(resolved); err != nil {
			return tools.Fail("delete %s: %v", path, err)
		}
		return tools.Ok(fmt.Sprintf("deleted %s", path))
	default:
		return tools.Fail("unknown op %q", op)
	}
}

// resolve joins path onto Root and rejects escapes.
func (t *FilesTool) resolve(path string) (string, error) {
	if t.Root == "" {
		return path, nil
	}
	joined := filepath.Join(t.Root, path)
	rel, err := filepath.Rel(t.Root, joined)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes the workspace root", path)
	}
	return joined, nil
}
