package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/sigil-dev/sigil/pkg/tools"
)

// SearchFunc answers a search query. Production deployments plug in a real
// search backend; tests use a canned function.
type SearchFunc func(ctx context.Context, query string) (string, error)

// SearchTool answers free-text queries through an injected backend.
type SearchTool struct {
	Search SearchFunc
}

func (t *SearchTool) Name() string        { return "search" }
func (t *SearchTool) Description() string { return "Search for information on a topic." }

func (t *SearchTool) Schema() tools.Schema {
	return tools.Schema{Params: []tools.Param{
		{Name: "query", Type: "string", Required: true, Description: "The search query"},
	}}
}

func (t *SearchTool) Examples() []string {
	return []string{`{"name":"search","args":{"query":"go context cancellation"}}`}
}

func (t *SearchTool) Rules() []string { return nil }

func (t *SearchTool) Capabilities() []tools.Capability { return nil }

func (t *SearchTool) Execute(ctx context.Context, args map[string]any) tools.Result {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return tools.Fail("search requires a non-empty 'query' argument")
	}
	if t.Search == nil {
		return tools.Fail("no search backend configured")
	}
	answer, err := t.Search(ctx, query)
	if err != nil {
		return tools.Fail("search %q: %v", query, err)
	}
	return tools.Ok(fmt.Sprintf("Results for %q:\n%s", query, answer))
}
