package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptedClientReplaysEntriesInOrder(t *testing.T) {
	c := NewScriptedClient(
		ScriptEntry{Tokens: []string{"§think:", " a", "§end"}},
		ScriptEntry{Text: "§respond: done§end"},
	)

	tokens, errs := c.Stream(context.Background(), []Message{{Role: RoleUser, Content: "q"}})
	var got []string
	for tok := range tokens {
		got = append(got, tok)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, []string{"§think:", " a", "§end"}, got)

	out, err := c.Generate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "§respond: done§end", out)

	assert.Equal(t, 2, c.CallCount())
	require.Len(t, c.CapturedPrompt(0), 1)
	assert.Equal(t, "q", c.CapturedPrompt(0)[0].Content)
}

func TestScriptedClientErrorEntry(t *testing.T) {
	scriptErr := errors.New("provider unavailable")
	c := NewScriptedClient(ScriptEntry{Err: scriptErr})

	_, err := c.Generate(context.Background(), nil)
	assert.ErrorIs(t, err, scriptErr)
}

func TestScriptedClientExhausted(t *testing.T) {
	c := NewScriptedClient()

	_, err := c.Generate(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no more entries")
}

func TestScriptedClientBlockUntilCancelled(t *testing.T) {
	onBlock := make(chan struct{}, 1)
	c := NewScriptedClient(ScriptEntry{BlockUntilCancelled: true, OnBlock: onBlock})

	ctx, cancel := context.WithCancel(context.Background())
	tokens, errs := c.Stream(ctx, nil)

	select {
	case <-onBlock:
	case <-time.After(time.Second):
		t.Fatal("entry never entered its blocking path")
	}

	cancel()
	for range tokens {
	}
	assert.ErrorIs(t, <-errs, context.Canceled)
}
