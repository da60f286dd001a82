package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptEntry defines one scripted model turn.
type ScriptEntry struct {
	// Response content (set at most one of Tokens / Text).
	Tokens []string // exact token stream, useful for split-delimiter cases
	Text   string   // shorthand: emitted as a single token
	Err    error    // returned from the stream instead of content

	// Test control.
	BlockUntilCancelled bool            // hold the stream open until ctx is cancelled
	WaitCh              <-chan struct{} // hold the stream until closed, then emit normally
	OnBlock             chan<- struct{} // notified when the entry enters its blocking path
}

// ScriptedClient is a Client test double that replays scripted entries in
// order. It records every prompt it receives for assertion.
type ScriptedClient struct {
	mu       sync.Mutex
	entries  []ScriptEntry
	index    int
	captured [][]Message
}

// NewScriptedClient creates a scripted client with the given turns.
func NewScriptedClient(entries ...ScriptEntry) *ScriptedClient {
	return &ScriptedClient{entries: entries}
}

// Add appends a turn to the script.
func (c *ScriptedClient) Add(entry ScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

// CallCount returns how many turns have been consumed.
func (c *ScriptedClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.captured)
}

// CapturedPrompt returns the messages of the i-th call, nil when out of range.
func (c *ScriptedClient) CapturedPrompt(i int) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.captured) {
		return nil
	}
	return c.captured[i]
}

// Generate implements Client by joining the next entry's token stream.
func (c *ScriptedClient) Generate(ctx context.Context, messages []Message) (string, error) {
	tokens, errs := c.Stream(ctx, messages)
	var out string
	for tok := range tokens {
		out += tok
	}
	if err := <-errs; err != nil {
		return "", err
	}
	return out, nil
}

// Stream implements Client.
func (c *ScriptedClient) Stream(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	c.mu.Lock()
	c.captured = append(c.captured, messages)
	var entry *ScriptEntry
	if c.index < len(c.entries) {
		entry = &c.entries[c.index]
		c.index++
	}
	c.mu.Unlock()

	tokens := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(tokens)
		defer close(errs)

		if entry == nil {
			errs <- fmt.Errorf("scripted client: no more entries after %d calls", c.CallCount()-1)
			return
		}

		if entry.BlockUntilCancelled {
			if entry.OnBlock != nil {
				entry.OnBlock <- struct{}{}
			}
			<-ctx.Done()
			errs <- ctx.Err()
			return
		}

		if entry.WaitCh != nil {
			if entry.OnBlock != nil {
				entry.OnBlock <- struct{}{}
			}
			select {
			case <-entry.WaitCh:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}

		if entry.Err != nil {
			errs <- entry.Err
			return
		}

		out := entry.Tokens
		if len(out) == 0 && entry.Text != "" {
			out = []string{entry.Text}
		}
		for _, tok := range out {
			select {
			case tokens <- tok:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return tokens, errs
}

// Close implements Client.
func (c *ScriptedClient) Close() error { return nil }

var _ Client = (*ScriptedClient)(nil)
