// Package llm abstracts the language model behind a token-stream interface.
// The engine consumes raw text tokens and feeds them to the protocol parser;
// nothing downstream knows which provider produced them.
package llm

import "context"

// Role identifies the author of a prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a prompt.
type Message struct {
	Role    Role
	Content string
}

// Client generates model output for a prompt.
//
// Stream returns a token channel and an error channel. The token channel is
// closed when the stream ends; at most one error is sent on the error channel
// and both channels are closed after it. A caller must drain tokens until
// close, then check the error channel.
type Client interface {
	// Generate runs a non-streaming completion and returns the full text.
	Generate(ctx context.Context, messages []Message) (string, error)

	// Stream runs a streaming completion, yielding raw text tokens.
	Stream(ctx context.Context, messages []Message) (<-chan string, <-chan error)

	// Close releases provider resources.
	Close() error
}
