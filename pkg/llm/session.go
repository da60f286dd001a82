package llm

import (
	"context"
	"errors"
	"sync"
)

// Session is a stateful multi-turn exchange over a Client. It accumulates
// the message history so callers only send the next turn.
type Session struct {
	client Client

	mu       sync.Mutex
	messages []Message
	closed   bool
}

// Connect opens a session seeded with a system prompt (empty means none).
func Connect(client Client, systemPrompt string) *Session {
	s := &Session{client: client}
	if systemPrompt != "" {
		s.messages = append(s.messages, Message{Role: RoleSystem, Content: systemPrompt})
	}
	return s
}

// Send appends a user turn and streams the model's reply. The full reply is
// recorded as an assistant turn once the stream is drained.
func (s *Session) Send(ctx context.Context, content string) (<-chan string, <-chan error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		tokens := make(chan string)
		errs := make(chan error, 1)
		errs <- errors.New("llm: session closed")
		close(tokens)
		close(errs)
		return tokens, errs
	}
	s.messages = append(s.messages, Message{Role: RoleUser, Content: content})
	prompt := make([]Message, len(s.messages))
	copy(prompt, s.messages)
	s.mu.Unlock()

	inner, innerErrs := s.client.Stream(ctx, prompt)

	tokens := make(chan string, streamBuffer)
	errs := make(chan error, 1)
	go func() {
		defer close(tokens)
		defer close(errs)
		var reply string
		for tok := range inner {
			reply += tok
			tokens <- tok
		}
		if err := <-innerErrs; err != nil {
			errs <- err
			return
		}
		s.mu.Lock()
		s.messages = append(s.messages, Message{Role: RoleAssistant, Content: reply})
		s.mu.Unlock()
	}()
	return tokens, errs
}

// History returns a copy of the accumulated messages.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Close ends the session. The underlying client stays open.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
