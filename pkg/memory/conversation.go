package memory

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in a conversation's append-only log.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is a user-scoped, append-only message log. It is created with
// its first message and may outlive any task that references it.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversation creates an empty conversation log.
func NewConversation(id, userID string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a message to the log.
func (c *Conversation) Append(role Role, content string) {
	now := time.Now()
	c.Messages = append(c.Messages, Message{Role: role, Content: content, Timestamp: now})
	c.UpdatedAt = now
}

// Window returns the last n messages (all of them when n <= 0 or the log is
// shorter). The returned slice aliases the log; callers must not mutate it.
func (c *Conversation) Window(n int) []Message {
	if n <= 0 || len(c.Messages) <= n {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}
