package memory

import "time"

// KnowledgeArtifact is a user-scoped, semantically-indexed piece of content
// retrieved automatically during context building.
type KnowledgeArtifact struct {
	Topic       string    `json:"topic"`
	UserID      string    `json:"user_id"`
	Content     string    `json:"content"`
	ContentType string    `json:"content_type,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ScoredArtifact pairs an artifact with its similarity to a query.
type ScoredArtifact struct {
	KnowledgeArtifact
	Similarity float32 `json:"similarity"`
}
