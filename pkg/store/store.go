// Package store defines the abstract persistence contract for the three
// persisted horizons (profile, conversation, workspace) and for knowledge
// artifacts. Implementations must serialize operations per key, keep
// different keys parallel-safe, and report failures as returned errors,
// never panics. Missing entities are ErrNotFound.
package store

import (
	"context"
	"errors"

	"github.com/sigil-dev/sigil/pkg/memory"
)

// ErrNotFound is returned when a load targets an entity that does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the abstract persistence interface consumed by the engine.
//
// Persistence discipline per horizon:
//   - Profile: saved on change, read at task start.
//   - Conversation: append-only log, written on every message.
//   - Workspace: saved after every phase, loaded on resume.
//   - Execution: never stored, so it does not appear here.
//   - Knowledge: written on demand, read via similarity search.
type Store interface {
	SaveProfile(ctx context.Context, profile *memory.Profile) error
	LoadProfile(ctx context.Context, userID string) (*memory.Profile, error)
	DeleteProfile(ctx context.Context, userID string) error

	SaveConversation(ctx context.Context, conv *memory.Conversation) error
	LoadConversation(ctx context.Context, id, userID string) (*memory.Conversation, error)
	DeleteConversation(ctx context.Context, id, userID string) error

	SaveWorkspace(ctx context.Context, ws *memory.Workspace) error
	LoadWorkspace(ctx context.Context, taskID, userID string) (*memory.Workspace, error)
	DeleteWorkspace(ctx context.Context, taskID string) error
	ListWorkspaces(ctx context.Context, userID string) ([]*memory.Workspace, error)

	SaveKnowledge(ctx context.Context, artifact *memory.KnowledgeArtifact) error
	SearchKnowledge(ctx context.Context, query, userID string, topK int, threshold float32) ([]memory.ScoredArtifact, error)
	LoadKnowledge(ctx context.Context, topic, userID string) (*memory.KnowledgeArtifact, error)
	DeleteKnowledge(ctx context.Context, topic, userID string) error

	Close() error
}
