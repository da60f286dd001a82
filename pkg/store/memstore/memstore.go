// Package memstore is the in-memory Store implementation used by unit tests
// and single-process dev mode. Entities are deep-copied on the way in and
// out so callers never share mutable state with the store; readers always
// see the last committed write, nothing in between.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sigil-dev/sigil/pkg/knowledge"
	"github.com/sigil-dev/sigil/pkg/memory"
	"github.com/sigil-dev/sigil/pkg/store"
)

// Store is a mutex-guarded map store.
type Store struct {
	mu            sync.RWMutex
	profiles      map[string]*memory.Profile              // user_id
	conversations map[string]*memory.Conversation         // conv_id \x00 user_id
	workspaces    map[string]*memory.Workspace            // task_id \x00 user_id
	artifacts     map[string]*memory.KnowledgeArtifact    // topic \x00 user_id
	index         *knowledge.Index
}

// New creates an empty in-memory store with its own ephemeral semantic index.
func New() *Store {
	return NewWithIndex(knowledge.NewIndex(nil))
}

// NewWithIndex creates a store over a caller-provided semantic index.
func NewWithIndex(index *knowledge.Index) *Store {
	return &Store{
		profiles:      map[string]*memory.Profile{},
		conversations: map[string]*memory.Conversation{},
		workspaces:    map[string]*memory.Workspace{},
		artifacts:     map[string]*memory.KnowledgeArtifact{},
		index:         index,
	}
}

func key(a, b string) string { return a + "\x00" + b }

// clone deep-copies an entity through its JSON form.
func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		// Entities are plain data structs; marshal cannot fail for them.
		panic(fmt.Sprintf("memstore: clone: %v", err))
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("memstore: clone: %v", err))
	}
	return out
}

// ── Profile ──────────────────────────────────────────────────

func (s *Store) SaveProfile(_ context.Context, profile *memory.Profile) error {
	if profile == nil || profile.UserID == "" {
		return fmt.Errorf("profile requires a user_id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Last-writer-wins on LastUpdated.
	if existing, ok := s.profiles[profile.UserID]; ok && existing.LastUpdated.After(profile.LastUpdated) {
		return nil
	}
	s.profiles[profile.UserID] = clone(profile)
	return nil
}

func (s *Store) LoadProfile(_ context.Context, userID string) (*memory.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(p), nil
}

func (s *Store) DeleteProfile(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, userID)
	return nil
}

// ── Conversation ─────────────────────────────────────────────

func (s *Store) SaveConversation(_ context.Context, conv *memory.Conversation) error {
	if conv == nil || conv.ID == "" || conv.UserID == "" {
		return fmt.Errorf("conversation requires id and user_id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[key(conv.ID, conv.UserID)] = clone(conv)
	return nil
}

func (s *Store) LoadConversation(_ context.Context, id, userID string) (*memory.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[key(id, userID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(c), nil
}

func (s *Store) DeleteConversation(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, key(id, userID))
	return nil
}

// ── Workspace ────────────────────────────────────────────────

func (s *Store) SaveWorkspace(_ context.Context, ws *memory.Workspace) error {
	if ws == nil || ws.TaskID == "" || ws.UserID == "" {
		return fmt.Errorf("workspace requires task_id and user_id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[key(ws.TaskID, ws.UserID)] = clone(ws)
	return nil
}

func (s *Store) LoadWorkspace(_ context.Context, taskID, userID string) (*memory.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[key(taskID, userID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(ws), nil
}

func (s *Store) DeleteWorkspace(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, ws := range s.workspaces {
		if ws.TaskID == taskID {
			delete(s.workspaces, k)
		}
	}
	return nil
}

func (s *Store) ListWorkspaces(_ context.Context, userID string) ([]*memory.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*memory.Workspace
	for _, ws := range s.workspaces {
		if ws.UserID == userID {
			out = append(out, clone(ws))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ── Knowledge ────────────────────────────────────────────────

func (s *Store) SaveKnowledge(ctx context.Context, artifact *memory.KnowledgeArtifact) error {
	if artifact == nil || artifact.Topic == "" || artifact.UserID == "" {
		return fmt.Errorf("knowledge artifact requires topic and user_id")
	}
	s.mu.Lock()
	s.artifacts[key(artifact.Topic, artifact.UserID)] = clone(artifact)
	s.mu.Unlock()
	return s.index.Add(ctx, artifact)
}

func (s *Store) SearchKnowledge(ctx context.Context, query, userID string, topK int, threshold float32) ([]memory.ScoredArtifact, error) {
	return s.index.Search(ctx, query, userID, topK, threshold)
}

func (s *Store) LoadKnowledge(_ context.Context, topic, userID string) (*memory.KnowledgeArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[key(topic, userID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(a), nil
}

func (s *Store) DeleteKnowledge(ctx context.Context, topic, userID string) error {
	s.mu.Lock()
	delete(s.artifacts, key(topic, userID))
	s.mu.Unlock()
	return s.index.Remove(ctx, topic, userID)
}

func (s *Store) Close() error { return nil }

// compile-time interface check
var _ store.Store = (*Store)(nil)
