// Package postgres is the PostgreSQL Store implementation. Profiles,
// workspaces, and knowledge artifacts are persisted as JSONB payloads;
// conversation messages get their own ordered rows so the log stays
// append-only at the SQL level. Semantic search runs against an in-process
// index that is hydrated from the knowledge table at startup.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sigil-dev/sigil/pkg/knowledge"
	"github.com/sigil-dev/sigil/pkg/memory"
	"github.com/sigil-dev/sigil/pkg/store"
)

// Store implements store.Store over a pgx connection pool.
type Store struct {
	pool  *pgxpool.Pool
	index *knowledge.Index
}

// New connects to the database, applies pending migrations, and hydrates the
// semantic index from the knowledge table.
func New(ctx context.Context, databaseURL string, index *knowledge.Index) (*Store, error) {
	if err := runMigrations(databaseURL); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool, index: index}
	if err := s.hydrateIndex(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("hydrate knowledge index: %w", err)
	}
	return s, nil
}

// hydrateIndex loads every stored artifact into the in-process index so
// similarity search covers pre-existing knowledge after a restart.
func (s *Store) hydrateIndex(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `SELECT payload FROM knowledge`)
	if err != nil {
		return err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return err
		}
		var artifact memory.KnowledgeArtifact
		if err := json.Unmarshal(payload, &artifact); err != nil {
			return fmt.Errorf("decode knowledge payload: %w", err)
		}
		if err := s.index.Add(ctx, &artifact); err != nil {
			return err
		}
		count++
	}
	if count > 0 {
		slog.Info("Hydrated knowledge index", "artifacts", count)
	}
	return rows.Err()
}

// ── Profile ──────────────────────────────────────────────────

func (s *Store) SaveProfile(ctx context.Context, profile *memory.Profile) error {
	if profile == nil || profile.UserID == "" {
		return fmt.Errorf("profile requires a user_id")
	}
	payload, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	// Last-writer-wins on last_updated: a stale write is silently skipped.
	_, err = s.pool.Exec(ctx, `
		INSERT INTO profiles (user_id, payload, last_updated)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET payload = EXCLUDED.payload, last_updated = EXCLUDED.last_updated
		WHERE profiles.last_updated <= EXCLUDED.last_updated`,
		profile.UserID, payload, profile.LastUpdated)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *Store) LoadProfile(ctx context.Context, userID string) (*memory.Profile, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM profiles WHERE user_id = $1`, userID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}
	var profile memory.Profile
	if err := json.Unmarshal(payload, &profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &profile, nil
}

func (s *Store) DeleteProfile(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM profiles WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}

// ── Conversation ─────────────────────────────────────────────

func (s *Store) SaveConversation(ctx context.Context, conv *memory.Conversation) error {
	if conv == nil || conv.ID == "" || conv.UserID == "" {
		return fmt.Errorf("conversation requires id and user_id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin conversation save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id, user_id) DO UPDATE SET updated_at = EXCLUDED.updated_at`,
		conv.ID, conv.UserID, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}

	// The log is append-only: only messages past the persisted tail are
	// inserted, existing rows are never rewritten.
	var persisted int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(seq) + 1, 0) FROM messages
		WHERE conversation_id = $1 AND user_id = $2`,
		conv.ID, conv.UserID).Scan(&persisted)
	if err != nil {
		return fmt.Errorf("count persisted messages: %w", err)
	}

	for seq := persisted; seq < len(conv.Messages); seq++ {
		msg := conv.Messages[seq]
		_, err = tx.Exec(ctx, `
			INSERT INTO messages (conversation_id, user_id, seq, role, content, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			conv.ID, conv.UserID, seq, string(msg.Role), msg.Content, msg.Timestamp)
		if err != nil {
			return fmt.Errorf("append message %d: %w", seq, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit conversation save: %w", err)
	}
	return nil
}

func (s *Store) LoadConversation(ctx context.Context, id, userID string) (*memory.Conversation, error) {
	conv := &memory.Conversation{ID: id, UserID: userID}
	err := s.pool.QueryRow(ctx, `
		SELECT created_at, updated_at FROM conversations
		WHERE id = $1 AND user_id = $2`,
		id, userID).Scan(&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT role, content, created_at FROM messages
		WHERE conversation_id = $1 AND user_id = $2
		ORDER BY seq`,
		id, userID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg memory.Message
		var role string
		if err := rows.Scan(&role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = memory.Role(role)
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return conv, nil
}

func (s *Store) DeleteConversation(ctx context.Context, id, userID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM conversations WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// ── Workspace ────────────────────────────────────────────────

func (s *Store) SaveWorkspace(ctx context.Context, ws *memory.Workspace) error {
	if ws == nil || ws.TaskID == "" || ws.UserID == "" {
		return fmt.Errorf("workspace requires task_id and user_id")
	}
	payload, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("encode workspace: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workspaces (task_id, user_id, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_id, user_id) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		ws.TaskID, ws.UserID, payload, ws.CreatedAt, ws.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save workspace: %w", err)
	}
	return nil
}

func (s *Store) LoadWorkspace(ctx context.Context, taskID, userID string) (*memory.Workspace, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM workspaces WHERE task_id = $1 AND user_id = $2`,
		taskID, userID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	var ws memory.Workspace
	if err := json.Unmarshal(payload, &ws); err != nil {
		return nil, fmt.Errorf("decode workspace: %w", err)
	}
	return &ws, nil
}

func (s *Store) DeleteWorkspace(ctx context.Context, taskID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM workspaces WHERE task_id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return nil
}

func (s *Store) ListWorkspaces(ctx context.Context, userID string) ([]*memory.Workspace, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM workspaces WHERE user_id = $1 ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var out []*memory.Workspace
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		var ws memory.Workspace
		if err := json.Unmarshal(payload, &ws); err != nil {
			return nil, fmt.Errorf("decode workspace: %w", err)
		}
		out = append(out, &ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	return out, nil
}

// ── Knowledge ────────────────────────────────────────────────

func (s *Store) SaveKnowledge(ctx context.Context, artifact *memory.KnowledgeArtifact) error {
	if artifact == nil || artifact.Topic == "" || artifact.UserID == "" {
		return fmt.Errorf("knowledge artifact requires topic and user_id")
	}
	payload, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("encode knowledge: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO knowledge (topic, user_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (topic, user_id) DO UPDATE SET payload = EXCLUDED.payload`,
		artifact.Topic, artifact.UserID, payload, artifact.CreatedAt)
	if err != nil {
		return fmt.Errorf("save knowledge: %w", err)
	}
	return s.index.Add(ctx, artifact)
}

func (s *Store) SearchKnowledge(ctx context.Context, query, userID string, topK int, threshold float32) ([]memory.ScoredArtifact, error) {
	return s.index.Search(ctx, query, userID, topK, threshold)
}

func (s *Store) LoadKnowledge(ctx context.Context, topic, userID string) (*memory.KnowledgeArtifact, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM knowledge WHERE topic = $1 AND user_id = $2`,
		topic, userID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("load knowledge: %w", err)
	}
	var artifact memory.KnowledgeArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return nil, fmt.Errorf("decode knowledge: %w", err)
	}
	return &artifact, nil
}

func (s *Store) DeleteKnowledge(ctx context.Context, topic, userID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM knowledge WHERE topic = $1 AND user_id = $2`, topic, userID)
	if err != nil {
		return fmt.Errorf("delete knowledge: %w", err)
	}
	return s.index.Remove(ctx, topic, userID)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// compile-time interface check
var _ store.Store = (*Store)(nil)
