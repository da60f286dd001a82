package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sigil-dev/sigil/pkg/knowledge"
	"github.com/sigil-dev/sigil/pkg/memory"
	"github.com/sigil-dev/sigil/pkg/store"
)

// testConnString returns a database URL for integration tests.
// In CI (CI_DATABASE_URL set): connects to an external PostgreSQL service.
// In local dev: spins up a testcontainer.
func testConnString(t *testing.T) string {
	if testing.Short() {
		t.Skip("skipping database integration test in short mode")
	}

	if url := os.Getenv("CI_DATABASE_URL"); url != "" {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
		return url
	}

	ctx := context.Background()
	t.Log("Using testcontainers for PostgreSQL")
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func newTestStore(t *testing.T) (*Store, string) {
	connStr := testConnString(t)
	s, err := New(context.Background(), connStr, knowledge.NewIndex(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, connStr
}

func TestProfileRoundTripAndLastWriterWins(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.LoadProfile(ctx, "user-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	profile := memory.NewProfile("user-1")
	profile.SetPreference("lang", "go")
	profile.AddGoal("ship v1")
	require.NoError(t, s.SaveProfile(ctx, profile))

	loaded, err := s.LoadProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "go", loaded.Preferences["lang"])
	assert.Equal(t, []string{"ship v1"}, loaded.Goals)

	// A stale writer must not clobber the newer row.
	stale := memory.NewProfile("user-1")
	stale.Preferences = map[string]string{"lang": "cobol"}
	stale.LastUpdated = profile.LastUpdated.Add(-time.Hour)
	require.NoError(t, s.SaveProfile(ctx, stale))

	loaded, err = s.LoadProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "go", loaded.Preferences["lang"])

	require.NoError(t, s.DeleteProfile(ctx, "user-1"))
	_, err = s.LoadProfile(ctx, "user-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConversationAppendOnlyLog(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	conv := memory.NewConversation("conv-1", "user-1")
	conv.Append(memory.RoleUser, "hello")
	conv.Append(memory.RoleAssistant, "hi, how can I help?")
	require.NoError(t, s.SaveConversation(ctx, conv))

	// Re-saving the same log must not duplicate rows.
	require.NoError(t, s.SaveConversation(ctx, conv))

	conv.Append(memory.RoleUser, "what's the weather?")
	require.NoError(t, s.SaveConversation(ctx, conv))

	loaded, err := s.LoadConversation(ctx, "conv-1", "user-1")
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 3)
	assert.Equal(t, memory.RoleUser, loaded.Messages[0].Role)
	assert.Equal(t, "hello", loaded.Messages[0].Content)
	assert.Equal(t, "what's the weather?", loaded.Messages[2].Content)

	// Scoped by user: another user cannot read it.
	_, err = s.LoadConversation(ctx, "conv-1", "user-2")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.DeleteConversation(ctx, "conv-1", "user-1"))
	_, err = s.LoadConversation(ctx, "conv-1", "user-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWorkspaceRoundTripAndList(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ws1 := memory.NewWorkspace("task-1", "user-1", "first objective", memory.ModeFast)
	ws1.AppendThought(memory.Thought{Iteration: 0, Thinking: "starting out"})
	require.NoError(t, s.SaveWorkspace(ctx, ws1))

	ws2 := memory.NewWorkspace("task-2", "user-1", "second objective", memory.ModeDeep)
	ws2.CreatedAt = ws1.CreatedAt.Add(time.Minute)
	require.NoError(t, s.SaveWorkspace(ctx, ws2))

	loaded, err := s.LoadWorkspace(ctx, "task-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "first objective", loaded.Objective)
	require.Len(t, loaded.Thoughts, 1)
	assert.Equal(t, "starting out", loaded.Thoughts[0].Thinking)

	list, err := s.ListWorkspaces(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "task-1", list[0].TaskID)
	assert.Equal(t, "task-2", list[1].TaskID)

	require.NoError(t, s.DeleteWorkspace(ctx, "task-1"))
	_, err = s.LoadWorkspace(ctx, "task-1", "user-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestKnowledgeSurvivesRestart(t *testing.T) {
	s, connStr := newTestStore(t)
	ctx := context.Background()

	artifact := &memory.KnowledgeArtifact{
		Topic:     "deploy-process",
		UserID:    "user-1",
		Content:   "Deploys run through the staging cluster before production rollout.",
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.SaveKnowledge(ctx, artifact))

	results, err := s.SearchKnowledge(ctx, "staging cluster deploys", "user-1", 3, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "deploy-process", results[0].Topic)

	// A fresh store over the same database rebuilds the index on startup.
	require.NoError(t, s.Close())
	reopened, err := New(ctx, connStr, knowledge.NewIndex(nil))
	require.NoError(t, err)
	defer reopened.Close()

	results, err = reopened.SearchKnowledge(ctx, "staging cluster deploys", "user-1", 3, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "deploy-process", results[0].Topic)

	loaded, err := reopened.LoadKnowledge(ctx, "deploy-process", "user-1")
	require.NoError(t, err)
	assert.Equal(t, artifact.Content, loaded.Content)

	require.NoError(t, reopened.DeleteKnowledge(ctx, "deploy-process", "user-1"))
	_, err = reopened.LoadKnowledge(ctx, "deploy-process", "user-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
