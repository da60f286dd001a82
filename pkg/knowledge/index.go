package knowledge

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/sigil-dev/sigil/pkg/memory"
)

// Index is the semantic search side of knowledge persistence. Stores keep
// the authoritative artifact rows and delegate similarity search here.
type Index struct {
	db       *chromem.DB
	embedder Embedder

	mu          sync.Mutex
	collections map[string]*chromem.Collection // per user
}

// NewIndex creates an in-memory index.
func NewIndex(embedder Embedder) *Index {
	if embedder == nil {
		embedder = HashingEmbedder
	}
	return &Index{
		db:          chromem.NewDB(),
		embedder:    embedder,
		collections: map[string]*chromem.Collection{},
	}
}

// NewPersistentIndex creates an index persisted under dir.
func NewPersistentIndex(dir string, embedder Embedder) (*Index, error) {
	if embedder == nil {
		embedder = HashingEmbedder
	}
	db, err := chromem.NewPersistentDB(filepath.Join(dir, "knowledge.gob"), false)
	if err != nil {
		return nil, fmt.Errorf("open knowledge index: %w", err)
	}
	return &Index{
		db:          db,
		embedder:    embedder,
		collections: map[string]*chromem.Collection{},
	}, nil
}

// collection returns the per-user collection, creating it on first use.
func (ix *Index) collection(userID string) (*chromem.Collection, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if c, ok := ix.collections[userID]; ok {
		return c, nil
	}
	c, err := ix.db.GetOrCreateCollection("knowledge-"+userID, nil, chromem.EmbeddingFunc(ix.embedder))
	if err != nil {
		return nil, fmt.Errorf("open collection for user %s: %w", userID, err)
	}
	ix.collections[userID] = c
	return c, nil
}

// Add indexes (or re-indexes) one artifact.
func (ix *Index) Add(ctx context.Context, artifact *memory.KnowledgeArtifact) error {
	c, err := ix.collection(artifact.UserID)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:      artifact.Topic,
		Content: artifact.Content,
		Metadata: map[string]string{
			"topic":        artifact.Topic,
			"content_type": artifact.ContentType,
		},
		Embedding: artifact.Embedding,
	}
	// AddDocument upserts by ID, so re-saving a topic replaces its vector.
	if err := c.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("index artifact %s: %w", artifact.Topic, err)
	}
	return nil
}

// Search returns up to topK artifacts with similarity >= threshold,
// best first.
func (ix *Index) Search(ctx context.Context, query, userID string, topK int, threshold float32) ([]memory.ScoredArtifact, error) {
	c, err := ix.collection(userID)
	if err != nil {
		return nil, err
	}
	count := c.Count()
	if count == 0 || topK <= 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}
	results, err := c.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query knowledge for user %s: %w", userID, err)
	}
	var scored []memory.ScoredArtifact
	for _, r := range results {
		if r.Similarity < threshold {
			continue
		}
		scored = append(scored, memory.ScoredArtifact{
			KnowledgeArtifact: memory.KnowledgeArtifact{
				Topic:       r.ID,
				UserID:      userID,
				Content:     r.Content,
				ContentType: r.Metadata["content_type"],
				Embedding:   r.Embedding,
			},
			Similarity: r.Similarity,
		})
	}
	return scored, nil
}

// Remove drops one artifact from the index.
func (ix *Index) Remove(ctx context.Context, topic, userID string) error {
	c, err := ix.collection(userID)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, nil, nil, topic); err != nil {
		return fmt.Errorf("unindex artifact %s: %w", topic, err)
	}
	return nil
}
