package knowledge

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sigil-dev/sigil/pkg/memory"
	"github.com/sigil-dev/sigil/pkg/store"
)

// retrievalCacheSize bounds the per-process retrieval cache.
const retrievalCacheSize = 256

// Retriever performs the automatic knowledge lookup the reasoning step runs
// while building context. Results are cached per (user, query) because the
// same objective is re-queried on every iteration of a task.
type Retriever struct {
	store     store.Store
	topK      int
	threshold float32
	cache     *lru.Cache[string, []memory.ScoredArtifact]
}

// NewRetriever creates a retriever over a store.
func NewRetriever(s store.Store, topK int, threshold float32) (*Retriever, error) {
	cache, err := lru.New[string, []memory.ScoredArtifact](retrievalCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create retrieval cache: %w", err)
	}
	return &Retriever{store: s, topK: topK, threshold: threshold, cache: cache}, nil
}

// Retrieve returns artifacts relevant to the query, or nothing for trivial
// queries (greetings, small arithmetic) that gain nothing from retrieval.
func (r *Retriever) Retrieve(ctx context.Context, query, userID string) ([]memory.ScoredArtifact, error) {
	if IsTrivialQuery(query) {
		return nil, nil
	}
	key := userID + "\x00" + query
	if hit, ok := r.cache.Get(key); ok {
		return hit, nil
	}
	results, err := r.store.SearchKnowledge(ctx, query, userID, r.topK, r.threshold)
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, results)
	return results, nil
}

// Invalidate drops cached results for a user after their knowledge changes.
func (r *Retriever) Invalidate(userID string) {
	prefix := userID + "\x00"
	for _, key := range r.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			r.cache.Remove(key)
		}
	}
}

var (
	greetingPattern   = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|yo|good (morning|afternoon|evening)|thanks|thank you|bye|goodbye)[\s!.,?]*$`)
	arithmeticPattern = regexp.MustCompile(`(?i)^\s*(what\s+is\s+|what's\s+)?\d+(\.\d+)?\s*[-+*/x×]\s*\d+(\.\d+)?\s*[?.!]*\s*$`)
)

// IsTrivialQuery reports whether a query is a greeting or small arithmetic,
// the cases where semantic retrieval is skipped entirely.
func IsTrivialQuery(query string) bool {
	q := strings.TrimSpace(query)
	if q == "" {
		return true
	}
	return greetingPattern.MatchString(q) || arithmeticPattern.MatchString(q)
}
