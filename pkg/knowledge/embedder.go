// Package knowledge provides the semantic index for knowledge artifacts,
// backed by the chromem-go embedded vector database, plus the retrieval
// helper the reasoning step uses for automatic context injection.
package knowledge

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder converts text into a vector. The runtime injects a provider-backed
// embedder; tests and dev mode use the deterministic hashing embedder below.
type Embedder func(ctx context.Context, text string) ([]float32, error)

// hashDims is the dimensionality of the deterministic embedder.
const hashDims = 128

// HashingEmbedder is a deterministic bag-of-words embedder: each token is
// hashed into a bucket and the vector is L2-normalized. It has no semantic
// power beyond lexical overlap, which is exactly what deterministic tests
// need: similar wording scores high, unrelated wording scores near zero.
func HashingEmbedder(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, hashDims)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%hashDims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
