package embedding

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/diewoo/doctor-capybara-sub000/internal/domain"
)

// HashEmbedder hashes words into a fixed-size vector. Not semantically
// meaningful; it exists only to keep retrieval dimensionally compatible when
// the primary provider is unavailable.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a hash-based fallback embedder.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{dim: dim}
}

// Embed maps each word into a bucket via FNV-1a and normalizes the counts.
// Empty input yields the all-zero vector.
func (h *HashEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	vec := make([]float32, h.dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		f := fnv.New32a()
		_, _ = f.Write([]byte(word))
		vec[f.Sum32()%uint32(h.dim)]++
	}
	return domain.EmbeddingResult{Embedding: domain.Normalize(vec)}, nil
}
