// Package embed provides content fingerprint generation and similarity
// computation for the clustering pipeline.
package embed

import (
	"context"
	"math"
)

// Dimensions is the fixed embedding dimensionality across the system.
// Every implementation, including the hash fallback, emits this size.
const Dimensions = 1024

// Embedder generates vector fingerprints from text.
type Embedder interface {
	// Available returns true if the embedding service is accessible.
	Available() bool
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder extends Embedder with batch support. When EmbedBatch
// returns nil error, the result slice has the same length as texts, with
// result[i] corresponding to texts[i].
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// CosineSimilarity computes similarity between two embeddings.
// Returns 1.0 for identical vectors, 0.0 for orthogonal vectors.
// Returns 0.0 if vectors have different lengths or either is zero-length.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// MeanVector computes the running mean of a cluster embedding after a new
// member joins: mean' = (mean*n + v) / (n+1). Returns a copy of v when the
// cluster had no mean yet.
func MeanVector(mean []float32, n int, v []float32) []float32 {
	if len(mean) == 0 || n <= 0 {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	if len(mean) != len(v) {
		return mean
	}
	out := make([]float32, len(mean))
	fn := float32(n)
	for i := range mean {
		out[i] = (mean[i]*fn + v[i]) / (fn + 1)
	}
	return out
}

// CombineMeans merges two cluster means weighted by their member counts.
// Used when a consolidation pass folds one cluster into another.
func CombineMeans(a []float32, na int, b []float32, nb int) []float32 {
	if len(a) == 0 || na <= 0 {
		out := make([]float32, len(b))
		copy(out, b)
		return out
	}
	if len(b) == 0 || nb <= 0 || len(a) != len(b) {
		out := make([]float32, len(a))
		copy(out, a)
		return out
	}
	out := make([]float32, len(a))
	fa, fb := float32(na), float32(nb)
	for i := range a {
		out[i] = (a[i]*fa + b[i]*fb) / (fa + fb)
	}
	return out
}
