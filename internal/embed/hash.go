package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// HashEmbedder is the documented deterministic fallback when no embedding
// service is reachable. It hashes word trigrams into a fixed-dimension
// vector and L2-normalizes it, so downstream cosine comparisons keep
// working (with degraded quality) instead of receiving nil.
type HashEmbedder struct{}

// NewHashEmbedder returns the deterministic fallback embedder.
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{}
}

// Available always returns true; the fallback has no external dependency.
func (h *HashEmbedder) Available() bool { return true }

// Embed produces the deterministic trigram-hash vector for text.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return hashVector(text), nil
}

// EmbedBatch produces one vector per input text.
func (h *HashEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t)
	}
	return out, nil
}

func hashVector(text string) []float32 {
	vec := make([]float32, Dimensions)

	// Normalize: lowercase, alphanumerics only
	text = strings.ToLower(text)
	text = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == ' ' {
			return r
		}
		return ' '
	}, text)

	words := strings.Fields(text)
	if len(words) == 0 {
		return vec
	}

	bump := func(s string) {
		hf := fnv.New64a()
		hf.Write([]byte(s))
		sum := hf.Sum64()
		idx := int(sum % Dimensions)
		// Second half of the hash picks the sign so vectors spread over
		// the whole space instead of the positive orthant.
		if (sum>>32)&1 == 0 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}

	for _, w := range words {
		bump(w)
	}
	for i := 0; i+2 < len(words); i++ {
		bump(words[i] + " " + words[i+1] + " " + words[i+2])
	}

	// L2 normalize
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}

	return vec
}
