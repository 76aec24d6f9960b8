package embed

import (
	"context"

	"github.com/sn3fru/silvanews-sub001/internal/logging"
)

// Service wraps a primary embedder with the deterministic hash fallback so
// downstream similarity logic never receives a nil vector. Unavailability
// of the primary degrades quality, never fails the pipeline.
type Service struct {
	primary  BatchEmbedder
	fallback *HashEmbedder
}

// NewService builds a Service. primary may be nil (fallback only).
func NewService(primary BatchEmbedder) *Service {
	return &Service{primary: primary, fallback: NewHashEmbedder()}
}

// Available always returns true; the hash fallback has no dependency.
func (s *Service) Available() bool { return true }

// Embed fingerprints one text, falling back to the hash embedder when the
// primary is unconfigured or errors.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.primary != nil && s.primary.Available() {
		vec, err := s.primary.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		logging.Warn("embed: primary embedder failed, using hash fallback", "error", err)
	}
	return s.fallback.Embed(ctx, text)
}

// EmbedBatch fingerprints many texts with one upstream call where possible.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if s.primary != nil && s.primary.Available() {
		vecs, err := s.primary.EmbedBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		logging.Warn("embed: primary batch embed failed, using hash fallback", "count", len(texts), "error", err)
	}
	return s.fallback.EmbedBatch(ctx, texts)
}
