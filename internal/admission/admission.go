// Package admission filters incoming documents: near-duplicates of the
// current batch or the trailing window are rejected before they reach
// the grouping stage.
package admission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sn3fru/silvanews-sub001/internal/embed"
	"github.com/sn3fru/silvanews-sub001/internal/logging"
	"github.com/sn3fru/silvanews-sub001/internal/model"
	"github.com/sn3fru/silvanews-sub001/internal/store"
)

// Incoming is one raw submission before admission.
type Incoming struct {
	Title      string
	Text       string
	SourceType model.SourceType
}

// Result summarizes one admission pass.
type Result struct {
	Admitted []model.Document
	Rejected int
}

// Gate runs the dedup filter. Embeddings come from the shared embedding
// service; the recency cache is optional and only short-circuits the
// exact-text case.
type Gate struct {
	store     *store.Store
	embedder  *embed.Service
	cache     *RecencyCache
	threshold float64
	window    time.Duration
}

// NewGate builds an admission gate. cache may be nil.
func NewGate(st *store.Store, embedder *embed.Service, cache *RecencyCache, threshold float64, window time.Duration) *Gate {
	return &Gate{
		store:     st,
		embedder:  embedder,
		cache:     cache,
		threshold: threshold,
		window:    window,
	}
}

// Admit embeds the batch, rejects near-duplicates against both the batch
// itself and the trailing window, and persists the survivors as pending
// documents. Rejections are logged, never silently dropped.
func (g *Gate) Admit(ctx context.Context, batch []Incoming) (*Result, error) {
	if len(batch) == 0 {
		return &Result{}, nil
	}

	texts := make([]string, len(batch))
	for i, in := range batch {
		texts[i] = admissionText(in)
	}
	vectors, err := g.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("admission: embed batch: %w", err)
	}
	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("admission: embedder returned %d vectors for %d texts", len(vectors), len(batch))
	}

	history, err := g.store.RecentFingerprints(time.Now().Add(-g.window))
	if err != nil {
		return nil, fmt.Errorf("admission: load trailing window: %w", err)
	}

	res := &Result{}
	// Fingerprints of documents admitted earlier in this same batch;
	// intra-batch duplicates must not both survive.
	admitted := make(map[string][]float32, len(batch))

	for i, in := range batch {
		text := texts[i]
		vec := vectors[i]

		if g.cache != nil && g.cache.Seen(ctx, text) {
			res.Rejected++
			g.logRejection(text, "", 1.0)
			continue
		}

		if matchID, sim := nearestAbove(vec, history, g.threshold); matchID != "" {
			res.Rejected++
			g.logRejection(text, matchID, sim)
			continue
		}
		if matchID, sim := nearestAbove(vec, admitted, g.threshold); matchID != "" {
			res.Rejected++
			g.logRejection(text, matchID, sim)
			continue
		}

		doc := model.Document{
			ID:         uuid.NewString(),
			RawText:    in.Text,
			Title:      strings.TrimSpace(in.Title),
			SourceType: in.SourceType,
			Status:     model.DocPending,
			Embedding:  vec,
			IngestedAt: time.Now().UTC(),
		}
		if err := g.store.InsertDocument(doc); err != nil {
			return nil, fmt.Errorf("admission: persist document: %w", err)
		}
		admitted[doc.ID] = vec
		if g.cache != nil {
			g.cache.Remember(ctx, text)
		}
		res.Admitted = append(res.Admitted, doc)
	}

	logging.Info("admission: batch gated",
		"incoming", len(batch), "admitted", len(res.Admitted), "rejected", res.Rejected)
	return res, nil
}

func (g *Gate) logRejection(text, matchID string, sim float64) {
	if err := g.store.LogRejection(text, matchID, sim); err != nil {
		logging.Warn("admission: rejection not logged", "error", err)
	}
}

// nearestAbove returns the ID and similarity of the closest fingerprint
// at or above the threshold, or ("", 0) when none qualifies.
func nearestAbove(vec []float32, pool map[string][]float32, threshold float64) (string, float64) {
	bestID := ""
	bestSim := 0.0
	for id, other := range pool {
		sim := float64(embed.CosineSimilarity(vec, other))
		if sim >= threshold && sim > bestSim {
			bestID, bestSim = id, sim
		}
	}
	return bestID, bestSim
}

// admissionText is the text a document is fingerprinted on. Title plus
// body so retitled wire copies still collide.
func admissionText(in Incoming) string {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return strings.TrimSpace(in.Text)
	}
	return title + "\n" + strings.TrimSpace(in.Text)
}
