// Package grouping assigns pending documents to event clusters: candidate
// selection by embedding similarity, batched oracle decisions, and a
// singleton fallback that guarantees no document is ever lost.
package grouping

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sn3fru/silvanews-sub001/internal/embed"
	"github.com/sn3fru/silvanews-sub001/internal/logging"
	"github.com/sn3fru/silvanews-sub001/internal/model"
	"github.com/sn3fru/silvanews-sub001/internal/oracle"
	"github.com/sn3fru/silvanews-sub001/internal/store"
)

// Engine runs the incremental assignment stage for one source-type
// partition at a time. Partitions never share candidates.
type Engine struct {
	store  *store.Store
	oracle *oracle.Oracle

	candidateFloor float64
	candidateK     int
	batchSize      int
	maxFails       int
}

// NewEngine builds a grouping engine.
func NewEngine(st *store.Store, o *oracle.Oracle, candidateFloor float64, candidateK, batchSize, maxFails int) *Engine {
	return &Engine{
		store:          st,
		oracle:         o,
		candidateFloor: candidateFloor,
		candidateK:     candidateK,
		batchSize:      batchSize,
		maxFails:       maxFails,
	}
}

// Stats summarizes one grouping pass.
type Stats struct {
	Attached int
	Created  int
	Failed   int
}

// Run groups every pending document of one partition, in oracle batches.
// A batch whose oracle call fails only bumps fail counters; the next run
// retries until maxFails flips the documents to error.
func (e *Engine) Run(ctx context.Context, sourceType model.SourceType) (*Stats, error) {
	stats := &Stats{}
	for {
		docs, err := e.store.DocumentsByStatus(model.DocPending, sourceType, e.batchSize)
		if err != nil {
			return stats, fmt.Errorf("grouping: load pending: %w", err)
		}
		if len(docs) == 0 {
			return stats, nil
		}

		if err := e.runBatch(ctx, sourceType, docs, stats); err != nil {
			return stats, err
		}

		// Anything still pending after a batch had its fail count bumped;
		// stop rather than spin on the same documents.
		remaining, err := e.store.DocumentsByStatus(model.DocPending, sourceType, 1)
		if err != nil {
			return stats, err
		}
		if len(remaining) > 0 && remaining[0].FailCount > 0 {
			return stats, nil
		}
	}
}

func (e *Engine) runBatch(ctx context.Context, sourceType model.SourceType, docs []model.Document, stats *Stats) error {
	clusters, err := e.store.ActiveClusters(sourceType)
	if err != nil {
		return fmt.Errorf("grouping: load clusters: %w", err)
	}

	// Candidate set per document, plus the union shown to the oracle.
	perDoc := make(map[string][]scored, len(docs))
	union := make(map[string]model.Cluster)
	for _, doc := range docs {
		cands := e.candidates(doc, clusters)
		perDoc[doc.ID] = cands
		for _, c := range cands {
			union[c.cluster.ID] = c.cluster
		}
	}

	// A batch with candidates needs a judgment; without one the whole
	// batch defers on the fail budget, whether the call errored or no
	// provider is configured at all.
	var decisions []oracle.GroupDecision
	if len(union) > 0 {
		if !e.oracle.Available() {
			logging.Warn("grouping: no oracle provider, deferring documents with candidates",
				"partition", sourceType, "docs", len(docs))
			return e.deferBatch(docs, stats)
		}
		decisions, err = e.askOracle(ctx, docs, perDoc, union)
		if err != nil {
			logging.Warn("grouping: oracle batch failed, deferring documents", "error", err)
			return e.deferBatch(docs, stats)
		}
	}

	decided := make(map[string]oracle.GroupDecision, len(decisions))
	for _, d := range decisions {
		decided[d.DocumentID] = d
	}

	for _, doc := range docs {
		d, ok := decided[doc.ID]
		switch {
		case ok && d.Action == oracle.ActionAttach && validTarget(d.Target, perDoc[doc.ID]):
			if err := e.store.AttachDocument(doc.ID, d.Target); err != nil {
				return fmt.Errorf("grouping: attach %s: %w", doc.ID, err)
			}
			stats.Attached++
		default:
			// New-event verdicts, missing decisions and out-of-candidate
			// targets all take the same deterministic path.
			if err := e.createSingleton(doc); err != nil {
				return fmt.Errorf("grouping: singleton %s: %w", doc.ID, err)
			}
			stats.Created++
		}
	}

	logging.Info("grouping: batch done", "partition", sourceType,
		"docs", len(docs), "attached", stats.Attached, "created", stats.Created)
	return nil
}

// deferBatch bumps every document's fail counter so the next run retries
// them, until maxFails flips them to error.
func (e *Engine) deferBatch(docs []model.Document, stats *Stats) error {
	for _, doc := range docs {
		if err := e.store.BumpFailCount(doc.ID, e.maxFails); err != nil {
			return err
		}
		stats.Failed++
	}
	return nil
}

type scored struct {
	cluster model.Cluster
	sim     float64
}

// candidates returns the top-K active clusters above the similarity
// floor, best first.
func (e *Engine) candidates(doc model.Document, clusters []model.Cluster) []scored {
	var out []scored
	for _, c := range clusters {
		sim := float64(embed.CosineSimilarity(doc.Embedding, c.MeanEmbedding))
		if sim >= e.candidateFloor {
			out = append(out, scored{cluster: c, sim: sim})
		}
	}
	// Equal similarity prefers the larger cluster, a stability bias the
	// oracle may override with an explicit target.
	sort.Slice(out, func(i, j int) bool {
		if out[i].sim != out[j].sim {
			return out[i].sim > out[j].sim
		}
		return out[i].cluster.DocCount > out[j].cluster.DocCount
	})
	if len(out) > e.candidateK {
		out = out[:e.candidateK]
	}
	return out
}

func (e *Engine) askOracle(ctx context.Context, docs []model.Document, perDoc map[string][]scored, union map[string]model.Cluster) ([]oracle.GroupDecision, error) {
	groupDocs := make([]oracle.GroupDoc, 0, len(docs))
	var hints []string
	for _, doc := range docs {
		groupDocs = append(groupDocs, oracle.GroupDoc{
			ID:      doc.ID,
			Title:   doc.Title,
			Excerpt: excerpt(doc.RawText, 300),
		})
		for _, c := range perDoc[doc.ID] {
			hints = append(hints, fmt.Sprintf("doc %s ~ cluster %s (%.2f)", doc.ID, c.cluster.ID, c.sim))
		}
	}

	cands := make([]oracle.CandidateCluster, 0, len(union))
	for _, c := range union {
		cands = append(cands, oracle.CandidateCluster{
			ID:       c.ID,
			Title:    c.Title,
			Summary:  c.Summary,
			DocCount: c.DocCount,
		})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].ID < cands[j].ID })

	return e.oracle.GroupBatch(ctx, groupDocs, cands, hints)
}

// createSingleton starts a new cluster seeded by one document.
func (e *Engine) createSingleton(doc model.Document) error {
	cluster := model.Cluster{
		ID:         uuid.NewString(),
		Title:      doc.Title,
		Priority:   model.PriorityP3,
		Status:     model.ClusterActive,
		SourceType: doc.SourceType,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.InsertCluster(cluster); err != nil {
		return err
	}
	return e.store.AttachDocument(doc.ID, cluster.ID)
}

func validTarget(target string, cands []scored) bool {
	for _, c := range cands {
		if c.cluster.ID == target {
			return true
		}
	}
	return false
}

func excerpt(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
