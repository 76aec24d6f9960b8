package triage

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sn3fru/silvanews-sub001/internal/logging"
	"github.com/sn3fru/silvanews-sub001/internal/model"
	"github.com/sn3fru/silvanews-sub001/internal/oracle"
)

// maxExcerpts bounds how many member excerpts a classify item carries.
const maxExcerpts = 5

// Classify ranks every active cluster of one partition in oracle batches.
// Clusters the oracle skips keep their current priority. P1 verdicts on
// subjects outside the critical allowlist are coerced down, logged, and
// counted.
func (e *Engine) Classify(ctx context.Context, sourceType model.SourceType, stats *Stats) error {
	clusters, err := e.store.ActiveClusters(sourceType)
	if err != nil {
		return fmt.Errorf("triage: load clusters: %w", err)
	}
	if len(clusters) == 0 {
		return nil
	}

	byID := make(map[string]model.Cluster, len(clusters))
	for _, c := range clusters {
		byID[c.ID] = c
	}

	for start := 0; start < len(clusters); start += e.batchSize {
		end := start + e.batchSize
		if end > len(clusters) {
			end = len(clusters)
		}
		batch := clusters[start:end]

		items := make([]oracle.ClassifyItem, 0, len(batch))
		for _, c := range batch {
			item, err := e.classifyItem(c)
			if err != nil {
				return err
			}
			items = append(items, item)
		}

		results, err := e.oracle.ClassifyBatch(ctx, items)
		if err != nil {
			logging.Warn("triage: classify batch failed, clusters keep current priority",
				"partition", sourceType, "clusters", len(batch), "error", err)
			continue
		}

		for _, res := range results {
			if err := e.applyClassification(byID[res.ClusterID], res, stats); err != nil {
				return err
			}
			stats.Classified++
		}
	}
	return nil
}

func (e *Engine) classifyItem(c model.Cluster) (oracle.ClassifyItem, error) {
	docs, err := e.store.ClusterDocuments(c.ID)
	if err != nil {
		return oracle.ClassifyItem{}, fmt.Errorf("triage: members of %s: %w", c.ID, err)
	}

	excerpts := make([]string, 0, maxExcerpts)
	for _, d := range docs {
		text := d.Title
		if text == "" {
			text = d.RawText
		}
		excerpts = append(excerpts, excerpt(text, 200))
		if len(excerpts) == maxExcerpts {
			break
		}
	}

	item := oracle.ClassifyItem{
		ClusterID: c.ID,
		Title:     c.Title,
		Excerpts:  excerpts,
	}
	if e.retriever != nil {
		item.Context = e.retriever.Context(c)
	}
	return item, nil
}

func (e *Engine) applyClassification(c model.Cluster, res oracle.Classification, stats *Stats) error {
	priority := model.Priority(res.Priority)
	score := res.Score

	tag := res.Tag
	if e.rules != nil {
		tag = e.rules.Apply(tag, res.Title, res.SubjectKey)
	}

	reason := "classified"
	if priority == model.PriorityP1 && !e.protected(res.SubjectKey) {
		priority = model.PriorityP3
		if score > e.coercedScore {
			score = e.coercedScore
		}
		reason = fmt.Sprintf("P1 gated: subject %q not on critical list", res.SubjectKey)
		stats.Coerced++
		logging.Info("triage: P1 verdict coerced", "cluster", c.ID, "subject", res.SubjectKey)

		// The audit trail records the gate itself, verdict against stored
		// outcome, even when the stored priority does not move.
		if err := e.store.LogChange(c.ID, "priority", string(model.PriorityP1), string(priority), reason); err != nil {
			return err
		}
	}

	// Score must land inside the priority's band.
	score = clampToBand(score, priority)

	title := res.Title
	if title == "" {
		title = c.Title
	}
	return e.store.UpdateClusterMeta(c.ID, res.SubjectKey, tag, title, res.Summary, priority, score, reason)
}

// clampToBand forces a score into its priority's numeric band.
func clampToBand(score float64, p model.Priority) float64 {
	lo, hi := p.ScoreBand()
	if score < lo {
		return lo
	}
	if score > hi {
		return hi
	}
	return score
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
