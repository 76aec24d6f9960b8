package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/sn3fru/silvanews-sub001/internal/embed"
	"github.com/sn3fru/silvanews-sub001/internal/logging"
	"github.com/sn3fru/silvanews-sub001/internal/model"
	"github.com/sn3fru/silvanews-sub001/internal/oracle"
)

// Consolidate merges clusters that turned out to cover the same event.
// Recently created clusters are compared pairwise against the whole
// active partition; pairs above the similarity floor go to the oracle
// for confirmation. Only a confirmed pair merges.
func (e *Engine) Consolidate(ctx context.Context, sourceType model.SourceType, window time.Duration, stats *Stats) error {
	recent, err := e.store.ClustersCreatedSince(time.Now().Add(-window), sourceType)
	if err != nil {
		return fmt.Errorf("triage: load recent clusters: %w", err)
	}
	if len(recent) == 0 {
		return nil
	}
	all, err := e.store.ActiveClusters(sourceType)
	if err != nil {
		return fmt.Errorf("triage: load partition: %w", err)
	}

	// Merged-away IDs within this pass; a discarded cluster never merges
	// again.
	gone := make(map[string]bool)

	for _, a := range recent {
		if gone[a.ID] {
			continue
		}
		for _, b := range all {
			if a.ID == b.ID || gone[a.ID] || gone[b.ID] {
				continue
			}
			sim := float64(embed.CosineSimilarity(a.MeanEmbedding, b.MeanEmbedding))
			if sim < e.mergeFloor {
				continue
			}

			verdict, err := e.oracle.ConfirmMerge(ctx, card(a), card(b))
			if err != nil {
				logging.Warn("triage: merge confirmation failed, pair left split",
					"a", a.ID, "b", b.ID, "error", err)
				continue
			}
			if !verdict.SameEvent {
				continue
			}

			dst, src := pickDestination(a, b)
			reason := fmt.Sprintf("consolidation (sim %.2f)", sim)
			if err := e.store.MergeClusters(dst.ID, src.ID, reason); err != nil {
				return fmt.Errorf("triage: merge %s <- %s: %w", dst.ID, src.ID, err)
			}
			gone[src.ID] = true
			stats.Merged++

			if err := e.applyVerdictMeta(dst, verdict); err != nil {
				return err
			}
			logging.Info("triage: clusters merged", "dst", dst.ID, "src", src.ID, "sim", sim)

			if gone[a.ID] {
				break
			}

			// The destination's member count and mean moved; later pairs in
			// this pass must see the post-merge row.
			fresh, err := e.store.GetCluster(dst.ID)
			if err != nil {
				return fmt.Errorf("triage: reload %s: %w", dst.ID, err)
			}
			for i := range all {
				if all[i].ID == fresh.ID {
					all[i] = *fresh
				}
			}
			for i := range recent {
				if recent[i].ID == fresh.ID {
					recent[i] = *fresh
				}
			}
			if a.ID == fresh.ID {
				a = *fresh
			}
		}
	}
	return nil
}

// pickDestination keeps the cluster with more members; ties keep the
// earlier one. The survivor keeps its identity and history.
func pickDestination(a, b model.Cluster) (dst, src model.Cluster) {
	if a.DocCount != b.DocCount {
		if a.DocCount > b.DocCount {
			return a, b
		}
		return b, a
	}
	if a.CreatedAt.Before(b.CreatedAt) {
		return a, b
	}
	return b, a
}

// applyVerdictMeta applies the optional improved title/tag/priority the
// merge confirmation suggested, subject to the same P1 gate as
// classification.
func (e *Engine) applyVerdictMeta(dst model.Cluster, v oracle.MergeVerdict) error {
	if v.Title == "" && v.Tag == "" && v.Priority == "" {
		return nil
	}

	title := dst.Title
	if v.Title != "" {
		title = v.Title
	}
	tag := dst.Tag
	if v.Tag != "" {
		tag = v.Tag
	}
	priority := dst.Priority
	score := dst.Score
	if v.Priority != "" {
		priority = model.Priority(v.Priority)
		if priority == model.PriorityP1 && !e.protected(dst.SubjectKey) {
			priority = dst.Priority
		} else {
			score = clampToBand(score, priority)
		}
	}
	return e.store.UpdateClusterMeta(dst.ID, dst.SubjectKey, tag, title, dst.Summary, priority, score, "merge verdict")
}

func card(c model.Cluster) oracle.ClusterCard {
	return oracle.ClusterCard{
		ID:       c.ID,
		Title:    c.Title,
		Summary:  c.Summary,
		Tag:      c.Tag,
		Priority: string(c.Priority),
		DocCount: c.DocCount,
	}
}
