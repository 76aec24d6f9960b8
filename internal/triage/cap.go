package triage

import (
	"fmt"

	"github.com/sn3fru/silvanews-sub001/internal/logging"
	"github.com/sn3fru/silvanews-sub001/internal/model"
)

// Cap enforces the tier ceilings by ordered demotion, weakest score
// first. P1 runs before P2 so clusters pushed out of P1 are counted
// against the P2 cap in the same pass. Critical-subject clusters never
// demote below P2 and are excluded from cap accounting instead.
func (e *Engine) Cap(stats *Stats) error {
	if err := e.capTier(model.PriorityP1, e.p1Cap, stats); err != nil {
		return err
	}
	return e.capTier(model.PriorityP2, e.p2Cap, stats)
}

func (e *Engine) capTier(tier model.Priority, cap int, stats *Stats) error {
	clusters, err := e.store.ActiveClustersByPriority(tier)
	if err != nil {
		return fmt.Errorf("triage: load %s clusters: %w", tier, err)
	}

	// Weakest-first ordering comes from the store; protected clusters are
	// carved out of both the count and the demotion pool.
	var pool []model.Cluster
	counted := 0
	for _, c := range clusters {
		if e.protected(c.SubjectKey) {
			continue
		}
		counted++
		pool = append(pool, c)
	}
	if counted <= cap {
		return nil
	}

	excess := counted - cap
	for _, c := range pool[:excess] {
		demoted := c.Priority.Demote()
		lo, hi := demoted.ScoreBand()
		score := c.Score
		if score > hi {
			score = hi
		}
		if score < lo {
			score = lo
		}
		reason := fmt.Sprintf("%s cap exceeded (%d > %d)", tier, counted, cap)
		if err := e.store.SetClusterPriority(c.ID, demoted, score, reason); err != nil {
			return fmt.Errorf("triage: demote %s: %w", c.ID, err)
		}
		stats.Demoted++
		logging.Info("triage: cluster demoted", "cluster", c.ID, "from", tier, "to", demoted)
	}
	return nil
}
