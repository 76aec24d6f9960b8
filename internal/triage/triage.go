// Package triage ranks and consolidates clusters: oracle classification
// with policy gating, a merge pass for split events, and the priority
// caps that keep the feed readable.
package triage

import (
	"strings"

	"github.com/sn3fru/silvanews-sub001/internal/config"
	"github.com/sn3fru/silvanews-sub001/internal/history"
	"github.com/sn3fru/silvanews-sub001/internal/oracle"
	"github.com/sn3fru/silvanews-sub001/internal/store"
)

// Engine runs the triage stages in their fixed order: classify, then
// consolidate, then cap. Capping runs last so the caps hold over the
// post-merge population.
type Engine struct {
	store     *store.Store
	oracle    *oracle.Oracle
	retriever *history.Retriever
	rules     *config.RuleTable

	critical     map[string]bool
	batchSize    int
	p1Cap        int
	p2Cap        int
	coercedScore float64
	mergeFloor   float64
}

// NewEngine builds a triage engine. rules may be nil.
func NewEngine(st *store.Store, o *oracle.Oracle, retriever *history.Retriever, rules *config.RuleTable, cfg config.PipelineConfig) *Engine {
	critical := make(map[string]bool, len(cfg.CriticalSubjects))
	for _, s := range cfg.CriticalSubjects {
		critical[normalizeSubject(s)] = true
	}
	return &Engine{
		store:        st,
		oracle:       o,
		retriever:    retriever,
		rules:        rules,
		critical:     critical,
		batchSize:    cfg.ClassifyBatchSize,
		p1Cap:        cfg.P1Cap,
		p2Cap:        cfg.P2Cap,
		coercedScore: cfg.CoercedScore,
		mergeFloor:   cfg.DedupThreshold,
	}
}

// Stats summarizes one triage pass.
type Stats struct {
	Classified int
	Coerced    int
	Merged     int
	Demoted    int
}

// protected reports whether a subject key may hold P1.
func (e *Engine) protected(subjectKey string) bool {
	return e.critical[normalizeSubject(subjectKey)]
}

// normalizeSubject canonicalizes subject keys for allowlist comparison:
// lowercased with spaces and hyphens collapsed to underscores.
func normalizeSubject(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}
