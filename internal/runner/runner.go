// Package runner sequences one pipeline cycle: admission, grouping,
// graph enrichment, classification, consolidation and capping, with a
// run report persisted at the end.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sn3fru/silvanews-sub001/internal/admission"
	"github.com/sn3fru/silvanews-sub001/internal/announce"
	"github.com/sn3fru/silvanews-sub001/internal/graph"
	"github.com/sn3fru/silvanews-sub001/internal/grouping"
	"github.com/sn3fru/silvanews-sub001/internal/logging"
	"github.com/sn3fru/silvanews-sub001/internal/model"
	"github.com/sn3fru/silvanews-sub001/internal/store"
	"github.com/sn3fru/silvanews-sub001/internal/triage"
)

// partitions is the fixed processing order; each partition runs its
// stages in isolation.
var partitions = []model.SourceType{model.SourceDomestic, model.SourceInternational}

// Runner drives the pipeline. All stage engines share one store.
type Runner struct {
	store     *store.Store
	gate      *admission.Gate
	grouper   *grouping.Engine
	linker    *graph.Linker
	triager   *triage.Engine
	announcer *announce.Announcer

	mergeWindow time.Duration
	parallelism int
}

// New builds a Runner. announcer may be nil.
func New(st *store.Store, gate *admission.Gate, grouper *grouping.Engine, linker *graph.Linker, triager *triage.Engine, announcer *announce.Announcer, mergeWindow time.Duration, parallelism int) *Runner {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Runner{
		store:       st,
		gate:        gate,
		grouper:     grouper,
		linker:      linker,
		triager:     triager,
		announcer:   announcer,
		mergeWindow: mergeWindow,
		parallelism: parallelism,
	}
}

// RunOnce executes one full cycle over an incoming batch. The batch may
// be empty; grouping and triage still run so earlier deferred documents
// make progress. Stages abort cleanly between each other on context
// cancellation; a stage error ends the cycle but the report still saves.
func (r *Runner) RunOnce(ctx context.Context, batch []admission.Incoming) (*model.RunReport, error) {
	report := &model.RunReport{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	err := r.run(ctx, batch, report)
	report.Duration = time.Since(report.StartedAt)
	if err != nil {
		report.Errors++
	}

	if saveErr := r.store.SaveRun(*report); saveErr != nil {
		logging.Error("runner: run report not saved", "run", report.ID, "error", saveErr)
	}
	if r.announcer != nil {
		r.announcer.AnnounceRun(*report)
		changes, chErr := r.store.ChangesSince(report.StartedAt)
		if chErr != nil {
			logging.Warn("runner: change feed unavailable", "error", chErr)
		}
		for _, ch := range changes {
			r.announcer.AnnounceChange(ch)
		}
	}

	logging.Info("runner: cycle done",
		"run", report.ID, "duration", report.Duration,
		"admitted", report.Admitted, "rejected", report.Rejected,
		"attached", report.Attached, "created", report.Created,
		"linked", report.Linked, "classified", report.Classified,
		"merged", report.Merged, "demoted", report.Demoted,
		"coerced", report.Coerced, "errors", report.Errors)
	return report, err
}

func (r *Runner) run(ctx context.Context, batch []admission.Incoming, report *model.RunReport) error {
	// Admission
	res, err := r.gate.Admit(ctx, batch)
	if err != nil {
		return fmt.Errorf("runner: admission: %w", err)
	}
	report.Admitted = len(res.Admitted)
	report.Rejected = res.Rejected
	if err := ctx.Err(); err != nil {
		return err
	}

	// Grouping, per partition
	for _, p := range partitions {
		stats, err := r.grouper.Run(ctx, p)
		if err != nil {
			return fmt.Errorf("runner: grouping %s: %w", p, err)
		}
		report.Attached += stats.Attached
		report.Created += stats.Created
		report.Errors += stats.Failed
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	// Graph enrichment of this cycle's admitted documents, bounded
	// parallelism. A single document's failure doesn't sink the cycle.
	if err := r.enrich(ctx, res.Admitted, report); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Triage: classify, consolidate, then cap over the merged population.
	var tstats triage.Stats
	for _, p := range partitions {
		if err := r.triager.Classify(ctx, p, &tstats); err != nil {
			return fmt.Errorf("runner: classify %s: %w", p, err)
		}
		if err := r.triager.Consolidate(ctx, p, r.mergeWindow, &tstats); err != nil {
			return fmt.Errorf("runner: consolidate %s: %w", p, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if err := r.triager.Cap(&tstats); err != nil {
		return fmt.Errorf("runner: cap: %w", err)
	}

	report.Classified = tstats.Classified
	report.Merged = tstats.Merged
	report.Demoted = tstats.Demoted
	report.Coerced = tstats.Coerced
	return nil
}

func (r *Runner) enrich(ctx context.Context, docs []model.Document, report *model.RunReport) error {
	if len(docs) == 0 || r.linker == nil {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)

	linked := make([]int, len(docs))
	for i, doc := range docs {
		g.Go(func() error {
			n, err := r.linker.Link(ctx, doc)
			if err != nil {
				logging.Warn("runner: enrichment failed, document stays unlinked",
					"doc", doc.ID, "error", err)
				return nil
			}
			linked[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, n := range linked {
		if n > 0 {
			report.Linked++
		}
	}
	return nil
}
