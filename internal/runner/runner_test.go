package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sn3fru/silvanews-sub001/internal/admission"
	"github.com/sn3fru/silvanews-sub001/internal/config"
	"github.com/sn3fru/silvanews-sub001/internal/embed"
	"github.com/sn3fru/silvanews-sub001/internal/graph"
	"github.com/sn3fru/silvanews-sub001/internal/grouping"
	"github.com/sn3fru/silvanews-sub001/internal/model"
	"github.com/sn3fru/silvanews-sub001/internal/oracle"
	"github.com/sn3fru/silvanews-sub001/internal/store"
	"github.com/sn3fru/silvanews-sub001/internal/triage"
)

// routingProvider answers each oracle call type with a canned response
// keyed off the system prompt.
type routingProvider struct{}

func (p *routingProvider) Name() string    { return "routing" }
func (p *routingProvider) Available() bool { return true }
func (p *routingProvider) Generate(ctx context.Context, req oracle.Request) (oracle.Response, error) {
	var content string
	switch {
	case strings.Contains(req.SystemPrompt, "group news documents"):
		content = `[]` // no decisions: everything becomes a singleton
	case strings.Contains(req.SystemPrompt, "classify event clusters"):
		content = `[]` // keep structural defaults
	case strings.Contains(req.SystemPrompt, "extract named entities"):
		content = `[{"name": "Acme Corporation", "type": "ORG", "relation": "PROTAGONIST", "sentiment": 0, "confidence": 0.8}]`
	case strings.Contains(req.SystemPrompt, "SAME real-world event"):
		content = `{"same_event": false}`
	default:
		content = `[]`
	}
	return oracle.Response{Content: content, Model: "routing"}, nil
}

func testRunner(t *testing.T) (*Runner, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	pm := oracle.NewProviderManager()
	pm.AddProvider(&routingProvider{})
	o := oracle.New(pm)

	embedSvc := embed.NewService(nil)
	cfg := config.Default().Pipeline

	gate := admission.NewGate(st, embedSvc, nil, cfg.DedupThreshold, 48*time.Hour)
	grouper := grouping.NewEngine(st, o, cfg.CandidateFloor, cfg.CandidateK, cfg.GroupBatchSize, cfg.MaxFails)
	linker := graph.NewLinker(st, o, graph.NewResolver(st, nil, cfg.TrigramThreshold))
	triager := triage.NewEngine(st, o, nil, nil, cfg)

	return New(st, gate, grouper, linker, triager, nil, 48*time.Hour, 2), st
}

func TestRunOnceFullCycle(t *testing.T) {
	r, st := testRunner(t)

	batch := []admission.Incoming{
		{Title: "Rates up", Text: "The central bank raised its benchmark rate.", SourceType: model.SourceDomestic},
		{Title: "Oil climbs", Text: "Crude futures climbed on supply concerns.", SourceType: model.SourceInternational},
		{Title: "Rates up", Text: "The central bank raised its benchmark rate.", SourceType: model.SourceDomestic},
	}

	report, err := r.RunOnce(context.Background(), batch)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Admitted != 2 || report.Rejected != 1 {
		t.Errorf("admission counters wrong: %+v", report)
	}
	if report.Created != 2 {
		t.Errorf("expected 2 singleton clusters, got %d", report.Created)
	}
	if report.Linked != 2 {
		t.Errorf("expected 2 linked documents, got %d", report.Linked)
	}

	// The run report is persisted.
	runs, err := st.RecentRuns(5)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != report.ID {
		t.Errorf("run report not persisted: %+v", runs)
	}

	// No document is left behind.
	counts, err := st.StatusCounts()
	if err != nil {
		t.Fatalf("StatusCounts failed: %v", err)
	}
	if counts[model.DocPending] != 0 {
		t.Errorf("pending documents after cycle: %d", counts[model.DocPending])
	}
	if counts[model.DocGrouped] != 2 {
		t.Errorf("expected 2 grouped documents, got %d", counts[model.DocGrouped])
	}

	// Partition isolation held: one cluster per partition.
	dom, err := st.ActiveClusters(model.SourceDomestic)
	if err != nil {
		t.Fatalf("ActiveClusters failed: %v", err)
	}
	intl, err := st.ActiveClusters(model.SourceInternational)
	if err != nil {
		t.Fatalf("ActiveClusters failed: %v", err)
	}
	if len(dom) != 1 || len(intl) != 1 {
		t.Errorf("expected one cluster per partition, got %d/%d", len(dom), len(intl))
	}
}

func TestRunOnceEmptyBatchStillRuns(t *testing.T) {
	r, st := testRunner(t)

	report, err := r.RunOnce(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Admitted != 0 || report.Errors != 0 {
		t.Errorf("empty cycle should be clean: %+v", report)
	}

	runs, err := st.RecentRuns(5)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("empty cycle should still report: %d runs", len(runs))
	}
}

func TestRunOnceProcessesCarriedOverDocuments(t *testing.T) {
	r, st := testRunner(t)

	// A document admitted in some earlier cycle, still pending.
	doc := model.Document{
		ID: "stale", RawText: "old body", Title: "old title",
		SourceType: model.SourceDomestic, Status: model.DocPending,
		Embedding: []float32{1, 0, 0}, IngestedAt: time.Now().UTC().Add(-time.Hour),
	}
	if err := st.InsertDocument(doc); err != nil {
		t.Fatalf("InsertDocument failed: %v", err)
	}

	report, err := r.RunOnce(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Created != 1 {
		t.Errorf("carried-over document should be grouped, created=%d", report.Created)
	}
}
