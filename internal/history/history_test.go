package history

import (
	"strings"
	"testing"
	"time"

	"github.com/sn3fru/silvanews-sub001/internal/model"
	"github.com/sn3fru/silvanews-sub001/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testRetriever(st *store.Store) *Retriever {
	return NewRetriever(st, 7*24*time.Hour, 30*24*time.Hour, 0.7, 5, 2000)
}

func insertClusterWithDoc(t *testing.T, st *store.Store, clusterID, docID string, emb []float32) model.Cluster {
	t.Helper()
	cluster := model.Cluster{
		ID:         clusterID,
		SourceType: model.SourceDomestic,
		Status:     model.ClusterActive,
	}
	if err := st.InsertCluster(cluster); err != nil {
		t.Fatalf("InsertCluster failed: %v", err)
	}
	doc := model.Document{
		ID: docID, RawText: "body", Title: "title " + docID,
		SourceType: model.SourceDomestic, Status: model.DocPending,
		Embedding: emb, IngestedAt: time.Now().UTC(),
	}
	if err := st.InsertDocument(doc); err != nil {
		t.Fatalf("InsertDocument failed: %v", err)
	}
	if err := st.AttachDocument(docID, clusterID); err != nil {
		t.Fatalf("AttachDocument failed: %v", err)
	}
	got, err := st.GetCluster(clusterID)
	if err != nil {
		t.Fatalf("GetCluster failed: %v", err)
	}
	return *got
}

func TestContextEmptyWhenNothingKnown(t *testing.T) {
	st := openStore(t)
	r := testRetriever(st)

	cluster := insertClusterWithDoc(t, st, "c1", "doc1", []float32{1, 0, 0})
	if got := r.Context(cluster); got != "" {
		t.Errorf("expected empty context, got %q", got)
	}
}

func TestContextIncludesGraphSection(t *testing.T) {
	st := openStore(t)
	r := testRetriever(st)

	cluster := insertClusterWithDoc(t, st, "c1", "doc1", []float32{1, 0, 0})

	// Outside document sharing a protagonist entity with the cluster.
	outside := model.Document{
		ID: "out1", RawText: "earlier coverage", SourceType: model.SourceDomestic,
		Status: model.DocPending, IngestedAt: time.Now().UTC(),
	}
	if err := st.InsertDocument(outside); err != nil {
		t.Fatalf("InsertDocument failed: %v", err)
	}
	e := model.Entity{ID: "e1", CanonicalName: "Acme Corporation", Type: model.EntityOrg}
	if err := st.InsertEntity(e); err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}
	for _, docID := range []string{"doc1", "out1"} {
		edge := model.Edge{DocumentID: docID, EntityID: "e1", Relation: model.RelationProtagonist, Confidence: 0.9}
		if err := st.UpsertEdge(edge); err != nil {
			t.Fatalf("UpsertEdge failed: %v", err)
		}
	}

	got := r.Context(cluster)
	if !strings.Contains(got, "Acme Corporation") {
		t.Errorf("graph section missing the shared actor: %q", got)
	}
	if !strings.Contains(got, "Known actors:") {
		t.Errorf("graph section header missing: %q", got)
	}
}

func TestContextIncludesVectorSection(t *testing.T) {
	st := openStore(t)
	r := testRetriever(st)

	cluster := insertClusterWithDoc(t, st, "c1", "doc1", []float32{1, 0, 0})

	similar := model.Document{
		ID: "out1", RawText: "earlier take on the same story", Title: "Earlier take",
		SourceType: model.SourceDomestic, Status: model.DocPending,
		Embedding: []float32{0.98, 0.1, 0}, IngestedAt: time.Now().UTC().Add(-10 * 24 * time.Hour),
	}
	if err := st.InsertDocument(similar); err != nil {
		t.Fatalf("InsertDocument failed: %v", err)
	}
	dissimilar := model.Document{
		ID: "out2", RawText: "unrelated", Title: "Unrelated",
		SourceType: model.SourceDomestic, Status: model.DocPending,
		Embedding: []float32{0, 0, 1}, IngestedAt: time.Now().UTC(),
	}
	if err := st.InsertDocument(dissimilar); err != nil {
		t.Fatalf("InsertDocument failed: %v", err)
	}

	got := r.Context(cluster)
	if !strings.Contains(got, "Earlier take") {
		t.Errorf("vector section missing the similar document: %q", got)
	}
	if strings.Contains(got, "Unrelated") {
		t.Errorf("dissimilar document leaked into context: %q", got)
	}
}

func TestGraphSectionNamesPreviousClusters(t *testing.T) {
	st := openStore(t)
	r := testRetriever(st)

	cluster := insertClusterWithDoc(t, st, "c1", "doc1", []float32{1, 0, 0})
	prev := insertClusterWithDoc(t, st, "prev", "out1", []float32{0, 1, 0})
	if err := st.UpdateClusterMeta(prev.ID, "earnings", "economy", "Acme misses estimates", "", model.PriorityP3, 30, "classified"); err != nil {
		t.Fatalf("UpdateClusterMeta failed: %v", err)
	}

	e := model.Entity{ID: "e1", CanonicalName: "Acme Corporation", Type: model.EntityOrg}
	if err := st.InsertEntity(e); err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}
	for _, docID := range []string{"doc1", "out1"} {
		edge := model.Edge{DocumentID: docID, EntityID: "e1", Relation: model.RelationProtagonist, Confidence: 0.9}
		if err := st.UpsertEdge(edge); err != nil {
			t.Fatalf("UpsertEdge failed: %v", err)
		}
	}

	got := r.Context(cluster)
	if !strings.Contains(got, "previously involved in") {
		t.Errorf("graph section should resolve to clusters: %q", got)
	}
	if !strings.Contains(got, "Acme misses estimates") {
		t.Errorf("previous cluster title missing: %q", got)
	}
}

func TestVectorSectionReturnsClusterSummaries(t *testing.T) {
	st := openStore(t)
	r := testRetriever(st)

	cluster := insertClusterWithDoc(t, st, "c1", "doc1", []float32{1, 0, 0})
	prev := insertClusterWithDoc(t, st, "prev", "out1", []float32{0.98, 0.1, 0})
	if err := st.UpdateClusterMeta(prev.ID, "earnings", "economy", "Earlier event",
		"The same company guided down last quarter.", model.PriorityP3, 30, "classified"); err != nil {
		t.Fatalf("UpdateClusterMeta failed: %v", err)
	}

	got := r.Context(cluster)
	if !strings.Contains(got, "The same company guided down last quarter.") {
		t.Errorf("vector section should carry the matched cluster's summary: %q", got)
	}
}

func TestContextExcludesOwnMembers(t *testing.T) {
	st := openStore(t)
	r := testRetriever(st)

	cluster := insertClusterWithDoc(t, st, "c1", "doc1", []float32{1, 0, 0})
	got := r.Context(cluster)
	if strings.Contains(got, "title doc1") {
		t.Errorf("cluster's own member appeared in its context: %q", got)
	}
}

func TestContextRespectsCharBudget(t *testing.T) {
	st := openStore(t)
	r := NewRetriever(st, 7*24*time.Hour, 30*24*time.Hour, 0.7, 50, 200)

	cluster := insertClusterWithDoc(t, st, "c1", "doc1", []float32{1, 0, 0})
	for i := 0; i < 20; i++ {
		d := model.Document{
			ID:      strings.Repeat("x", i+1),
			RawText: "related coverage with a fairly long descriptive body of text",
			Title:   "A long related headline about the same ongoing market event " + strings.Repeat("y", i),
			SourceType: model.SourceDomestic, Status: model.DocPending,
			Embedding: []float32{1, 0, 0}, IngestedAt: time.Now().UTC(),
		}
		if err := st.InsertDocument(d); err != nil {
			t.Fatalf("InsertDocument failed: %v", err)
		}
	}

	got := r.Context(cluster)
	if len(got) > 200 {
		t.Errorf("context exceeds char budget: %d chars", len(got))
	}
}
