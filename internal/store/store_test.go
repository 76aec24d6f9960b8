package store

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/sn3fru/silvanews-sub001/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testDoc(id string, st model.SourceType) model.Document {
	return model.Document{
		ID:         id,
		RawText:    "raw text of " + id,
		Title:      "title " + id,
		SourceType: st,
		Status:     model.DocPending,
		Embedding:  []float32{1, 0, 0},
		IngestedAt: time.Now().UTC(),
	}
}

func TestOpen(t *testing.T) {
	st := openTestStore(t)

	for _, table := range []string{"documents", "clusters", "entities", "edges", "change_log", "rejections", "runs"} {
		var name string
		err := st.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s not created: %v", table, err)
		}
	}
}

func TestInsertAndGetDocument(t *testing.T) {
	st := openTestStore(t)

	doc := testDoc("doc1", model.SourceDomestic)
	doc.Embedding = []float32{0.1, 0.2, 0.3}
	if err := st.InsertDocument(doc); err != nil {
		t.Fatalf("InsertDocument failed: %v", err)
	}

	got, err := st.GetDocument("doc1")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if got.RawText != doc.RawText {
		t.Errorf("raw text changed: got %q want %q", got.RawText, doc.RawText)
	}
	if got.Status != model.DocPending {
		t.Errorf("expected pending, got %s", got.Status)
	}
	if len(got.Embedding) != 3 || got.Embedding[1] != 0.2 {
		t.Errorf("embedding round trip broken: %v", got.Embedding)
	}
}

func TestUpdateDocumentStatusRejectsInvalidTransition(t *testing.T) {
	st := openTestStore(t)

	doc := testDoc("doc1", model.SourceDomestic)
	if err := st.InsertDocument(doc); err != nil {
		t.Fatalf("InsertDocument failed: %v", err)
	}

	if err := st.UpdateDocumentStatus("doc1", model.DocGrouped, "test"); err != nil {
		t.Fatalf("pending -> grouped should be allowed: %v", err)
	}
	if err := st.UpdateDocumentStatus("doc1", model.DocPending, "test"); err == nil {
		t.Fatal("grouped -> pending should be rejected")
	}
	if err := st.UpdateDocumentStatus("doc1", model.DocIrrelevant, "test"); err != nil {
		t.Fatalf("grouped -> irrelevant should be allowed: %v", err)
	}
}

func TestBumpFailCountFlipsToError(t *testing.T) {
	st := openTestStore(t)

	doc := testDoc("doc1", model.SourceDomestic)
	if err := st.InsertDocument(doc); err != nil {
		t.Fatalf("InsertDocument failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := st.BumpFailCount("doc1", 3); err != nil {
			t.Fatalf("BumpFailCount %d failed: %v", i, err)
		}
	}

	got, err := st.GetDocument("doc1")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if got.FailCount != 3 {
		t.Errorf("expected fail_count 3, got %d", got.FailCount)
	}
	if got.Status != model.DocError {
		t.Errorf("expected error status after 3 failures, got %s", got.Status)
	}
}

func TestAttachDocumentUpdatesMean(t *testing.T) {
	st := openTestStore(t)

	cluster := model.Cluster{
		ID:            "c1",
		SourceType:    model.SourceDomestic,
		DocCount:      1,
		MeanEmbedding: []float32{1, 0, 0},
		Status:        model.ClusterActive,
	}
	if err := st.InsertCluster(cluster); err != nil {
		t.Fatalf("InsertCluster failed: %v", err)
	}

	doc := testDoc("doc1", model.SourceDomestic)
	doc.Embedding = []float32{0, 1, 0}
	if err := st.InsertDocument(doc); err != nil {
		t.Fatalf("InsertDocument failed: %v", err)
	}

	if err := st.AttachDocument("doc1", "c1"); err != nil {
		t.Fatalf("AttachDocument failed: %v", err)
	}

	got, err := st.GetCluster("c1")
	if err != nil {
		t.Fatalf("GetCluster failed: %v", err)
	}
	if got.DocCount != 2 {
		t.Errorf("expected doc_count 2, got %d", got.DocCount)
	}
	// Mean of (1,0,0) and (0,1,0) is (0.5, 0.5, 0)
	if math.Abs(float64(got.MeanEmbedding[0])-0.5) > 1e-6 ||
		math.Abs(float64(got.MeanEmbedding[1])-0.5) > 1e-6 {
		t.Errorf("mean embedding wrong: %v", got.MeanEmbedding)
	}

	gotDoc, err := st.GetDocument("doc1")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if gotDoc.Status != model.DocGrouped || gotDoc.ClusterID != "c1" {
		t.Errorf("document not grouped into c1: status=%s cluster=%s", gotDoc.Status, gotDoc.ClusterID)
	}
}

func TestAttachDocumentRejectsCrossPartition(t *testing.T) {
	st := openTestStore(t)

	cluster := model.Cluster{ID: "c1", SourceType: model.SourceInternational, Status: model.ClusterActive}
	if err := st.InsertCluster(cluster); err != nil {
		t.Fatalf("InsertCluster failed: %v", err)
	}
	doc := testDoc("doc1", model.SourceDomestic)
	if err := st.InsertDocument(doc); err != nil {
		t.Fatalf("InsertDocument failed: %v", err)
	}

	if err := st.AttachDocument("doc1", "c1"); err == nil {
		t.Fatal("attaching a domestic document to an international cluster should fail")
	}
}

func TestMergeClustersConservesDocuments(t *testing.T) {
	st := openTestStore(t)

	for _, c := range []model.Cluster{
		{ID: "dst", SourceType: model.SourceDomestic, Status: model.ClusterActive},
		{ID: "src", SourceType: model.SourceDomestic, Status: model.ClusterActive},
	} {
		if err := st.InsertCluster(c); err != nil {
			t.Fatalf("InsertCluster %s failed: %v", c.ID, err)
		}
	}

	for i := 0; i < 3; i++ {
		doc := testDoc(fmt.Sprintf("dst-doc%d", i), model.SourceDomestic)
		if err := st.InsertDocument(doc); err != nil {
			t.Fatalf("InsertDocument failed: %v", err)
		}
		if err := st.AttachDocument(doc.ID, "dst"); err != nil {
			t.Fatalf("AttachDocument failed: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		doc := testDoc(fmt.Sprintf("src-doc%d", i), model.SourceDomestic)
		if err := st.InsertDocument(doc); err != nil {
			t.Fatalf("InsertDocument failed: %v", err)
		}
		if err := st.AttachDocument(doc.ID, "src"); err != nil {
			t.Fatalf("AttachDocument failed: %v", err)
		}
	}

	if err := st.MergeClusters("dst", "src", "same event"); err != nil {
		t.Fatalf("MergeClusters failed: %v", err)
	}

	dst, err := st.GetCluster("dst")
	if err != nil {
		t.Fatalf("GetCluster dst failed: %v", err)
	}
	if dst.DocCount != 5 {
		t.Errorf("expected 5 members after merge, got %d", dst.DocCount)
	}

	src, err := st.GetCluster("src")
	if err != nil {
		t.Fatalf("GetCluster src failed: %v", err)
	}
	if src.Status != model.ClusterDiscarded {
		t.Errorf("expected src discarded, got %s", src.Status)
	}

	docs, err := st.ClusterDocuments("dst")
	if err != nil {
		t.Fatalf("ClusterDocuments failed: %v", err)
	}
	if len(docs) != 5 {
		t.Errorf("expected 5 documents in dst, got %d", len(docs))
	}

	history, err := st.ClusterHistory("src")
	if err != nil {
		t.Fatalf("ClusterHistory failed: %v", err)
	}
	if len(history) == 0 {
		t.Fatal("merge left no audit trail on the source cluster")
	}
}

func TestEntityUniqueness(t *testing.T) {
	st := openTestStore(t)

	e := model.Entity{ID: "e1", CanonicalName: "Acme Corp", Type: model.EntityOrg}
	if err := st.InsertEntity(e); err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}

	dup := model.Entity{ID: "e2", CanonicalName: "Acme Corp", Type: model.EntityOrg}
	if err := st.InsertEntity(dup); err == nil {
		t.Fatal("duplicate (name, type) insert should fail")
	}

	// Same name, different type is a different node
	other := model.Entity{ID: "e3", CanonicalName: "Acme Corp", Type: model.EntityEvent}
	if err := st.InsertEntity(other); err != nil {
		t.Fatalf("same name different type should be allowed: %v", err)
	}

	found, err := st.FindEntity("Acme Corp", model.EntityOrg)
	if err != nil {
		t.Fatalf("FindEntity failed: %v", err)
	}
	if found == nil || found.ID != "e1" {
		t.Errorf("FindEntity returned %+v, want e1", found)
	}
}

func TestUpsertEdgeReplacesPrevious(t *testing.T) {
	st := openTestStore(t)

	doc := testDoc("doc1", model.SourceDomestic)
	if err := st.InsertDocument(doc); err != nil {
		t.Fatalf("InsertDocument failed: %v", err)
	}
	e := model.Entity{ID: "e1", CanonicalName: "Acme Corp", Type: model.EntityOrg}
	if err := st.InsertEntity(e); err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}

	edge := model.Edge{DocumentID: "doc1", EntityID: "e1", Relation: model.RelationMentioned, Confidence: 0.5}
	if err := st.UpsertEdge(edge); err != nil {
		t.Fatalf("UpsertEdge failed: %v", err)
	}
	edge.Relation = model.RelationProtagonist
	edge.Confidence = 0.9
	if err := st.UpsertEdge(edge); err != nil {
		t.Fatalf("second UpsertEdge failed: %v", err)
	}

	edges, err := st.DocumentEdges("doc1")
	if err != nil {
		t.Fatalf("DocumentEdges failed: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge after upsert, got %d", len(edges))
	}
	if edges[0].Relation != model.RelationProtagonist || edges[0].Confidence != 0.9 {
		t.Errorf("edge not replaced: %+v", edges[0])
	}
}

func TestTouchEntityCollectsAliases(t *testing.T) {
	st := openTestStore(t)

	e := model.Entity{ID: "e1", CanonicalName: "Acme Corp", Type: model.EntityOrg}
	if err := st.InsertEntity(e); err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}

	if err := st.TouchEntity("e1", "ACME"); err != nil {
		t.Fatalf("TouchEntity failed: %v", err)
	}
	if err := st.TouchEntity("e1", "ACME"); err != nil {
		t.Fatalf("second TouchEntity failed: %v", err)
	}
	if err := st.TouchEntity("e1", "Acme Corp"); err != nil {
		t.Fatalf("canonical alias TouchEntity failed: %v", err)
	}

	got, err := st.GetEntity("e1")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.Mentions != 3 {
		t.Errorf("expected 3 mentions, got %d", got.Mentions)
	}
	if len(got.Aliases) != 1 || got.Aliases[0] != "ACME" {
		t.Errorf("expected aliases [ACME], got %v", got.Aliases)
	}
}

func TestFeedFiltersAndPaginates(t *testing.T) {
	st := openTestStore(t)

	for i := 0; i < 5; i++ {
		c := model.Cluster{
			ID:         fmt.Sprintf("c%d", i),
			Title:      fmt.Sprintf("cluster %d", i),
			Tag:        "economy",
			Priority:   model.PriorityP2,
			Score:      float64(50 + i),
			SourceType: model.SourceDomestic,
			Status:     model.ClusterActive,
		}
		if i == 0 {
			c.Priority = model.PriorityIrrelevant
			c.Score = 5
		}
		if err := st.InsertCluster(c); err != nil {
			t.Fatalf("InsertCluster failed: %v", err)
		}
	}

	page, err := st.Feed(FeedFilter{PerPage: 2})
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if page.Total != 4 {
		t.Errorf("expected 4 visible clusters (IRRELEVANT hidden), got %d", page.Total)
	}
	if len(page.Clusters) != 2 {
		t.Errorf("expected page of 2, got %d", len(page.Clusters))
	}
	if page.Clusters[0].Score < page.Clusters[1].Score {
		t.Errorf("feed not score-descending: %v then %v", page.Clusters[0].Score, page.Clusters[1].Score)
	}

	irr, err := st.Feed(FeedFilter{Priority: model.PriorityIrrelevant})
	if err != nil {
		t.Fatalf("Feed(IRRELEVANT) failed: %v", err)
	}
	if irr.Total != 1 {
		t.Errorf("expected 1 IRRELEVANT cluster when asked explicitly, got %d", irr.Total)
	}

	tagged, err := st.Feed(FeedFilter{Tag: "politics"})
	if err != nil {
		t.Fatalf("Feed(tag) failed: %v", err)
	}
	if tagged.Total != 0 {
		t.Errorf("expected 0 politics clusters, got %d", tagged.Total)
	}
}

func TestFeedHidesInactiveClustersUnderPriorityFilter(t *testing.T) {
	st := openTestStore(t)

	for _, c := range []model.Cluster{
		{ID: "live", Priority: model.PriorityP2, Score: 60, SourceType: model.SourceDomestic, Status: model.ClusterActive},
		{ID: "merged-away", Priority: model.PriorityP2, Score: 55, SourceType: model.SourceDomestic, Status: model.ClusterDiscarded},
		{ID: "shelved", Priority: model.PriorityP2, Score: 52, SourceType: model.SourceDomestic, Status: model.ClusterArchived},
	} {
		if err := st.InsertCluster(c); err != nil {
			t.Fatalf("InsertCluster failed: %v", err)
		}
	}

	page, err := st.Feed(FeedFilter{Priority: model.PriorityP2})
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if page.Total != 1 || page.Clusters[0].ID != "live" {
		t.Errorf("priority filter must only return active clusters: %+v", page)
	}
}

func TestRunReportRoundTrip(t *testing.T) {
	st := openTestStore(t)

	r := model.RunReport{
		ID:        "run1",
		StartedAt: time.Now().UTC(),
		Duration:  2500 * time.Millisecond,
		Admitted:  10,
		Rejected:  2,
		Attached:  6,
		Created:   4,
		Merged:    1,
	}
	if err := st.SaveRun(r); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	runs, err := st.RecentRuns(5)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].Admitted != 10 || runs[0].Duration != 2500*time.Millisecond {
		t.Errorf("run report mangled: %+v", runs[0])
	}
}

func TestStatusCounts(t *testing.T) {
	st := openTestStore(t)

	for i := 0; i < 3; i++ {
		doc := testDoc(fmt.Sprintf("p%d", i), model.SourceDomestic)
		if err := st.InsertDocument(doc); err != nil {
			t.Fatalf("InsertDocument failed: %v", err)
		}
	}
	irr := testDoc("irr", model.SourceDomestic)
	irr.Status = model.DocIrrelevant
	if err := st.InsertDocument(irr); err != nil {
		t.Fatalf("InsertDocument failed: %v", err)
	}

	counts, err := st.StatusCounts()
	if err != nil {
		t.Fatalf("StatusCounts failed: %v", err)
	}
	if counts[model.DocPending] != 3 || counts[model.DocIrrelevant] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestChangesSince(t *testing.T) {
	st := openTestStore(t)

	c := model.Cluster{ID: "c1", Status: model.ClusterActive, SourceType: model.SourceDomestic}
	if err := st.InsertCluster(c); err != nil {
		t.Fatalf("InsertCluster failed: %v", err)
	}

	mark := time.Now().UTC().Add(-time.Second)
	if err := st.SetClusterPriority("c1", model.PriorityP2, 60, "reclassified"); err != nil {
		t.Fatalf("SetClusterPriority failed: %v", err)
	}
	if err := st.ArchiveCluster("c1", "operator request"); err != nil {
		t.Fatalf("ArchiveCluster failed: %v", err)
	}

	changes, err := st.ChangesSince(mark)
	if err != nil {
		t.Fatalf("ChangesSince failed: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	if changes[0].Field != "priority" || changes[1].Field != "status" {
		t.Errorf("changes out of order: %+v", changes)
	}

	later, err := st.ChangesSince(time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("ChangesSince failed: %v", err)
	}
	if len(later) != 0 {
		t.Errorf("future window should be empty, got %d", len(later))
	}
}
