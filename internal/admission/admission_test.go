package admission

import (
	"context"
	"testing"
	"time"

	"github.com/sn3fru/silvanews-sub001/internal/embed"
	"github.com/sn3fru/silvanews-sub001/internal/model"
	"github.com/sn3fru/silvanews-sub001/internal/store"
)

func testGate(t *testing.T) (*Gate, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	gate := NewGate(st, embed.NewService(nil), nil, 0.85, 48*time.Hour)
	return gate, st
}

func TestAdmitFirstBatch(t *testing.T) {
	gate, _ := testGate(t)

	res, err := gate.Admit(context.Background(), []Incoming{
		{Title: "Central bank raises rates", Text: "The central bank raised its benchmark rate by 50 basis points citing inflation.", SourceType: model.SourceDomestic},
		{Title: "Retailer files for bankruptcy", Text: "A major retail chain filed a judicial reorganization petition on Monday.", SourceType: model.SourceDomestic},
	})
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if len(res.Admitted) != 2 || res.Rejected != 0 {
		t.Errorf("expected 2 admitted 0 rejected, got %d/%d", len(res.Admitted), res.Rejected)
	}
	for _, doc := range res.Admitted {
		if doc.Status != model.DocPending {
			t.Errorf("admitted document not pending: %s", doc.Status)
		}
		if len(doc.Embedding) != embed.Dimensions {
			t.Errorf("embedding dimensionality wrong: %d", len(doc.Embedding))
		}
	}
}

func TestAdmitRejectsExactDuplicateAcrossBatches(t *testing.T) {
	gate, st := testGate(t)

	in := Incoming{
		Title:      "Central bank raises rates",
		Text:       "The central bank raised its benchmark rate by 50 basis points citing inflation.",
		SourceType: model.SourceDomestic,
	}

	first, err := gate.Admit(context.Background(), []Incoming{in})
	if err != nil {
		t.Fatalf("first Admit failed: %v", err)
	}
	if len(first.Admitted) != 1 {
		t.Fatalf("expected 1 admitted, got %d", len(first.Admitted))
	}

	second, err := gate.Admit(context.Background(), []Incoming{in})
	if err != nil {
		t.Fatalf("second Admit failed: %v", err)
	}
	if len(second.Admitted) != 0 || second.Rejected != 1 {
		t.Errorf("duplicate should be rejected, got %d/%d", len(second.Admitted), second.Rejected)
	}

	// Rerunning the same batch changes nothing further: still one survivor
	counts, err := st.StatusCounts()
	if err != nil {
		t.Fatalf("StatusCounts failed: %v", err)
	}
	if counts[model.DocPending] != 1 {
		t.Errorf("expected 1 pending document after duplicate batch, got %d", counts[model.DocPending])
	}
}

func TestAdmitRejectsIntraBatchDuplicate(t *testing.T) {
	gate, _ := testGate(t)

	in := Incoming{
		Title:      "Merger announced",
		Text:       "Two industrial groups announced a merger agreement pending regulatory approval.",
		SourceType: model.SourceInternational,
	}
	res, err := gate.Admit(context.Background(), []Incoming{in, in})
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if len(res.Admitted) != 1 || res.Rejected != 1 {
		t.Errorf("expected one survivor from duplicate pair, got %d/%d", len(res.Admitted), res.Rejected)
	}
}

func TestAdmitDistinctTextsBothSurvive(t *testing.T) {
	gate, _ := testGate(t)

	res, err := gate.Admit(context.Background(), []Incoming{
		{Title: "Oil prices climb", Text: "Crude futures climbed three percent on supply concerns in the Middle East.", SourceType: model.SourceInternational},
		{Title: "Tech layoffs continue", Text: "A large software company announced a ten percent workforce reduction.", SourceType: model.SourceInternational},
	})
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if len(res.Admitted) != 2 {
		t.Errorf("distinct texts should both survive, admitted %d", len(res.Admitted))
	}
}

func TestRejectionLogged(t *testing.T) {
	gate, st := testGate(t)

	in := Incoming{
		Title:      "Sovereign default looms",
		Text:       "The finance ministry warned bondholders of an imminent payment suspension.",
		SourceType: model.SourceInternational,
	}
	if _, err := gate.Admit(context.Background(), []Incoming{in}); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if _, err := gate.Admit(context.Background(), []Incoming{in}); err != nil {
		t.Fatalf("second Admit failed: %v", err)
	}

	rejections, err := st.RecentRejections(10)
	if err != nil {
		t.Fatalf("RecentRejections failed: %v", err)
	}
	if len(rejections) != 1 {
		t.Fatalf("expected 1 logged rejection, got %d", len(rejections))
	}
	if rejections[0].Similarity < 0.85 {
		t.Errorf("logged similarity below threshold: %v", rejections[0].Similarity)
	}
}
