package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sn3fru/silvanews-sub001/internal/logging"
	"github.com/sn3fru/silvanews-sub001/internal/model"
	"github.com/sn3fru/silvanews-sub001/internal/oracle"
	"github.com/sn3fru/silvanews-sub001/internal/store"
)

// Linker extracts entities from documents and wires them into the graph.
type Linker struct {
	store    *store.Store
	oracle   *oracle.Oracle
	resolver *Resolver
}

// NewLinker builds a Linker over the shared store and oracle.
func NewLinker(st *store.Store, o *oracle.Oracle, resolver *Resolver) *Linker {
	return &Linker{store: st, oracle: o, resolver: resolver}
}

// Link extracts the entities of one document and upserts its edges.
// Returns the number of edges written. Extraction failures leave the
// document unlinked; linking is enrichment, not a gate.
func (l *Linker) Link(ctx context.Context, doc model.Document) (int, error) {
	extracted, err := l.oracle.ExtractEntities(ctx, linkText(doc))
	if err != nil {
		return 0, fmt.Errorf("graph: extract %s: %w", doc.ID, err)
	}
	if len(extracted) == 0 {
		return 0, nil
	}

	linked := 0
	for _, ex := range extracted {
		res, err := l.resolver.Resolve(ex.Name, model.EntityType(ex.Type), uuid.NewString())
		if err != nil {
			return linked, fmt.Errorf("graph: resolve %q: %w", ex.Name, err)
		}
		if res == nil {
			continue
		}
		if err := l.store.TouchEntity(res.Entity.ID, res.Alias); err != nil {
			return linked, fmt.Errorf("graph: touch %s: %w", res.Entity.ID, err)
		}

		edge := model.Edge{
			DocumentID: doc.ID,
			EntityID:   res.Entity.ID,
			Relation:   model.RelationType(ex.Relation),
			Sentiment:  ex.Sentiment,
			Confidence: ex.Confidence,
			Span:       ex.Span,
		}
		if err := l.store.UpsertEdge(edge); err != nil {
			return linked, fmt.Errorf("graph: edge %s->%s: %w", doc.ID, res.Entity.ID, err)
		}
		linked++
	}

	logging.Debug("graph: document linked", "doc", doc.ID, "edges", linked)
	return linked, nil
}

// linkText is what the extractor sees: title plus a bounded slice of the
// body. Entities cluster at the top of news copy.
func linkText(doc model.Document) string {
	const maxChars = 4000
	text := doc.RawText
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	if doc.Title != "" {
		return doc.Title + "\n\n" + text
	}
	return text
}
