// Package history builds the background blob handed to classification:
// what the knowledge graph and the vector index already know about the
// events a cluster touches.
package history

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sn3fru/silvanews-sub001/internal/embed"
	"github.com/sn3fru/silvanews-sub001/internal/logging"
	"github.com/sn3fru/silvanews-sub001/internal/model"
	"github.com/sn3fru/silvanews-sub001/internal/store"
)

// Retriever assembles historical context from two windows: a short graph
// window over entity edges and a longer vector window over document
// embeddings. Both degrade to empty sections, never to an error that
// blocks classification.
type Retriever struct {
	store *store.Store

	graphWindow  time.Duration
	vectorWindow time.Duration
	simFloor     float64
	topK         int
	charBudget   int
}

// NewRetriever builds a Retriever with the configured windows.
func NewRetriever(st *store.Store, graphWindow, vectorWindow time.Duration, simFloor float64, topK, charBudget int) *Retriever {
	return &Retriever{
		store:        st,
		graphWindow:  graphWindow,
		vectorWindow: vectorWindow,
		simFloor:     simFloor,
		topK:         topK,
		charBudget:   charBudget,
	}
}

// Context returns the history blob for one cluster, bounded by the char
// budget. An empty string means nothing relevant was on record.
func (r *Retriever) Context(cluster model.Cluster) string {
	var sections []string

	if graph := r.graphSection(cluster); graph != "" {
		sections = append(sections, graph)
	}
	if vec := r.vectorSection(cluster); vec != "" {
		sections = append(sections, vec)
	}

	blob := strings.Join(sections, "\n")
	if len(blob) > r.charBudget {
		end := r.charBudget
		for end > 0 && !utf8.RuneStart(blob[end]) {
			end--
		}
		blob = blob[:end]
		if cut := strings.LastIndexByte(blob, '\n'); cut > 0 {
			blob = blob[:cut]
		}
	}
	return blob
}

// graphSection walks cluster documents to their PROTAGONIST and TARGET
// entities and lists those entities' recent activity.
func (r *Retriever) graphSection(cluster model.Cluster) string {
	docs, err := r.store.ClusterDocuments(cluster.ID)
	if err != nil {
		logging.Warn("history: cluster documents unavailable", "cluster", cluster.ID, "error", err)
		return ""
	}
	if len(docs) == 0 {
		return ""
	}
	docIDs := make([]string, len(docs))
	member := make(map[string]bool, len(docs))
	for i, d := range docs {
		docIDs[i] = d.ID
		member[d.ID] = true
	}

	entities, err := r.store.EntitiesForDocuments(docIDs,
		[]model.RelationType{model.RelationProtagonist, model.RelationTarget})
	if err != nil {
		logging.Warn("history: graph walk failed", "cluster", cluster.ID, "error", err)
		return ""
	}
	if len(entities) == 0 {
		return ""
	}

	since := time.Now().Add(-r.graphWindow)
	var lines []string
	for _, e := range entities {
		edges, err := r.store.EntityEdgesSince(e.ID, since)
		if err != nil {
			continue
		}
		outside := 0
		var relations []string
		seen := map[string]bool{cluster.ID: true}
		var involved []string
		for _, edge := range edges {
			if member[edge.DocumentID] {
				continue
			}
			outside++
			if len(relations) < 3 {
				relations = append(relations, strings.ToLower(string(edge.Relation)))
			}
			if title := r.clusterTitle(edge.DocumentID, seen); title != "" && len(involved) < 3 {
				involved = append(involved, title)
			}
		}
		if outside == 0 {
			continue
		}
		if len(involved) > 0 {
			lines = append(lines, fmt.Sprintf("- %s (%s): previously involved in: %s",
				e.CanonicalName, e.Type, strings.Join(involved, "; ")))
		} else {
			lines = append(lines, fmt.Sprintf("- %s (%s): %d recent mentions elsewhere (%s)",
				e.CanonicalName, e.Type, outside, strings.Join(relations, ", ")))
		}
		if len(lines) >= r.topK {
			break
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "Known actors:\n" + strings.Join(lines, "\n")
}

// clusterTitle resolves a document to its cluster and returns a one-line
// digest, once per cluster. Unclustered documents resolve to "".
func (r *Retriever) clusterTitle(docID string, seen map[string]bool) string {
	doc, err := r.store.GetDocument(docID)
	if err != nil || doc.ClusterID == "" || seen[doc.ClusterID] {
		return ""
	}
	seen[doc.ClusterID] = true
	c, err := r.store.GetCluster(doc.ClusterID)
	if err != nil {
		return ""
	}
	title := c.Title
	if title == "" {
		title = c.ID
	}
	return fmt.Sprintf("%s (%s)", title, c.CreatedAt.Format("2006-01-02"))
}

// vectorSection lists the most similar documents of the long window that
// are not already members of the cluster.
func (r *Retriever) vectorSection(cluster model.Cluster) string {
	if len(cluster.MeanEmbedding) == 0 {
		return ""
	}
	docs, err := r.store.DocumentsInWindow(time.Now().Add(-r.vectorWindow), cluster.SourceType)
	if err != nil {
		logging.Warn("history: vector window unavailable", "cluster", cluster.ID, "error", err)
		return ""
	}

	type match struct {
		doc model.Document
		sim float64
	}
	var matches []match
	for _, d := range docs {
		if d.ClusterID == cluster.ID {
			continue
		}
		sim := float64(embed.CosineSimilarity(cluster.MeanEmbedding, d.Embedding))
		if sim >= r.simFloor {
			matches = append(matches, match{doc: d, sim: sim})
		}
	}
	if len(matches) == 0 {
		return ""
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].sim > matches[j].sim })
	if len(matches) > r.topK {
		matches = matches[:r.topK]
	}

	// Matched documents surface as their cluster's summary, one line per
	// cluster; unclustered matches fall back to the document itself.
	seen := map[string]bool{cluster.ID: true}
	var lines []string
	for _, m := range matches {
		if m.doc.ClusterID != "" {
			if seen[m.doc.ClusterID] {
				continue
			}
			seen[m.doc.ClusterID] = true
			c, err := r.store.GetCluster(m.doc.ClusterID)
			if err != nil {
				continue
			}
			digest := c.Title
			if c.Summary != "" {
				digest += ": " + excerpt(c.Summary, 160)
			}
			lines = append(lines, fmt.Sprintf("- %s (%s, sim %.2f)",
				digest, c.CreatedAt.Format("2006-01-02"), m.sim))
			continue
		}
		title := m.doc.Title
		if title == "" {
			title = excerpt(m.doc.RawText, 80)
		}
		lines = append(lines, fmt.Sprintf("- %s (%s, sim %.2f)",
			title, m.doc.IngestedAt.Format("2006-01-02"), m.sim))
	}
	if len(lines) == 0 {
		return ""
	}
	return "Related earlier coverage:\n" + strings.Join(lines, "\n")
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
