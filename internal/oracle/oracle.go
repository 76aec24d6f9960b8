package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sn3fru/silvanews-sub001/internal/logging"
	"github.com/sn3fru/silvanews-sub001/internal/model"
)

// maxEntities bounds the entity list extracted per document.
const maxEntities = 15

// callTimeout bounds every oracle round trip. The pipeline never waits
// longer; on timeout the caller's deterministic fallback applies.
const defaultCallTimeout = 90 * time.Second

// Oracle exposes the three typed judgment calls the pipeline needs.
// All methods are safe to call with a nil provider result; they return an
// error and the caller degrades.
type Oracle struct {
	manager *ProviderManager
	timeout time.Duration
}

// New creates an Oracle over the given provider manager.
func New(manager *ProviderManager) *Oracle {
	return &Oracle{manager: manager, timeout: defaultCallTimeout}
}

// Available reports whether any provider is ready.
func (o *Oracle) Available() bool {
	return o.manager.GetAvailable() != nil
}

func (o *Oracle) generate(ctx context.Context, req Request) (Response, error) {
	p := o.manager.GetAvailable()
	if p == nil {
		return Response{}, fmt.Errorf("oracle: no provider available")
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return p.Generate(ctx, req)
}

// GroupDoc is one pending document presented for a grouping decision.
type GroupDoc struct {
	ID      string
	Title   string
	Excerpt string
}

// CandidateCluster is one existing cluster a document may attach to.
type CandidateCluster struct {
	ID       string
	Title    string
	Summary  string
	DocCount int
}

const groupSystemPrompt = `You group news documents into event clusters. ` +
	`For each document decide whether it reports the same real-world event as one ` +
	`of its candidate clusters ("attach") or a distinct event ("new"). ` +
	`Answer ONLY with a JSON array of objects: ` +
	`{"document_id": "...", "action": "attach"|"new", "target": "<cluster id when attaching>"}. ` +
	`No prose, no markdown.`

// GroupBatch asks for one attach-or-new decision per document. The
// returned slice contains only decisions that passed schema validation;
// documents without a decision are the caller's to default (singleton).
// An error means the call itself failed and nothing was decided.
func (o *Oracle) GroupBatch(ctx context.Context, docs []GroupDoc, candidates []CandidateCluster, similarityHints []string) ([]GroupDecision, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString("Documents:\n")
	for _, d := range docs {
		fmt.Fprintf(&b, "- id=%s title=%q excerpt=%q\n", d.ID, d.Title, d.Excerpt)
	}
	b.WriteString("\nCandidate clusters:\n")
	if len(candidates) == 0 {
		b.WriteString("(none)\n")
	}
	for _, c := range candidates {
		fmt.Fprintf(&b, "- id=%s members=%d title=%q summary=%q\n", c.ID, c.DocCount, c.Title, c.Summary)
	}
	if len(similarityHints) > 0 {
		b.WriteString("\nSimilarity hints:\n")
		for _, h := range similarityHints {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}

	resp, err := o.generate(ctx, Request{
		SystemPrompt: groupSystemPrompt,
		UserPrompt:   b.String(),
		MaxTokens:    4096,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: group batch: %w", err)
	}

	var raw []GroupDecision
	if err := decodeLoose(resp.Content, &raw); err != nil {
		logging.Warn("oracle: group response unparseable, callers fall back to singletons", "docs", len(docs))
		return nil, nil // call succeeded, zero decisions
	}

	docIDs := make(map[string]bool, len(docs))
	for _, d := range docs {
		docIDs[d.ID] = true
	}
	candidateIDs := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		candidateIDs[c.ID] = true
	}

	seen := make(map[string]bool, len(raw))
	valid := raw[:0]
	for _, d := range raw {
		d.Action = GroupAction(strings.ToLower(strings.TrimSpace(string(d.Action))))
		if err := validateGroupDecision(d, docIDs, candidateIDs); err != nil {
			logging.Debug("oracle: dropping invalid group decision", "error", err)
			continue
		}
		if seen[d.DocumentID] {
			continue // first decision per document wins
		}
		seen[d.DocumentID] = true
		valid = append(valid, d)
	}

	logging.Info("oracle: group batch decided", "docs", len(docs), "decisions", len(valid))
	return valid, nil
}

// ClassifyItem is one cluster presented for classification.
type ClassifyItem struct {
	ClusterID string
	Title     string
	Excerpts  []string
	Context   string // historical context blob, may be empty
}

const classifySystemPrompt = `You classify event clusters of news documents. ` +
	`For each cluster return its canonical subject key, a short tag, a priority ` +
	`(P1 for market-critical events, P2 for relevant, P3 for routine, IRRELEVANT otherwise), ` +
	`a numeric score 0-100 coherent with the priority, a one-line title and a 2-3 sentence summary. ` +
	`Answer ONLY with a JSON array of objects: ` +
	`{"cluster_id": "...", "subject_key": "...", "tag": "...", "priority": "P1"|"P2"|"P3"|"IRRELEVANT", ` +
	`"score": 0-100, "title": "...", "summary": "..."}. No prose, no markdown.`

// ClassifyBatch asks for tag/priority/summary per cluster. Clusters whose
// answer is missing or invalid are absent from the result; the triage
// stage applies the structural default (P3/IRRELEVANT) for them.
func (o *Oracle) ClassifyBatch(ctx context.Context, items []ClassifyItem) ([]Classification, error) {
	if len(items) == 0 {
		return nil, nil
	}

	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "Cluster id=%s title=%q\n", it.ClusterID, it.Title)
		for _, ex := range it.Excerpts {
			fmt.Fprintf(&b, "  doc: %q\n", ex)
		}
		if it.Context != "" {
			fmt.Fprintf(&b, "  known history:\n%s\n", indent(it.Context, "    "))
		}
		b.WriteString("\n")
	}

	resp, err := o.generate(ctx, Request{
		SystemPrompt: classifySystemPrompt,
		UserPrompt:   b.String(),
		MaxTokens:    4096,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: classify batch: %w", err)
	}

	var raw []Classification
	if err := decodeLoose(resp.Content, &raw); err != nil {
		logging.Warn("oracle: classify response unparseable, structural defaults apply", "clusters", len(items))
		return nil, nil
	}

	known := make(map[string]bool, len(items))
	for _, it := range items {
		known[it.ClusterID] = true
	}

	seen := make(map[string]bool, len(raw))
	valid := raw[:0]
	for _, c := range raw {
		if !known[c.ClusterID] || seen[c.ClusterID] {
			continue
		}
		c.Priority = strings.ToUpper(strings.TrimSpace(c.Priority))
		switch model.Priority(c.Priority) {
		case model.PriorityP1, model.PriorityP2, model.PriorityP3, model.PriorityIrrelevant:
		default:
			c.Priority = string(model.PriorityP3)
		}
		c.Score = clamp(c.Score, 0, 100)
		seen[c.ClusterID] = true
		valid = append(valid, c)
	}

	logging.Info("oracle: classify batch decided", "clusters", len(items), "classified", len(valid))
	return valid, nil
}

const extractSystemPrompt = `You extract named entities from a news document. ` +
	`Return the people, organizations, government bodies, events and key concepts involved, ` +
	`with each entity's role (PROTAGONIST, TARGET, MENTIONED, SECONDARY), a sentiment in [-1,1], ` +
	`a confidence in [0,1] and the short text span supporting it. ` +
	`Answer ONLY with a JSON array of objects: ` +
	`{"name": "...", "type": "PERSON"|"ORG"|"GOVERNMENT"|"EVENT"|"CONCEPT", ` +
	`"relation": "...", "sentiment": -1..1, "confidence": 0..1, "span": "..."}. ` +
	`At most 15 entities. No prose, no markdown.`

// ExtractEntities asks for the entities of one document. A parse failure
// yields an empty list and nil error: linking is an enrichment, and a
// document with no edges is valid.
func (o *Oracle) ExtractEntities(ctx context.Context, text string) ([]ExtractedEntity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	resp, err := o.generate(ctx, Request{
		SystemPrompt: extractSystemPrompt,
		UserPrompt:   text,
		MaxTokens:    2048,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: extract entities: %w", err)
	}

	var raw []ExtractedEntity
	if err := decodeLoose(resp.Content, &raw); err != nil {
		logging.Warn("oracle: entity response unparseable, document stays unlinked")
		return nil, nil
	}

	valid := raw[:0]
	for _, e := range raw {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			continue
		}
		e.Type = string(normalizeEntityType(e.Type))
		e.Relation = string(normalizeRelation(e.Relation))
		e.Sentiment = clamp(e.Sentiment, -1, 1)
		e.Confidence = clamp(e.Confidence, 0, 1)
		valid = append(valid, e)
		if len(valid) == maxEntities {
			break
		}
	}
	return valid, nil
}

// ClusterCard is the digest of one cluster shown in a merge confirmation.
type ClusterCard struct {
	ID       string
	Title    string
	Summary  string
	Tag      string
	Priority string
	DocCount int
}

const mergeSystemPrompt = `You decide whether two clusters of news documents describe ` +
	`the SAME real-world event. Answer ONLY with a JSON object: ` +
	`{"same_event": true|false, "title": "...", "tag": "...", "priority": "..."} ` +
	`where title/tag/priority are optional improved values for the merged cluster. ` +
	`No prose, no markdown.`

// ConfirmMerge asks whether two clusters cover the same event. Any parse
// failure is a "no": an unconfirmed merge never happens.
func (o *Oracle) ConfirmMerge(ctx context.Context, a, b ClusterCard) (MergeVerdict, error) {
	prompt := fmt.Sprintf(
		"Cluster A: id=%s members=%d tag=%q priority=%s title=%q summary=%q\n"+
			"Cluster B: id=%s members=%d tag=%q priority=%s title=%q summary=%q\n",
		a.ID, a.DocCount, a.Tag, a.Priority, a.Title, a.Summary,
		b.ID, b.DocCount, b.Tag, b.Priority, b.Title, b.Summary)

	resp, err := o.generate(ctx, Request{
		SystemPrompt: mergeSystemPrompt,
		UserPrompt:   prompt,
		MaxTokens:    512,
	})
	if err != nil {
		return MergeVerdict{}, fmt.Errorf("oracle: confirm merge: %w", err)
	}

	var v MergeVerdict
	if err := decodeLoose(resp.Content, &v); err != nil {
		logging.Debug("oracle: merge response unparseable, treating as not-same-event")
		return MergeVerdict{SameEvent: false}, nil
	}
	v.Priority = strings.ToUpper(strings.TrimSpace(v.Priority))
	switch model.Priority(v.Priority) {
	case model.PriorityP1, model.PriorityP2, model.PriorityP3, model.PriorityIrrelevant:
	default:
		v.Priority = ""
	}
	return v, nil
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
