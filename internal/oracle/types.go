package oracle

import (
	"fmt"
	"strings"

	"github.com/sn3fru/silvanews-sub001/internal/model"
)

// GroupAction is the grouping verdict for one document.
type GroupAction string

const (
	ActionAttach GroupAction = "attach"
	ActionNew    GroupAction = "new"
)

// GroupDecision is one validated grouping answer. Documents whose answer
// could not be parsed or validated simply have no decision; the engine
// turns every undecided document into a singleton cluster.
type GroupDecision struct {
	DocumentID string      `json:"document_id"`
	Action     GroupAction `json:"action"`
	Target     string      `json:"target,omitempty"` // candidate cluster ID when attaching
}

// Classification is one validated classify answer for a cluster.
type Classification struct {
	ClusterID  string  `json:"cluster_id"`
	SubjectKey string  `json:"subject_key"`
	Tag        string  `json:"tag"`
	Priority   string  `json:"priority"`
	Score      float64 `json:"score"`
	Summary    string  `json:"summary"`
	Title      string  `json:"title"`
}

// ExtractedEntity is one validated entity mention from a document.
type ExtractedEntity struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Relation   string  `json:"relation"`
	Sentiment  float64 `json:"sentiment"`
	Confidence float64 `json:"confidence"`
	Span       string  `json:"span,omitempty"`
}

// MergeVerdict is the consolidation answer for one cluster pair.
type MergeVerdict struct {
	SameEvent bool   `json:"same_event"`
	Title     string `json:"title,omitempty"`
	Tag       string `json:"tag,omitempty"`
	Priority  string `json:"priority,omitempty"`
}

// validateGroupDecision enforces the grouping schema: a known document,
// a known action, and (for attach) a target from the candidate set.
func validateGroupDecision(d GroupDecision, docIDs, candidateIDs map[string]bool) error {
	if !docIDs[d.DocumentID] {
		return fmt.Errorf("unknown document %q", d.DocumentID)
	}
	switch d.Action {
	case ActionAttach:
		if !candidateIDs[d.Target] {
			return fmt.Errorf("attach target %q not in candidate set", d.Target)
		}
	case ActionNew:
		// Target ignored
	default:
		return fmt.Errorf("unknown action %q", d.Action)
	}
	return nil
}

// normalizeEntityType maps loose oracle spellings onto the closed set of
// entity types. Unknown types degrade to CONCEPT rather than dropping the
// mention.
func normalizeEntityType(raw string) model.EntityType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PERSON", "PER", "PEOPLE":
		return model.EntityPerson
	case "ORG", "ORGANIZATION", "COMPANY", "CORP":
		return model.EntityOrg
	case "GOVERNMENT", "GOV", "AGENCY", "REGULATOR":
		return model.EntityGovernment
	case "EVENT":
		return model.EntityEvent
	default:
		return model.EntityConcept
	}
}

// normalizeRelation maps loose oracle spellings onto the closed set of
// relation types, defaulting to MENTIONED.
func normalizeRelation(raw string) model.RelationType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PROTAGONIST", "SUBJECT", "ACTOR":
		return model.RelationProtagonist
	case "TARGET", "OBJECT":
		return model.RelationTarget
	case "SECONDARY":
		return model.RelationSecondary
	default:
		return model.RelationMentioned
	}
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
