// Package model defines the domain types shared across the pipeline:
// documents, event clusters, the entity graph, and the audit trail.
package model

import (
	"time"
)

// SourceType partitions the document pool by market. Grouping decisions
// never mix partitions.
type SourceType string

const (
	SourceDomestic      SourceType = "domestic"
	SourceInternational SourceType = "international"
)

// DocStatus is the document lifecycle state.
type DocStatus string

const (
	DocPending      DocStatus = "pending"        // admitted, awaiting grouping
	DocReadyToGroup DocStatus = "ready_to_group" // enriched, candidate set computed
	DocGrouped      DocStatus = "grouped"        // attached to a cluster
	DocIrrelevant   DocStatus = "irrelevant"     // classified out of the feed
	DocError        DocStatus = "error"          // repeatedly failed processing
)

// ValidDocTransition reports whether a document status change is allowed.
// Raw text is immutable; only derived fields and status ever move.
func ValidDocTransition(from, to DocStatus) bool {
	switch from {
	case DocPending:
		return to == DocReadyToGroup || to == DocGrouped || to == DocIrrelevant || to == DocError
	case DocReadyToGroup:
		return to == DocGrouped || to == DocPending || to == DocIrrelevant || to == DocError
	case DocGrouped:
		return to == DocGrouped || to == DocIrrelevant
	case DocIrrelevant, DocError:
		return to == DocPending // manual requeue
	}
	return false
}

// Document is one ingested news article. RawText is never mutated after
// creation; everything derived lives in separate fields.
type Document struct {
	ID         string     `json:"id"`
	RawText    string     `json:"raw_text"`
	Title      string     `json:"title"`
	Normalized string     `json:"normalized_text"`
	SourceType SourceType `json:"source_type"`
	Status     DocStatus  `json:"status"`

	Tag            string  `json:"tag,omitempty"`
	Priority       Priority `json:"priority,omitempty"`
	RelevanceScore float64 `json:"relevance_score,omitempty"`
	RelevanceWhy   string  `json:"relevance_reason,omitempty"`

	// Embedding is the content fingerprint; Semantic is the optional
	// richer vector. Both fixed dimensionality.
	Embedding []float32 `json:"embedding,omitempty"`
	Semantic  []float32 `json:"semantic,omitempty"`

	ClusterID string `json:"cluster_id,omitempty"` // at most one cluster

	FailCount int       `json:"fail_count"` // consecutive grouping failures
	IngestedAt time.Time `json:"ingested_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Priority is the cluster tier. IRRELEVANT clusters stay queryable but are
// filtered from the default feed.
type Priority string

const (
	PriorityP1         Priority = "P1"
	PriorityP2         Priority = "P2"
	PriorityP3         Priority = "P3"
	PriorityIrrelevant Priority = "IRRELEVANT"
)

// ScoreBand returns the inclusive numeric score band for a priority.
func (p Priority) ScoreBand() (lo, hi float64) {
	switch p {
	case PriorityP1:
		return 85, 100
	case PriorityP2:
		return 50, 84
	case PriorityP3:
		return 20, 49
	default:
		return 0, 19
	}
}

// Demote returns the next tier down. P3 and IRRELEVANT do not demote.
func (p Priority) Demote() Priority {
	switch p {
	case PriorityP1:
		return PriorityP2
	case PriorityP2:
		return PriorityP3
	}
	return p
}

// ClusterStatus is the cluster lifecycle state. Clusters are never hard
// deleted; merged-away clusters become discarded and remain queryable.
type ClusterStatus string

const (
	ClusterActive    ClusterStatus = "active"
	ClusterArchived  ClusterStatus = "archived"
	ClusterDiscarded ClusterStatus = "discarded"
)

// Cluster aggregates the documents covering one real-world event.
type Cluster struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Summary    string        `json:"summary"`
	Tag        string        `json:"tag"`
	Priority   Priority      `json:"priority"`
	Score      float64       `json:"score"`
	SubjectKey string        `json:"subject_key"` // oracle-declared canonical topic
	Status     ClusterStatus `json:"status"`
	SourceType SourceType    `json:"source_type"` // fixed at creation

	DocCount      int       `json:"doc_count"`
	MeanEmbedding []float32 `json:"mean_embedding,omitempty"` // recomputed on membership change

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntityType categorizes graph nodes.
type EntityType string

const (
	EntityPerson     EntityType = "PERSON"
	EntityOrg        EntityType = "ORG"
	EntityGovernment EntityType = "GOVERNMENT"
	EntityEvent      EntityType = "EVENT"
	EntityConcept    EntityType = "CONCEPT"
)

// Entity is a canonical graph node. Uniqueness is enforced on
// (CanonicalName, Type); Aliases collects every surface form resolved to it.
type Entity struct {
	ID            string     `json:"id"`
	CanonicalName string     `json:"canonical_name"`
	Type          EntityType `json:"type"`
	Aliases       []string   `json:"aliases,omitempty"`
	FirstSeen     time.Time  `json:"first_seen"`
	LastSeen      time.Time  `json:"last_seen"`
	Mentions      int        `json:"mentions"`
}

// RelationType describes how a document relates to an entity.
type RelationType string

const (
	RelationProtagonist RelationType = "PROTAGONIST"
	RelationTarget      RelationType = "TARGET"
	RelationMentioned   RelationType = "MENTIONED"
	RelationSecondary   RelationType = "SECONDARY"
)

// Edge links one document to one entity. At most one edge exists per
// (document, entity) pair; re-extraction upserts.
type Edge struct {
	DocumentID string       `json:"document_id"`
	EntityID   string       `json:"entity_id"`
	Relation   RelationType `json:"relation_type"`
	Sentiment  float64      `json:"sentiment"`  // [-1, 1]
	Confidence float64      `json:"confidence"` // [0, 1]
	Span       string       `json:"span,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// ChangeEntry is an immutable audit record of a cluster mutation.
type ChangeEntry struct {
	ID        int64     `json:"id"`
	ClusterID string    `json:"cluster_id"`
	Field     string    `json:"field"` // title, tag, priority, status
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// RunReport holds the per-stage counters a pipeline cycle produces.
type RunReport struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Admitted   int           `json:"admitted"`
	Rejected   int           `json:"rejected"`
	Attached   int           `json:"attached"`
	Created    int           `json:"created"`
	Linked     int           `json:"linked"`
	Classified int           `json:"classified"`
	Merged     int           `json:"merged"`
	Demoted    int           `json:"demoted"`
	Coerced    int           `json:"coerced"`
	Errors     int           `json:"errors"`
}
