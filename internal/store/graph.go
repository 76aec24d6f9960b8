package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sn3fru/silvanews-sub001/internal/model"
)

// AllEntities returns every entity, for in-memory resolution indexes.
func (s *Store) AllEntities() ([]model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEntities(`
		SELECT id, canonical_name, type, aliases, first_seen, last_seen, mentions
		FROM entities ORDER BY canonical_name ASC
	`)
}

// GetEntity fetches one entity by ID.
func (s *Store) GetEntity(id string) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, canonical_name, type, aliases, first_seen, last_seen, mentions
		FROM entities WHERE id = ?
	`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entity %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// FindEntity looks up the node keyed by exact (canonical_name, type).
// Returns nil without error when absent.
func (s *Store) FindEntity(canonicalName string, typ model.EntityType) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, canonical_name, type, aliases, first_seen, last_seen, mentions
		FROM entities WHERE canonical_name = ? AND type = ?
	`, canonicalName, string(typ))
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// InsertEntity creates a new graph node. The (canonical_name, type) unique
// constraint makes a duplicate insert fail rather than fork the node.
func (s *Store) InsertEntity(e model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	aliases, err := encodeAliases(e.Aliases)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if e.FirstSeen.IsZero() {
		e.FirstSeen = now
	}
	if e.LastSeen.IsZero() {
		e.LastSeen = now
	}

	_, err = s.db.Exec(`
		INSERT INTO entities (id, canonical_name, type, aliases, first_seen, last_seen, mentions)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.CanonicalName, string(e.Type), aliases, e.FirstSeen, e.LastSeen, e.Mentions)
	if err != nil {
		return fmt.Errorf("insert entity %s (%s): %w", e.CanonicalName, e.Type, err)
	}
	return nil
}

// TouchEntity bumps an entity's mention count, refreshes last_seen, and
// records a newly observed surface form in the alias list.
func (s *Store) TouchEntity(id, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin entity touch: %w", err)
	}
	defer tx.Rollback()

	var name string
	var aliasCol sql.NullString
	if err := tx.QueryRow(`SELECT canonical_name, aliases FROM entities WHERE id = ?`, id).Scan(&name, &aliasCol); err != nil {
		return fmt.Errorf("load entity %s: %w", id, err)
	}

	aliases := decodeAliases(aliasCol)
	if alias != "" && alias != name && !containsString(aliases, alias) {
		aliases = append(aliases, alias)
	}
	enc, err := encodeAliases(aliases)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		UPDATE entities SET mentions = mentions + 1, last_seen = ?, aliases = ? WHERE id = ?
	`, time.Now().UTC(), enc, id)
	if err != nil {
		return fmt.Errorf("touch entity %s: %w", id, err)
	}
	return tx.Commit()
}

// UpsertEdge writes the document-entity link. The (document, entity)
// primary key means re-extraction replaces the previous edge.
func (s *Store) UpsertEdge(e model.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO edges (document_id, entity_id, relation_type, sentiment, confidence, span, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, entity_id) DO UPDATE SET
			relation_type = excluded.relation_type,
			sentiment = excluded.sentiment,
			confidence = excluded.confidence,
			span = excluded.span,
			updated_at = excluded.updated_at
	`, e.DocumentID, e.EntityID, string(e.Relation), e.Sentiment, e.Confidence,
		nullStr(e.Span), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert edge %s->%s: %w", e.DocumentID, e.EntityID, err)
	}
	return nil
}

// DocumentEdges returns every edge of one document.
func (s *Store) DocumentEdges(docID string) ([]model.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEdges(`
		SELECT document_id, entity_id, relation_type, sentiment, confidence, span, updated_at
		FROM edges WHERE document_id = ?
	`, docID)
}

// EntityEdgesSince returns the edges touching an entity after since,
// newest first, for graph context retrieval and the entity timeline.
func (s *Store) EntityEdgesSince(entityID string, since time.Time) ([]model.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryEdges(`
		SELECT document_id, entity_id, relation_type, sentiment, confidence, span, updated_at
		FROM edges WHERE entity_id = ? AND updated_at > ?
		ORDER BY updated_at DESC
	`, entityID, since.UTC())
}

// EntitiesForDocuments returns the entities linked from any of the given
// documents with the given roles. Used by the graph context retriever to
// walk document -> entity -> related documents.
func (s *Store) EntitiesForDocuments(docIDs []string, roles []model.RelationType) ([]model.Entity, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT DISTINCT e.id, e.canonical_name, e.type, e.aliases, e.first_seen, e.last_seen, e.mentions
		FROM entities e JOIN edges g ON g.entity_id = e.id
		WHERE g.document_id IN (` + placeholders(len(docIDs)) + `)`
	args := make([]any, 0, len(docIDs)+len(roles))
	for _, id := range docIDs {
		args = append(args, id)
	}
	if len(roles) > 0 {
		query += ` AND g.relation_type IN (` + placeholders(len(roles)) + `)`
		for _, r := range roles {
			args = append(args, string(r))
		}
	}
	query += ` ORDER BY e.mentions DESC`

	return s.queryEntities(query, args...)
}

func scanEntity(r rowScanner) (*model.Entity, error) {
	var e model.Entity
	var typ string
	var aliases sql.NullString
	err := r.Scan(&e.ID, &e.CanonicalName, &typ, &aliases, &e.FirstSeen, &e.LastSeen, &e.Mentions)
	if err != nil {
		return nil, err
	}
	e.Type = model.EntityType(typ)
	e.Aliases = decodeAliases(aliases)
	return &e, nil
}

func (s *Store) queryEntities(query string, args ...any) ([]model.Entity, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) queryEdges(query string, args ...any) ([]model.Edge, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Edge
	for rows.Next() {
		var e model.Edge
		var relation string
		var span sql.NullString
		if err := rows.Scan(&e.DocumentID, &e.EntityID, &relation, &e.Sentiment, &e.Confidence, &span, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Relation = model.RelationType(relation)
		e.Span = strOrEmpty(span)
		out = append(out, e)
	}
	return out, rows.Err()
}

func encodeAliases(aliases []string) (sql.NullString, error) {
	if len(aliases) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(aliases)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode aliases: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeAliases(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}
