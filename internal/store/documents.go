package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sn3fru/silvanews-sub001/internal/model"
)

// InsertDocument stores a freshly admitted document. The raw text is
// written once here and never updated afterwards.
func (s *Store) InsertDocument(doc model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	emb, err := encodeVec(doc.Embedding)
	if err != nil {
		return err
	}
	sem, err := encodeVec(doc.Semantic)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = now
	}

	_, err = s.db.Exec(`
		INSERT INTO documents (
			id, raw_text, title, normalized_text, source_type, status,
			tag, priority, relevance_score, relevance_reason,
			embedding, semantic, cluster_id, fail_count, ingested_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		doc.ID, doc.RawText, nullStr(doc.Title), nullStr(doc.Normalized),
		string(doc.SourceType), string(doc.Status),
		nullStr(doc.Tag), nullStr(string(doc.Priority)), doc.RelevanceScore, nullStr(doc.RelevanceWhy),
		emb, sem, nullStr(doc.ClusterID), doc.FailCount, doc.IngestedAt, now,
	)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument fetches one document by ID.
func (s *Store) GetDocument(id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, raw_text, title, normalized_text, source_type, status,
			tag, priority, relevance_score, relevance_reason,
			embedding, semantic, cluster_id, fail_count, ingested_at, updated_at
		FROM documents WHERE id = ?
	`, id)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// DocumentsByStatus returns documents in a status, oldest first, bounded by
// limit. sourceType filters the partition when non-empty.
func (s *Store) DocumentsByStatus(status model.DocStatus, sourceType model.SourceType, limit int) ([]model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, raw_text, title, normalized_text, source_type, status,
			tag, priority, relevance_score, relevance_reason,
			embedding, semantic, cluster_id, fail_count, ingested_at, updated_at
		FROM documents WHERE status = ?`
	args := []any{string(status)}
	if sourceType != "" {
		query += " AND source_type = ?"
		args = append(args, string(sourceType))
	}
	query += " ORDER BY ingested_at ASC LIMIT ?"
	args = append(args, limit)

	return s.queryDocuments(query, args...)
}

// DocumentsInWindow returns documents ingested after since, with
// embeddings, for vector-context retrieval. sourceType filters the
// partition when non-empty.
func (s *Store) DocumentsInWindow(since time.Time, sourceType model.SourceType) ([]model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, raw_text, title, normalized_text, source_type, status,
			tag, priority, relevance_score, relevance_reason,
			embedding, semantic, cluster_id, fail_count, ingested_at, updated_at
		FROM documents
		WHERE ingested_at > ? AND embedding IS NOT NULL`
	args := []any{since.UTC()}
	if sourceType != "" {
		query += " AND source_type = ?"
		args = append(args, string(sourceType))
	}
	query += " ORDER BY ingested_at DESC"

	return s.queryDocuments(query, args...)
}

// UpdateDocumentStatus applies a validated status transition. Invalid
// transitions are rejected so no stage can bypass the lifecycle.
func (s *Store) UpdateDocumentStatus(id string, to model.DocStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur string
	if err := s.db.QueryRow(`SELECT status FROM documents WHERE id = ?`, id).Scan(&cur); err != nil {
		return fmt.Errorf("load document %s status: %w", id, err)
	}
	from := model.DocStatus(cur)
	if from != to && !model.ValidDocTransition(from, to) {
		return fmt.Errorf("invalid document transition %s: %s -> %s (%s)", id, from, to, reason)
	}

	_, err := s.db.Exec(`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		string(to), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update document %s status: %w", id, err)
	}
	return nil
}

// BumpFailCount increments the consecutive-failure counter and flips the
// document to error once it crosses maxFails.
func (s *Store) BumpFailCount(id string, maxFails int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE documents SET fail_count = fail_count + 1, updated_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("bump fail count %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s not found", id)
	}

	_, err = s.db.Exec(`
		UPDATE documents SET status = ?, updated_at = ?
		WHERE id = ? AND fail_count >= ? AND status = ?
	`, string(model.DocError), time.Now().UTC(), id, maxFails, string(model.DocPending))
	return err
}

// ResetFailCount clears the consecutive-failure counter after progress.
func (s *Store) ResetFailCount(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE documents SET fail_count = 0 WHERE id = ?`, id)
	return err
}

// RecentFingerprints returns (id, embedding) pairs of documents admitted
// after since, newest first, for the dedup trailing window.
func (s *Store) RecentFingerprints(since time.Time) (map[string][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, embedding FROM documents
		WHERE ingested_at > ? AND embedding IS NOT NULL
		ORDER BY ingested_at DESC
	`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var emb sql.NullString
		if err := rows.Scan(&id, &emb); err != nil {
			return nil, err
		}
		if v := decodeVec(emb); v != nil {
			out[id] = v
		}
	}
	return out, rows.Err()
}

// StatusCounts returns document counts per status, used by the no-loss
// accounting at run boundaries.
func (s *Store) StatusCounts() (map[model.DocStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.DocStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[model.DocStatus(status)] = n
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (*model.Document, error) {
	var doc model.Document
	var title, normalized, tag, priority, reason, emb, sem, clusterID sql.NullString
	var sourceType, status string

	err := r.Scan(
		&doc.ID, &doc.RawText, &title, &normalized, &sourceType, &status,
		&tag, &priority, &doc.RelevanceScore, &reason,
		&emb, &sem, &clusterID, &doc.FailCount, &doc.IngestedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Title = strOrEmpty(title)
	doc.Normalized = strOrEmpty(normalized)
	doc.SourceType = model.SourceType(sourceType)
	doc.Status = model.DocStatus(status)
	doc.Tag = strOrEmpty(tag)
	doc.Priority = model.Priority(strOrEmpty(priority))
	doc.RelevanceWhy = strOrEmpty(reason)
	doc.Embedding = decodeVec(emb)
	doc.Semantic = decodeVec(sem)
	doc.ClusterID = strOrEmpty(clusterID)
	return &doc, nil
}

func (s *Store) queryDocuments(query string, args ...any) ([]model.Document, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}
