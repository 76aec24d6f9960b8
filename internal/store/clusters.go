package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sn3fru/silvanews-sub001/internal/embed"
	"github.com/sn3fru/silvanews-sub001/internal/model"
)

// InsertCluster creates a new cluster, typically a singleton for one
// freshly grouped document.
func (s *Store) InsertCluster(c model.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mean, err := encodeVec(c.MeanEmbedding)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.Priority == "" {
		c.Priority = model.PriorityP3
	}
	if c.Status == "" {
		c.Status = model.ClusterActive
	}

	_, err = s.db.Exec(`
		INSERT INTO clusters (
			id, title, summary, tag, priority, score, subject_key,
			status, source_type, doc_count, mean_embedding, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, nullStr(c.Title), nullStr(c.Summary), nullStr(c.Tag),
		string(c.Priority), c.Score, nullStr(c.SubjectKey),
		string(c.Status), string(c.SourceType), c.DocCount, mean, c.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("insert cluster %s: %w", c.ID, err)
	}
	return nil
}

// GetCluster fetches one cluster by ID.
func (s *Store) GetCluster(id string) (*model.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(selectCluster+` WHERE id = ?`, id)
	c, err := scanCluster(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cluster %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ActiveClusters returns all active clusters of a source-type partition,
// mean embeddings included, for candidate selection.
func (s *Store) ActiveClusters(sourceType model.SourceType) ([]model.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := selectCluster + ` WHERE status = ?`
	args := []any{string(model.ClusterActive)}
	if sourceType != "" {
		query += " AND source_type = ?"
		args = append(args, string(sourceType))
	}
	query += " ORDER BY created_at ASC"
	return s.queryClusters(query, args...)
}

// ActiveClustersByPriority returns active clusters of one tier across both
// partitions, for cap accounting. Ordering is score ascending then newest
// first, so the front of the slice holds the weakest demotion candidates.
func (s *Store) ActiveClustersByPriority(p model.Priority) ([]model.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryClusters(selectCluster+`
		WHERE status = ? AND priority = ?
		ORDER BY score ASC, created_at DESC
	`, string(model.ClusterActive), string(p))
}

// ClustersCreatedSince returns active clusters created after since, for the
// consolidation pass.
func (s *Store) ClustersCreatedSince(since time.Time, sourceType model.SourceType) ([]model.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := selectCluster + ` WHERE status = ? AND created_at > ?`
	args := []any{string(model.ClusterActive), since.UTC()}
	if sourceType != "" {
		query += " AND source_type = ?"
		args = append(args, string(sourceType))
	}
	query += " ORDER BY created_at ASC"
	return s.queryClusters(query, args...)
}

// ClusterDocuments returns the member documents of a cluster, oldest first.
func (s *Store) ClusterDocuments(clusterID string) ([]model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryDocuments(`
		SELECT id, raw_text, title, normalized_text, source_type, status,
			tag, priority, relevance_score, relevance_reason,
			embedding, semantic, cluster_id, fail_count, ingested_at, updated_at
		FROM documents WHERE cluster_id = ? ORDER BY ingested_at ASC
	`, clusterID)
}

// AttachDocument moves a document into a cluster inside one transaction:
// the document flips to grouped, the member count grows, and the cluster
// mean embedding absorbs the new vector.
func (s *Store) AttachDocument(docID, clusterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin attach: %w", err)
	}
	defer tx.Rollback()

	var docStatus, docSource string
	var docEmb sql.NullString
	err = tx.QueryRow(`SELECT status, source_type, embedding FROM documents WHERE id = ?`, docID).
		Scan(&docStatus, &docSource, &docEmb)
	if err != nil {
		return fmt.Errorf("load document %s: %w", docID, err)
	}
	if !model.ValidDocTransition(model.DocStatus(docStatus), model.DocGrouped) {
		return fmt.Errorf("document %s cannot move %s -> grouped", docID, docStatus)
	}

	var clusterStatus, clusterSource string
	var docCount int
	var meanEmb sql.NullString
	err = tx.QueryRow(`SELECT status, source_type, doc_count, mean_embedding FROM clusters WHERE id = ?`, clusterID).
		Scan(&clusterStatus, &clusterSource, &docCount, &meanEmb)
	if err != nil {
		return fmt.Errorf("load cluster %s: %w", clusterID, err)
	}
	if clusterStatus != string(model.ClusterActive) {
		return fmt.Errorf("cluster %s is %s, not active", clusterID, clusterStatus)
	}
	if clusterSource != docSource {
		return fmt.Errorf("source type mismatch: document %s is %s, cluster %s is %s",
			docID, docSource, clusterID, clusterSource)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(`
		UPDATE documents SET cluster_id = ?, status = ?, fail_count = 0, updated_at = ? WHERE id = ?
	`, clusterID, string(model.DocGrouped), now, docID)
	if err != nil {
		return fmt.Errorf("attach document %s: %w", docID, err)
	}

	newMean := embed.MeanVector(decodeVec(meanEmb), docCount, decodeVec(docEmb))
	meanCol, err := encodeVec(newMean)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		UPDATE clusters SET doc_count = doc_count + 1, mean_embedding = ?, updated_at = ? WHERE id = ?
	`, meanCol, now, clusterID)
	if err != nil {
		return fmt.Errorf("update cluster %s membership: %w", clusterID, err)
	}

	return tx.Commit()
}

// UpdateClusterMeta records a classification result: subject key, tag,
// priority, score, title and summary in one shot. Priority changes are
// written to the change log.
func (s *Store) UpdateClusterMeta(id string, subjectKey, tag, title, summary string, priority model.Priority, score float64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin meta update: %w", err)
	}
	defer tx.Rollback()

	var oldPriority string
	if err := tx.QueryRow(`SELECT priority FROM clusters WHERE id = ?`, id).Scan(&oldPriority); err != nil {
		return fmt.Errorf("load cluster %s: %w", id, err)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(`
		UPDATE clusters SET subject_key = ?, tag = ?, title = ?, summary = ?,
			priority = ?, score = ?, updated_at = ?
		WHERE id = ?
	`, nullStr(subjectKey), nullStr(tag), nullStr(title), nullStr(summary),
		string(priority), score, now, id)
	if err != nil {
		return fmt.Errorf("update cluster %s meta: %w", id, err)
	}

	if oldPriority != string(priority) {
		if err := logChangeTx(tx, id, "priority", oldPriority, string(priority), reason, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SetClusterPriority changes just the tier, logging the change. Used by
// demotion and the critical-subject coercion.
func (s *Store) SetClusterPriority(id string, p model.Priority, score float64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin priority update: %w", err)
	}
	defer tx.Rollback()

	var old string
	if err := tx.QueryRow(`SELECT priority FROM clusters WHERE id = ?`, id).Scan(&old); err != nil {
		return fmt.Errorf("load cluster %s: %w", id, err)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(`UPDATE clusters SET priority = ?, score = ?, updated_at = ? WHERE id = ?`,
		string(p), score, now, id)
	if err != nil {
		return fmt.Errorf("set cluster %s priority: %w", id, err)
	}
	if old != string(p) {
		if err := logChangeTx(tx, id, "priority", old, string(p), reason, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ArchiveCluster flips a cluster to archived, logging the change. Nothing
// is ever deleted.
func (s *Store) ArchiveCluster(id, reason string) error {
	return s.setClusterStatus(id, model.ClusterArchived, reason)
}

func (s *Store) setClusterStatus(id string, status model.ClusterStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback()

	var old string
	if err := tx.QueryRow(`SELECT status FROM clusters WHERE id = ?`, id).Scan(&old); err != nil {
		return fmt.Errorf("load cluster %s: %w", id, err)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(`UPDATE clusters SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now, id)
	if err != nil {
		return fmt.Errorf("set cluster %s status: %w", id, err)
	}
	if old != string(status) {
		if err := logChangeTx(tx, id, "status", old, string(status), reason, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MergeClusters folds src into dst inside one transaction: every member
// document moves over, the destination mean embedding becomes the weighted
// combination of both means, and the source flips to discarded. The
// destination keeps its identity; callers pick dst by member count then age.
func (s *Store) MergeClusters(dstID, srcID, reason string) error {
	if dstID == srcID {
		return fmt.Errorf("merge cluster %s into itself", dstID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback()

	type clusterRow struct {
		status, source string
		docCount       int
		mean           sql.NullString
	}
	load := func(id string) (clusterRow, error) {
		var r clusterRow
		err := tx.QueryRow(`SELECT status, source_type, doc_count, mean_embedding FROM clusters WHERE id = ?`, id).
			Scan(&r.status, &r.source, &r.docCount, &r.mean)
		if err != nil {
			return r, fmt.Errorf("load cluster %s: %w", id, err)
		}
		return r, nil
	}

	dst, err := load(dstID)
	if err != nil {
		return err
	}
	src, err := load(srcID)
	if err != nil {
		return err
	}
	if dst.status != string(model.ClusterActive) || src.status != string(model.ClusterActive) {
		return fmt.Errorf("merge requires two active clusters, got %s=%s %s=%s",
			dstID, dst.status, srcID, src.status)
	}
	if dst.source != src.source {
		return fmt.Errorf("source type mismatch: %s is %s, %s is %s", dstID, dst.source, srcID, src.source)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(`UPDATE documents SET cluster_id = ?, updated_at = ? WHERE cluster_id = ?`,
		dstID, now, srcID)
	if err != nil {
		return fmt.Errorf("move documents %s -> %s: %w", srcID, dstID, err)
	}

	combined := embed.CombineMeans(decodeVec(dst.mean), dst.docCount, decodeVec(src.mean), src.docCount)
	meanCol, err := encodeVec(combined)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`UPDATE clusters SET doc_count = ?, mean_embedding = ?, updated_at = ? WHERE id = ?`,
		dst.docCount+src.docCount, meanCol, now, dstID)
	if err != nil {
		return fmt.Errorf("update merge destination %s: %w", dstID, err)
	}
	_, err = tx.Exec(`UPDATE clusters SET status = ?, doc_count = 0, updated_at = ? WHERE id = ?`,
		string(model.ClusterDiscarded), now, srcID)
	if err != nil {
		return fmt.Errorf("discard merge source %s: %w", srcID, err)
	}

	if err := logChangeTx(tx, srcID, "status", string(model.ClusterActive), string(model.ClusterDiscarded),
		fmt.Sprintf("merged into %s: %s", dstID, reason), now); err != nil {
		return err
	}
	if err := logChangeTx(tx, dstID, "members",
		fmt.Sprintf("%d", dst.docCount), fmt.Sprintf("%d", dst.docCount+src.docCount),
		fmt.Sprintf("absorbed %s: %s", srcID, reason), now); err != nil {
		return err
	}

	return tx.Commit()
}

const selectCluster = `
	SELECT id, title, summary, tag, priority, score, subject_key,
		status, source_type, doc_count, mean_embedding, created_at, updated_at
	FROM clusters`

func scanCluster(r rowScanner) (*model.Cluster, error) {
	var c model.Cluster
	var title, summary, tag, subjectKey, mean sql.NullString
	var priority, status, sourceType string

	err := r.Scan(
		&c.ID, &title, &summary, &tag, &priority, &c.Score, &subjectKey,
		&status, &sourceType, &c.DocCount, &mean, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Title = strOrEmpty(title)
	c.Summary = strOrEmpty(summary)
	c.Tag = strOrEmpty(tag)
	c.Priority = model.Priority(priority)
	c.SubjectKey = strOrEmpty(subjectKey)
	c.Status = model.ClusterStatus(status)
	c.SourceType = model.SourceType(sourceType)
	c.MeanEmbedding = decodeVec(mean)
	return &c, nil
}

func (s *Store) queryClusters(query string, args ...any) ([]model.Cluster, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clusters []model.Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, *c)
	}
	return clusters, rows.Err()
}
