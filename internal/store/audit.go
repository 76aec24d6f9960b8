package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sn3fru/silvanews-sub001/internal/model"
)

// logChangeTx appends a change-log entry inside an open transaction so
// audit records commit with the mutation they describe.
func logChangeTx(tx *sql.Tx, clusterID, field, oldValue, newValue, reason string, at time.Time) error {
	_, err := tx.Exec(`
		INSERT INTO change_log (cluster_id, field, old_value, new_value, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, clusterID, field, nullStr(oldValue), nullStr(newValue), nullStr(reason), at)
	if err != nil {
		return fmt.Errorf("log change for cluster %s: %w", clusterID, err)
	}
	return nil
}

// LogChange appends a standalone change-log entry.
func (s *Store) LogChange(clusterID, field, oldValue, newValue, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO change_log (cluster_id, field, old_value, new_value, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, clusterID, field, nullStr(oldValue), nullStr(newValue), nullStr(reason), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("log change for cluster %s: %w", clusterID, err)
	}
	return nil
}

// ClusterHistory returns the audit trail of a cluster, oldest first.
func (s *Store) ClusterHistory(clusterID string) ([]model.ChangeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, cluster_id, field, old_value, new_value, reason, created_at
		FROM change_log WHERE cluster_id = ? ORDER BY id ASC
	`, clusterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ChangeEntry
	for rows.Next() {
		var e model.ChangeEntry
		var oldV, newV, reason sql.NullString
		if err := rows.Scan(&e.ID, &e.ClusterID, &e.Field, &oldV, &newV, &reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.OldValue = strOrEmpty(oldV)
		e.NewValue = strOrEmpty(newV)
		e.Reason = strOrEmpty(reason)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ChangesSince returns every change-log entry recorded at or after the
// given instant, oldest first.
func (s *Store) ChangesSince(since time.Time) ([]model.ChangeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, cluster_id, field, old_value, new_value, reason, created_at
		FROM change_log WHERE created_at >= ? ORDER BY id ASC
	`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ChangeEntry
	for rows.Next() {
		var e model.ChangeEntry
		var oldV, newV, reason sql.NullString
		if err := rows.Scan(&e.ID, &e.ClusterID, &e.Field, &oldV, &newV, &reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.OldValue = strOrEmpty(oldV)
		e.NewValue = strOrEmpty(newV)
		e.Reason = strOrEmpty(reason)
		out = append(out, e)
	}
	return out, rows.Err()
}

// LogRejection records a dedup rejection: the near-duplicate excerpt, the
// surviving document it matched, and the similarity that sealed it.
func (s *Store) LogRejection(excerpt, matchedDocID string, similarity float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(excerpt) > 500 {
		excerpt = excerpt[:500]
	}
	_, err := s.db.Exec(`
		INSERT INTO rejections (excerpt, matched_document_id, similarity, rejected_at)
		VALUES (?, ?, ?, ?)
	`, nullStr(excerpt), nullStr(matchedDocID), similarity, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("log rejection: %w", err)
	}
	return nil
}

// Rejection is one logged dedup rejection.
type Rejection struct {
	ID           int64     `json:"id"`
	Excerpt      string    `json:"excerpt"`
	MatchedDocID string    `json:"matched_document_id"`
	Similarity   float64   `json:"similarity"`
	RejectedAt   time.Time `json:"rejected_at"`
}

// RecentRejections returns the latest dedup rejections, newest first.
func (s *Store) RecentRejections(limit int) ([]Rejection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, excerpt, matched_document_id, similarity, rejected_at
		FROM rejections ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rejection
	for rows.Next() {
		var r Rejection
		var excerpt, matched sql.NullString
		if err := rows.Scan(&r.ID, &excerpt, &matched, &r.Similarity, &r.RejectedAt); err != nil {
			return nil, err
		}
		r.Excerpt = strOrEmpty(excerpt)
		r.MatchedDocID = strOrEmpty(matched)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveRun persists one cycle's counters.
func (s *Store) SaveRun(r model.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, duration_ms, admitted, rejected, attached,
			created, linked, classified, merged, demoted, coerced, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.StartedAt.UTC(), r.Duration.Milliseconds(),
		r.Admitted, r.Rejected, r.Attached, r.Created, r.Linked,
		r.Classified, r.Merged, r.Demoted, r.Coerced, r.Errors)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

// RecentRuns returns the latest run reports, newest first.
func (s *Store) RecentRuns(limit int) ([]model.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, started_at, duration_ms, admitted, rejected, attached,
			created, linked, classified, merged, demoted, coerced, errors
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RunReport
	for rows.Next() {
		var r model.RunReport
		var durationMS int64
		err := rows.Scan(&r.ID, &r.StartedAt, &durationMS, &r.Admitted, &r.Rejected,
			&r.Attached, &r.Created, &r.Linked, &r.Classified, &r.Merged,
			&r.Demoted, &r.Coerced, &r.Errors)
		if err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}
