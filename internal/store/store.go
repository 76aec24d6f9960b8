// Package store provides SQLite persistence for the clustering pipeline.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store handles SQLite persistence. NOT an interface - concrete type.
// Thread-safety: all methods are safe for concurrent use via internal mutex;
// cluster mutations additionally run inside transactions so concurrent
// attaches never interleave a mean-embedding update.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates a new Store with the given database path.
// Creates tables if they don't exist.
// Uses WAL mode for better concurrent read performance (file-based DBs only).
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// Shared cache so every pooled connection sees the same database
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		raw_text TEXT NOT NULL,
		title TEXT,
		normalized_text TEXT,
		source_type TEXT NOT NULL,
		status TEXT NOT NULL,
		tag TEXT,
		priority TEXT,
		relevance_score REAL DEFAULT 0,
		relevance_reason TEXT,
		embedding TEXT,
		semantic TEXT,
		cluster_id TEXT,
		fail_count INTEGER DEFAULT 0,
		ingested_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
	CREATE INDEX IF NOT EXISTS idx_documents_cluster ON documents(cluster_id);
	CREATE INDEX IF NOT EXISTS idx_documents_ingested ON documents(ingested_at DESC);

	CREATE TABLE IF NOT EXISTS clusters (
		id TEXT PRIMARY KEY,
		title TEXT,
		summary TEXT,
		tag TEXT,
		priority TEXT NOT NULL DEFAULT 'P3',
		score REAL DEFAULT 0,
		subject_key TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		source_type TEXT NOT NULL,
		doc_count INTEGER DEFAULT 0,
		mean_embedding TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_clusters_status ON clusters(status);
	CREATE INDEX IF NOT EXISTS idx_clusters_created ON clusters(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_clusters_priority ON clusters(priority);

	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		canonical_name TEXT NOT NULL,
		type TEXT NOT NULL,
		aliases TEXT,
		first_seen DATETIME NOT NULL,
		last_seen DATETIME NOT NULL,
		mentions INTEGER DEFAULT 0,
		UNIQUE(canonical_name, type)
	);

	CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(canonical_name);

	CREATE TABLE IF NOT EXISTS edges (
		document_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		relation_type TEXT NOT NULL,
		sentiment REAL DEFAULT 0,
		confidence REAL DEFAULT 0,
		span TEXT,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (document_id, entity_id)
	);

	CREATE INDEX IF NOT EXISTS idx_edges_entity ON edges(entity_id);

	CREATE TABLE IF NOT EXISTS change_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cluster_id TEXT NOT NULL,
		field TEXT NOT NULL,
		old_value TEXT,
		new_value TEXT,
		reason TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_change_log_cluster ON change_log(cluster_id);

	CREATE TABLE IF NOT EXISTS rejections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		excerpt TEXT,
		matched_document_id TEXT,
		similarity REAL,
		rejected_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rejections_at ON rejections(rejected_at DESC);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER DEFAULT 0,
		admitted INTEGER DEFAULT 0,
		rejected INTEGER DEFAULT 0,
		attached INTEGER DEFAULT 0,
		created INTEGER DEFAULT 0,
		linked INTEGER DEFAULT 0,
		classified INTEGER DEFAULT 0,
		merged INTEGER DEFAULT 0,
		demoted INTEGER DEFAULT 0,
		coerced INTEGER DEFAULT 0,
		errors INTEGER DEFAULT 0
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
// Thread-safe: acquires write lock to prevent closing during in-flight operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// encodeVec serializes an embedding as JSON text; empty vectors become NULL.
func encodeVec(v []float32) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode vector: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// decodeVec deserializes a JSON embedding column; NULL yields nil.
func decodeVec(ns sql.NullString) []float32 {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(ns.String), &v); err != nil {
		return nil
	}
	return v
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func strOrEmpty(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// dayBounds returns the [start, end) UTC bounds of the day containing t.
func dayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}
