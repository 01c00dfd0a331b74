// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// QueryRecord is the audit trail of a RAG query, also used for query
// suggestions in the workbench.
type QueryRecord struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	UserID     string          `json:"user_id"`
	Question   string          `json:"question"`
	TopK       int             `json:"top_k"`
	Threshold  float64         `json:"threshold"`
	Answer     string          `json:"answer"`
	Confidence string          `json:"confidence"`
	Citations  json.RawMessage `json:"citations,omitempty"`
	LatencyMs  int64           `json:"latency_ms"`
	CreatedAt  time.Time       `json:"created_at"`
}

// QueryLogStore handles query audit records in SQLite
type QueryLogStore struct {
	db *sql.DB
}

// NewQueryLogStore creates a new query log store
func NewQueryLogStore(db *sql.DB) (*QueryLogStore, error) {
	store := &QueryLogStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize query_log schema: %w", err)
	}
	return store, nil
}

func (s *QueryLogStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS query_log (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		user_id TEXT,
		question TEXT NOT NULL,
		top_k INTEGER NOT NULL,
		threshold REAL NOT NULL,
		answer TEXT,
		confidence TEXT,
		citations TEXT,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_query_log_project ON query_log(project_id, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Log inserts a query record.
func (s *QueryLogStore) Log(r *QueryRecord) error {
	citations := "[]"
	if len(r.Citations) > 0 {
		citations = string(r.Citations)
	}
	_, err := s.db.Exec(
		`INSERT INTO query_log (id, project_id, user_id, question, top_k, threshold, answer, confidence, citations, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProjectID, r.UserID, r.Question, r.TopK, r.Threshold, r.Answer, r.Confidence, citations, r.LatencyMs, time.Now().UTC(),
	)
	return err
}

// Recent returns the last N query records for a project, newest first.
func (s *QueryLogStore) Recent(projectID string, limit int) ([]QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, project_id, COALESCE(user_id, ''), question, top_k, threshold, COALESCE(answer, ''), COALESCE(confidence, ''), COALESCE(citations, '[]'), latency_ms, created_at
		 FROM query_log WHERE project_id = ? ORDER BY created_at DESC LIMIT ?`,
		projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []QueryRecord
	for rows.Next() {
		var r QueryRecord
		var citations string
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.UserID, &r.Question, &r.TopK, &r.Threshold, &r.Answer, &r.Confidence, &citations, &r.LatencyMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Citations = json.RawMessage(citations)
		records = append(records, r)
	}
	return records, rows.Err()
}
