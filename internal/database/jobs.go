// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Processing job states.
const (
	JobStateQueued    = "queued"
	JobStateRunning   = "running"
	JobStateSucceeded = "succeeded"
	JobStateFailed    = "failed"
)

// ProcessingJob drives idempotent ingestion retries. The jobs table is the
// only process-wide coordination surface.
type ProcessingJob struct {
	ID         string     `json:"id"`
	AssetID    string     `json:"asset_id"`
	State      string     `json:"state"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error,omitempty"`
	Retryable  bool       `json:"retryable"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// JobStore handles processing job records in SQLite
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates a new job store
func NewJobStore(db *sql.DB) (*JobStore, error) {
	store := &JobStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize processing_jobs schema: %w", err)
	}
	return store, nil
}

func (s *JobStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS processing_jobs (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'queued',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		retryable INTEGER NOT NULL DEFAULT 1,
		started_at DATETIME,
		finished_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (asset_id) REFERENCES knowledge_assets(id)
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_asset_id ON processing_jobs(asset_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_state ON processing_jobs(state);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create inserts a new queued job for an asset.
func (s *JobStore) Create(j *ProcessingJob) error {
	if j.State == "" {
		j.State = JobStateQueued
	}
	_, err := s.db.Exec(
		`INSERT INTO processing_jobs (id, asset_id, state, attempts, retryable, created_at) VALUES (?, ?, ?, ?, 1, ?)`,
		j.ID, j.AssetID, j.State, j.Attempts, time.Now().UTC(),
	)
	return err
}

const jobSelect = `SELECT id, asset_id, state, attempts, COALESCE(last_error, ''), retryable, started_at, finished_at, created_at FROM processing_jobs`

// GetByID returns a job by id.
func (s *JobStore) GetByID(id string) (*ProcessingJob, error) {
	row := s.db.QueryRow(jobSelect+` WHERE id = ?`, id)
	return scanJob(row)
}

// GetByAsset returns the most recent job for an asset.
func (s *JobStore) GetByAsset(assetID string) (*ProcessingJob, error) {
	row := s.db.QueryRow(jobSelect+` WHERE asset_id = ? ORDER BY created_at DESC LIMIT 1`, assetID)
	return scanJob(row)
}

// Claim moves a job to running if it is claimable (queued, or failed but
// retryable). Returns false when another worker got there first or the job is
// terminal. The attempt counter increments on every successful claim.
func (s *JobStore) Claim(id string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE processing_jobs SET state = ?, attempts = attempts + 1, started_at = ?
		 WHERE id = ? AND (state = ? OR (state = ? AND retryable = 1))`,
		JobStateRunning, time.Now().UTC(), id, JobStateQueued, JobStateFailed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSucceeded finishes a running job.
func (s *JobStore) MarkSucceeded(id string) error {
	_, err := s.db.Exec(
		`UPDATE processing_jobs SET state = ?, finished_at = ?, last_error = NULL WHERE id = ? AND state = ?`,
		JobStateSucceeded, time.Now().UTC(), id, JobStateRunning)
	return err
}

// MarkFailed records the failure and whether a retry may claim the job again.
func (s *JobStore) MarkFailed(id, lastError string, retryable bool) error {
	_, err := s.db.Exec(
		`UPDATE processing_jobs SET state = ?, last_error = ?, retryable = ?, finished_at = ? WHERE id = ?`,
		JobStateFailed, lastError, retryable, time.Now().UTC(), id)
	return err
}

// Requeue moves a failed retryable job back to queued so any worker can pick
// it up.
func (s *JobStore) Requeue(id string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE processing_jobs SET state = ? WHERE id = ? AND state = ? AND retryable = 1`,
		JobStateQueued, id, JobStateFailed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanJob(row *sql.Row) (*ProcessingJob, error) {
	var j ProcessingJob
	var started, finished sql.NullTime
	err := row.Scan(&j.ID, &j.AssetID, &j.State, &j.Attempts, &j.LastError, &j.Retryable, &started, &finished, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	if started.Valid {
		j.StartedAt = &started.Time
	}
	if finished.Valid {
		j.FinishedAt = &finished.Time
	}
	return &j, nil
}
