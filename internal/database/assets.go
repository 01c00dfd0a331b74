// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Asset processing statuses.
const (
	AssetStatusPending    = "pending"
	AssetStatusProcessing = "processing"
	AssetStatusReady      = "ready"
	AssetStatusFailed     = "failed"
)

// KnowledgeAsset is the processed, queryable view of a file.
type KnowledgeAsset struct {
	ID             string    `json:"id"`
	FileID         string    `json:"file_id"`
	ProjectID      string    `json:"project_id"`
	Title          string    `json:"title"`
	DocumentType   string    `json:"document_type"`
	Status         string    `json:"status"`
	Visibility     string    `json:"visibility"`
	EmbeddingModel string    `json:"embedding_model"`
	ParserVersion  string    `json:"parser_version"`
	ChunkCount     int       `json:"chunk_count"`
	TokenCount     int       `json:"token_count"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	IRI            string    `json:"iri,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CreatedBy      string    `json:"created_by"`
}

// AssetStore handles knowledge asset records in SQLite
type AssetStore struct {
	db *sql.DB
}

// NewAssetStore creates a new asset store
func NewAssetStore(db *sql.DB) (*AssetStore, error) {
	store := &AssetStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize knowledge_assets schema: %w", err)
	}
	return store, nil
}

func (s *AssetStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS knowledge_assets (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		document_type TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		visibility TEXT NOT NULL DEFAULT 'private',
		embedding_model TEXT NOT NULL,
		parser_version TEXT NOT NULL,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		token_count INTEGER NOT NULL DEFAULT 0,
		failure_reason TEXT,
		iri TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		created_by TEXT,
		FOREIGN KEY (file_id) REFERENCES files(id)
	);

	CREATE INDEX IF NOT EXISTS idx_assets_project_id ON knowledge_assets(project_id);
	CREATE INDEX IF NOT EXISTS idx_assets_file_id ON knowledge_assets(file_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_assets_ingest_key ON knowledge_assets(file_id, parser_version, embedding_model);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create inserts a new asset in pending state.
func (s *AssetStore) Create(a *KnowledgeAsset) error {
	if a.Status == "" {
		a.Status = AssetStatusPending
	}
	if a.Visibility == "" {
		a.Visibility = VisibilityPrivate
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO knowledge_assets (id, file_id, project_id, title, document_type, status, visibility, embedding_model, parser_version, chunk_count, token_count, iri, created_at, updated_at, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.FileID, a.ProjectID, a.Title, a.DocumentType, a.Status, a.Visibility, a.EmbeddingModel, a.ParserVersion, a.ChunkCount, a.TokenCount, a.IRI, now, now, a.CreatedBy,
	)
	return err
}

const assetColumns = `id, file_id, project_id, title, COALESCE(document_type, ''), status, visibility, embedding_model, parser_version, chunk_count, token_count, COALESCE(failure_reason, ''), COALESCE(iri, ''), created_at, updated_at, COALESCE(created_by, '')`

// GetByID returns an asset by id, or sql.ErrNoRows if missing.
func (s *AssetStore) GetByID(id string) (*KnowledgeAsset, error) {
	row := s.db.QueryRow(`SELECT `+assetColumns+` FROM knowledge_assets WHERE id = ?`, id)
	return scanAsset(row)
}

// GetByIngestKey looks up the asset for an idempotent ingest: same file, same
// parser version, same embedding model.
func (s *AssetStore) GetByIngestKey(fileID, parserVersion, embeddingModel string) (*KnowledgeAsset, error) {
	row := s.db.QueryRow(
		`SELECT `+assetColumns+` FROM knowledge_assets WHERE file_id = ? AND parser_version = ? AND embedding_model = ?`,
		fileID, parserVersion, embeddingModel)
	return scanAsset(row)
}

// ListVisible returns assets readable by the given project: its own plus
// public ones from other projects. An empty projectID with admin=true lists
// everything.
func (s *AssetStore) ListVisible(projectID string, admin bool) ([]KnowledgeAsset, error) {
	var rows *sql.Rows
	var err error
	if admin {
		rows, err = s.db.Query(`SELECT ` + assetColumns + ` FROM knowledge_assets ORDER BY created_at DESC`)
	} else {
		rows, err = s.db.Query(
			`SELECT `+assetColumns+` FROM knowledge_assets WHERE project_id = ? OR visibility = ? ORDER BY created_at DESC`,
			projectID, VisibilityPublic)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []KnowledgeAsset
	for rows.Next() {
		a, err := scanAssetRows(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

// ListByFile returns all assets derived from a file (one per embedding model).
func (s *AssetStore) ListByFile(fileID string) ([]KnowledgeAsset, error) {
	rows, err := s.db.Query(`SELECT `+assetColumns+` FROM knowledge_assets WHERE file_id = ?`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []KnowledgeAsset
	for rows.Next() {
		a, err := scanAssetRows(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

// ModelsForScope returns the distinct embedding models across ready assets
// visible to the project. The retriever runs one sub-search per model.
func (s *AssetStore) ModelsForScope(projectID string, admin bool) ([]string, error) {
	var rows *sql.Rows
	var err error
	if admin {
		rows, err = s.db.Query(
			`SELECT DISTINCT embedding_model FROM knowledge_assets WHERE status = ?`, AssetStatusReady)
	} else {
		rows, err = s.db.Query(
			`SELECT DISTINCT embedding_model FROM knowledge_assets WHERE status = ? AND (project_id = ? OR visibility = ?)`,
			AssetStatusReady, projectID, VisibilityPublic)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

// TransitionStatus performs a compare-and-set status update so two workers
// cannot both move the same asset. Returns false when the current status did
// not match.
func (s *AssetStore) TransitionStatus(id, from, to string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE knowledge_assets SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkReady transitions processing -> ready and records the final counts.
func (s *AssetStore) MarkReady(id string, chunkCount, tokenCount int) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE knowledge_assets SET status = ?, chunk_count = ?, token_count = ?, failure_reason = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		AssetStatusReady, chunkCount, tokenCount, time.Now().UTC(), id, AssetStatusProcessing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkFailed records a failure reason. Any non-terminal status may fail.
func (s *AssetStore) MarkFailed(id, reason string) error {
	_, err := s.db.Exec(
		`UPDATE knowledge_assets SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ? AND status != ?`,
		AssetStatusFailed, reason, time.Now().UTC(), id, AssetStatusReady)
	return err
}

// SetVisibility is the admin override; the asset keeps its origin project.
func (s *AssetStore) SetVisibility(id, visibility string) error {
	_, err := s.db.Exec(
		`UPDATE knowledge_assets SET visibility = ?, updated_at = ? WHERE id = ?`,
		visibility, time.Now().UTC(), id)
	return err
}

// CountByStatus returns asset counts grouped by status, scoped to what the
// caller can see.
func (s *AssetStore) CountByStatus(projectID string, admin bool) (map[string]int, error) {
	var rows *sql.Rows
	var err error
	if admin {
		rows, err = s.db.Query(`SELECT status, COUNT(*) FROM knowledge_assets GROUP BY status`)
	} else {
		rows, err = s.db.Query(
			`SELECT status, COUNT(*) FROM knowledge_assets WHERE project_id = ? OR visibility = ? GROUP BY status`,
			projectID, VisibilityPublic)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Delete removes an asset record.
func (s *AssetStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM knowledge_assets WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAsset(row *sql.Row) (*KnowledgeAsset, error)      { return scanAssetFrom(row) }
func scanAssetRows(rows *sql.Rows) (*KnowledgeAsset, error) { return scanAssetFrom(rows) }

func scanAssetFrom(r rowScanner) (*KnowledgeAsset, error) {
	var a KnowledgeAsset
	err := r.Scan(&a.ID, &a.FileID, &a.ProjectID, &a.Title, &a.DocumentType, &a.Status, &a.Visibility,
		&a.EmbeddingModel, &a.ParserVersion, &a.ChunkCount, &a.TokenCount, &a.FailureReason, &a.IRI,
		&a.CreatedAt, &a.UpdatedAt, &a.CreatedBy)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
