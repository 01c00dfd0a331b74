// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Visibility classes for files and knowledge assets.
const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

// File is the immutable record of an uploaded blob.
type File struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Filename    string    `json:"filename"`
	MimeType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	ContentHash string    `json:"content_hash"`
	StorageKey  string    `json:"storage_key"`
	Visibility  string    `json:"visibility"`
	IRI         string    `json:"iri,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
}

// FileStore handles file records in SQLite
type FileStore struct {
	db *sql.DB
}

// NewFileStore creates a new file store
func NewFileStore(db *sql.DB) (*FileStore, error) {
	store := &FileStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize files schema: %w", err)
	}
	return store, nil
}

// initSchema creates the files table if it doesn't exist
func (s *FileStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		size INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		storage_key TEXT NOT NULL,
		visibility TEXT NOT NULL DEFAULT 'private',
		iri TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		created_by TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_files_project_id ON files(project_id);
	CREATE INDEX IF NOT EXISTS idx_files_content_hash ON files(content_hash);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create inserts a new file record. Files are never mutated after creation.
func (s *FileStore) Create(f *File) error {
	if f.Visibility == "" {
		f.Visibility = VisibilityPrivate
	}
	_, err := s.db.Exec(
		`INSERT INTO files (id, project_id, filename, mime_type, size, content_hash, storage_key, visibility, iri, created_at, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ProjectID, f.Filename, f.MimeType, f.Size, f.ContentHash, f.StorageKey, f.Visibility, f.IRI, time.Now().UTC(), f.CreatedBy,
	)
	return err
}

// GetByID returns a file by id, or sql.ErrNoRows if missing.
func (s *FileStore) GetByID(id string) (*File, error) {
	row := s.db.QueryRow(
		`SELECT id, project_id, filename, mime_type, size, content_hash, storage_key, visibility, COALESCE(iri, ''), created_at, COALESCE(created_by, '')
		 FROM files WHERE id = ?`, id)
	return scanFile(row)
}

// GetByContentHash returns the file with the given content hash inside a
// project, if one exists.
func (s *FileStore) GetByContentHash(projectID, contentHash string) (*File, error) {
	row := s.db.QueryRow(
		`SELECT id, project_id, filename, mime_type, size, content_hash, storage_key, visibility, COALESCE(iri, ''), created_at, COALESCE(created_by, '')
		 FROM files WHERE project_id = ? AND content_hash = ?`, projectID, contentHash)
	return scanFile(row)
}

// Delete removes a file record. Cascading cleanup of the knowledge asset is
// handled by the caller so vector points are removed too.
func (s *FileStore) Delete(id string) error {
	_, err := s.db.Exec("DELETE FROM files WHERE id = ?", id)
	return err
}

func scanFile(row *sql.Row) (*File, error) {
	var f File
	err := row.Scan(&f.ID, &f.ProjectID, &f.Filename, &f.MimeType, &f.Size, &f.ContentHash, &f.StorageKey, &f.Visibility, &f.IRI, &f.CreatedAt, &f.CreatedBy)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
