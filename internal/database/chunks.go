// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Chunk is a contiguous, bounded piece of an asset's text. (asset_id, seq) is
// unique and dense; the vector point id equals the chunk id.
type Chunk struct {
	ID             string    `json:"id"`
	AssetID        string    `json:"asset_id"`
	Seq            int       `json:"seq"`
	ChunkType      string    `json:"chunk_type"`
	SectionPath    string    `json:"section_path"`
	Page           *int      `json:"page,omitempty"`
	TokenCount     int       `json:"token_count"`
	Content        string    `json:"content"`
	ContentHash    string    `json:"content_hash"`
	VectorPointID  string    `json:"vector_point_id"`
	EmbeddingModel string    `json:"embedding_model"`
	Mojibake       bool      `json:"mojibake,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChunkStore handles chunk records in SQLite
type ChunkStore struct {
	db *sql.DB
}

// NewChunkStore creates a new chunk store
func NewChunkStore(db *sql.DB) (*ChunkStore, error) {
	store := &ChunkStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize knowledge_chunks schema: %w", err)
	}
	return store, nil
}

func (s *ChunkStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS knowledge_chunks (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		chunk_type TEXT NOT NULL DEFAULT 'body',
		section_path TEXT,
		page INTEGER,
		token_count INTEGER NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		vector_point_id TEXT NOT NULL,
		embedding_model TEXT NOT NULL,
		mojibake INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(asset_id, seq),
		FOREIGN KEY (asset_id) REFERENCES knowledge_assets(id)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_asset_id ON knowledge_chunks(asset_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Upsert inserts a chunk, replacing any previous row with the same
// (asset_id, seq). Retried ingest attempts overwrite their own partial work.
func (s *ChunkStore) Upsert(c *Chunk) error {
	if c.Content == "" {
		return fmt.Errorf("chunk content cannot be empty (asset %s seq %d)", c.AssetID, c.Seq)
	}
	var page interface{}
	if c.Page != nil {
		page = *c.Page
	}
	_, err := s.db.Exec(
		`INSERT INTO knowledge_chunks (id, asset_id, seq, chunk_type, section_path, page, token_count, content, content_hash, vector_point_id, embedding_model, mojibake, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(asset_id, seq) DO UPDATE SET
			id = excluded.id,
			chunk_type = excluded.chunk_type,
			section_path = excluded.section_path,
			page = excluded.page,
			token_count = excluded.token_count,
			content = excluded.content,
			content_hash = excluded.content_hash,
			vector_point_id = excluded.vector_point_id,
			embedding_model = excluded.embedding_model,
			mojibake = excluded.mojibake`,
		c.ID, c.AssetID, c.Seq, c.ChunkType, c.SectionPath, page, c.TokenCount, c.Content, c.ContentHash, c.VectorPointID, c.EmbeddingModel, c.Mojibake, time.Now().UTC(),
	)
	return err
}

// GetByID returns a chunk by id.
func (s *ChunkStore) GetByID(id string) (*Chunk, error) {
	row := s.db.QueryRow(chunkSelect+` WHERE id = ?`, id)
	return scanChunk(row)
}

const chunkSelect = `SELECT id, asset_id, seq, chunk_type, COALESCE(section_path, ''), page, token_count, content, content_hash, vector_point_id, embedding_model, mojibake, created_at FROM knowledge_chunks`

// ListByAsset returns an asset's chunks in sequence order.
func (s *ChunkStore) ListByAsset(assetID string) ([]Chunk, error) {
	rows, err := s.db.Query(chunkSelect+` WHERE asset_id = ? ORDER BY seq ASC`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		c, err := scanChunkRows(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	return chunks, rows.Err()
}

// CountByAsset returns the number of chunks stored for an asset.
func (s *ChunkStore) CountByAsset(assetID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM knowledge_chunks WHERE asset_id = ?`, assetID).Scan(&n)
	return n, err
}

// DeleteByAsset removes all chunks for an asset.
func (s *ChunkStore) DeleteByAsset(assetID string) error {
	_, err := s.db.Exec(`DELETE FROM knowledge_chunks WHERE asset_id = ?`, assetID)
	return err
}

func scanChunk(row *sql.Row) (*Chunk, error)       { return scanChunkFrom(row) }
func scanChunkRows(rows *sql.Rows) (*Chunk, error) { return scanChunkFrom(rows) }

func scanChunkFrom(r rowScanner) (*Chunk, error) {
	var c Chunk
	var page sql.NullInt64
	err := r.Scan(&c.ID, &c.AssetID, &c.Seq, &c.ChunkType, &c.SectionPath, &page, &c.TokenCount,
		&c.Content, &c.ContentHash, &c.VectorPointID, &c.EmbeddingModel, &c.Mojibake, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if page.Valid {
		p := int(page.Int64)
		c.Page = &p
	}
	return &c, nil
}
