// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package database

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestStores(t *testing.T) (*FileStore, *AssetStore, *ChunkStore, *JobStore) {
	t.Helper()
	db := openTestDB(t)
	files, err := NewFileStore(db)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	assets, err := NewAssetStore(db)
	if err != nil {
		t.Fatalf("NewAssetStore: %v", err)
	}
	chunks, err := NewChunkStore(db)
	if err != nil {
		t.Fatalf("NewChunkStore: %v", err)
	}
	jobs, err := NewJobStore(db)
	if err != nil {
		t.Fatalf("NewJobStore: %v", err)
	}
	return files, assets, chunks, jobs
}

func TestFileStore_CreateAndGet(t *testing.T) {
	files, _, _, _ := newTestStores(t)

	f := &File{
		ID:          "file-1",
		ProjectID:   "proj-a",
		Filename:    "requirements.pdf",
		MimeType:    "application/pdf",
		Size:        1024,
		ContentHash: "abc123",
		StorageKey:  "sha256/abc123",
	}
	if err := files.Create(f); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := files.GetByID("file-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Filename != "requirements.pdf" {
		t.Errorf("Filename mismatch: %s", got.Filename)
	}
	if got.Visibility != VisibilityPrivate {
		t.Errorf("Expected default private visibility, got %s", got.Visibility)
	}

	byHash, err := files.GetByContentHash("proj-a", "abc123")
	if err != nil {
		t.Fatalf("GetByContentHash failed: %v", err)
	}
	if byHash.ID != "file-1" {
		t.Errorf("Expected file-1, got %s", byHash.ID)
	}
}

func TestAssetStore_IngestKeyUnique(t *testing.T) {
	files, assets, _, _ := newTestStores(t)

	f := &File{ID: "file-1", ProjectID: "proj-a", Filename: "doc.txt", MimeType: "text/plain", ContentHash: "h", StorageKey: "sha256/h"}
	if err := files.Create(f); err != nil {
		t.Fatalf("Create file failed: %v", err)
	}

	a := &KnowledgeAsset{ID: "asset-1", FileID: "file-1", ProjectID: "proj-a", Title: "doc", EmbeddingModel: "model-m", ParserVersion: "v1"}
	if err := assets.Create(a); err != nil {
		t.Fatalf("Create asset failed: %v", err)
	}

	// Same (file, parser, model) must be rejected by the unique index.
	dup := &KnowledgeAsset{ID: "asset-2", FileID: "file-1", ProjectID: "proj-a", Title: "doc", EmbeddingModel: "model-m", ParserVersion: "v1"}
	if err := assets.Create(dup); err == nil {
		t.Errorf("Expected unique constraint violation for duplicate ingest key")
	}

	// A different model creates a separate asset.
	other := &KnowledgeAsset{ID: "asset-3", FileID: "file-1", ProjectID: "proj-a", Title: "doc", EmbeddingModel: "model-n", ParserVersion: "v1"}
	if err := assets.Create(other); err != nil {
		t.Errorf("Create with different model should succeed: %v", err)
	}

	got, err := assets.GetByIngestKey("file-1", "v1", "model-m")
	if err != nil {
		t.Fatalf("GetByIngestKey failed: %v", err)
	}
	if got.ID != "asset-1" {
		t.Errorf("Expected asset-1, got %s", got.ID)
	}
}

func TestAssetStore_StatusCAS(t *testing.T) {
	_, assets, _, _ := newTestStores(t)

	a := &KnowledgeAsset{ID: "asset-1", FileID: "file-1", ProjectID: "proj-a", Title: "doc", EmbeddingModel: "m", ParserVersion: "v1"}
	if err := assets.Create(a); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ok, err := assets.TransitionStatus("asset-1", AssetStatusPending, AssetStatusProcessing)
	if err != nil || !ok {
		t.Fatalf("pending->processing should succeed, ok=%v err=%v", ok, err)
	}

	// A second worker attempting the same transition loses the race.
	ok, err = assets.TransitionStatus("asset-1", AssetStatusPending, AssetStatusProcessing)
	if err != nil {
		t.Fatalf("TransitionStatus error: %v", err)
	}
	if ok {
		t.Errorf("Second pending->processing transition should have failed")
	}

	ok, err = assets.MarkReady("asset-1", 12, 4096)
	if err != nil || !ok {
		t.Fatalf("MarkReady should succeed, ok=%v err=%v", ok, err)
	}

	got, err := assets.GetByID("asset-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != AssetStatusReady || got.ChunkCount != 12 || got.TokenCount != 4096 {
		t.Errorf("Unexpected asset after MarkReady: %+v", got)
	}

	// MarkFailed must not clobber a ready asset.
	if err := assets.MarkFailed("asset-1", "late failure"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	got, _ = assets.GetByID("asset-1")
	if got.Status != AssetStatusReady {
		t.Errorf("MarkFailed overwrote ready status: %s", got.Status)
	}
}

func TestAssetStore_Visibility(t *testing.T) {
	_, assets, _, _ := newTestStores(t)

	private := &KnowledgeAsset{ID: "alpha", FileID: "f1", ProjectID: "proj-a", Title: "alpha", EmbeddingModel: "m", ParserVersion: "v1"}
	public := &KnowledgeAsset{ID: "beta", FileID: "f2", ProjectID: "proj-a", Title: "beta", EmbeddingModel: "m", ParserVersion: "v1", Visibility: VisibilityPublic}
	if err := assets.Create(private); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := assets.Create(public); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	visible, err := assets.ListVisible("proj-b", false)
	if err != nil {
		t.Fatalf("ListVisible failed: %v", err)
	}
	if len(visible) != 1 || visible[0].ID != "beta" {
		t.Errorf("Project B should only see the public asset, got %+v", visible)
	}

	all, err := assets.ListVisible("", true)
	if err != nil {
		t.Fatalf("ListVisible admin failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Admin should see both assets, got %d", len(all))
	}
}

func TestChunkStore_UpsertAndOrdering(t *testing.T) {
	_, _, chunks, _ := newTestStores(t)

	for seq := 2; seq >= 0; seq-- {
		c := &Chunk{
			ID:             "chunk-" + string(rune('a'+seq)),
			AssetID:        "asset-1",
			Seq:            seq,
			ChunkType:      "body",
			TokenCount:     100,
			Content:        "content",
			ContentHash:    "h",
			VectorPointID:  "chunk-" + string(rune('a'+seq)),
			EmbeddingModel: "m",
		}
		if err := chunks.Upsert(c); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	list, err := chunks.ListByAsset("asset-1")
	if err != nil {
		t.Fatalf("ListByAsset failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(list))
	}
	for i, c := range list {
		if c.Seq != i {
			t.Errorf("Chunks not in sequence order at %d: seq=%d", i, c.Seq)
		}
	}

	// Re-upserting the same (asset, seq) replaces rather than duplicates.
	redo := &Chunk{ID: "chunk-x", AssetID: "asset-1", Seq: 1, ChunkType: "body", TokenCount: 50, Content: "updated", ContentHash: "h2", VectorPointID: "chunk-x", EmbeddingModel: "m"}
	if err := chunks.Upsert(redo); err != nil {
		t.Fatalf("Upsert replace failed: %v", err)
	}
	n, err := chunks.CountByAsset("asset-1")
	if err != nil {
		t.Fatalf("CountByAsset failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Upsert created a duplicate: count=%d", n)
	}
}

func TestChunkStore_EmptyContentRejected(t *testing.T) {
	_, _, chunks, _ := newTestStores(t)

	c := &Chunk{ID: "c1", AssetID: "a1", Seq: 0, Content: ""}
	if err := chunks.Upsert(c); err == nil {
		t.Errorf("Expected error for empty chunk content")
	}
}

func TestJobStore_ClaimLifecycle(t *testing.T) {
	_, _, _, jobs := newTestStores(t)

	j := &ProcessingJob{ID: "job-1", AssetID: "asset-1"}
	if err := jobs.Create(j); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ok, err := jobs.Claim("job-1")
	if err != nil || !ok {
		t.Fatalf("First claim should succeed, ok=%v err=%v", ok, err)
	}

	// A running job cannot be claimed again.
	ok, _ = jobs.Claim("job-1")
	if ok {
		t.Errorf("Claim of a running job should fail")
	}

	if err := jobs.MarkFailed("job-1", "provider 503", true); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}

	// A failed retryable job is claimable again; attempts keep counting.
	ok, err = jobs.Claim("job-1")
	if err != nil || !ok {
		t.Fatalf("Retry claim should succeed, ok=%v err=%v", ok, err)
	}

	if err := jobs.MarkSucceeded("job-1"); err != nil {
		t.Fatalf("MarkSucceeded error: %v", err)
	}

	got, err := jobs.GetByID("job-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.State != JobStateSucceeded {
		t.Errorf("Expected succeeded, got %s", got.State)
	}
	if got.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", got.Attempts)
	}
	if got.LastError != "" {
		t.Errorf("last_error should be cleared on success, got %q", got.LastError)
	}

	// Terminal success is not claimable.
	ok, _ = jobs.Claim("job-1")
	if ok {
		t.Errorf("Claim of a succeeded job should fail")
	}
}

func TestJobStore_NonRetryableStaysDown(t *testing.T) {
	_, _, _, jobs := newTestStores(t)

	j := &ProcessingJob{ID: "job-1", AssetID: "asset-1"}
	if err := jobs.Create(j); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if ok, _ := jobs.Claim("job-1"); !ok {
		t.Fatalf("claim failed")
	}
	if err := jobs.MarkFailed("job-1", "embedding dimension mismatch", false); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}

	if ok, _ := jobs.Claim("job-1"); ok {
		t.Errorf("Non-retryable failed job should not be claimable")
	}
	if ok, _ := jobs.Requeue("job-1"); ok {
		t.Errorf("Non-retryable failed job should not requeue")
	}
}
