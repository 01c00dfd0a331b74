// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package retriever

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/odras/ragcore/internal/database"
	"github.com/odras/ragcore/internal/embeddings"
	"github.com/odras/ragcore/internal/vectordb"
)

func newTestRetriever(t *testing.T) (*Retriever, *database.AssetStore, *vectordb.MockVectorDB, *embeddings.MockEmbedder) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := database.NewFileStore(db); err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	assets, err := database.NewAssetStore(db)
	if err != nil {
		t.Fatalf("NewAssetStore: %v", err)
	}

	embedder := embeddings.NewMockEmbedder(64)
	registry := embeddings.NewRegistry(embedder)
	vectors := vectordb.NewMockVectorDB()

	r := New(assets, vectors, registry, Defaults{})
	return r, assets, vectors, embedder
}

func seedAsset(t *testing.T, assets *database.AssetStore, id, projectID, visibility string, model string) {
	t.Helper()
	a := &database.KnowledgeAsset{
		ID: id, FileID: "file-" + id, ProjectID: projectID, Title: id,
		EmbeddingModel: model, ParserVersion: "v1", Visibility: visibility,
	}
	if err := assets.Create(a); err != nil {
		t.Fatalf("Create asset: %v", err)
	}
	if ok, err := assets.TransitionStatus(id, database.AssetStatusPending, database.AssetStatusProcessing); err != nil || !ok {
		t.Fatalf("transition: %v", err)
	}
	if ok, err := assets.MarkReady(id, 1, 100); err != nil || !ok {
		t.Fatalf("MarkReady: %v", err)
	}
}

func seedChunk(t *testing.T, vectors *vectordb.MockVectorDB, embedder *embeddings.MockEmbedder, id, assetID, projectID, visibility, content string, seq int) {
	t.Helper()
	vec, err := embedder.EmbedText(context.Background(), content)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	err = vectors.Upsert(context.Background(), embedder.Dimension(), []vectordb.Point{{
		ID: id, Vector: vec,
		Payload: vectordb.Payload{
			AssetID: assetID, ProjectID: projectID, Visibility: visibility,
			Content: content, Seq: seq, EmbeddingModel: embedder.ID(),
		},
	}})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
}

func TestRetriever_ExactContentRanksFirst(t *testing.T) {
	r, assets, vectors, embedder := newTestRetriever(t)

	seedAsset(t, assets, "asset-1", "proj-a", "private", embedder.ID())
	seedChunk(t, vectors, embedder, "c1", "asset-1", "proj-a", "private", "The wingspan is 3.2 m.", 0)
	seedChunk(t, vectors, embedder, "c2", "asset-1", "proj-a", "private", "The fuselage is made of carbon fiber.", 1)

	results, err := r.Retrieve(context.Background(), Request{Query: "The wingspan is 3.2 m.", ProjectID: "proj-a"})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("Expected results for exact content query")
	}
	if results[0].ChunkID != "c1" {
		t.Errorf("Exact sentence should rank first, got %s (score %f)", results[0].ChunkID, results[0].Score)
	}
	if results[0].Score < 0.9 {
		t.Errorf("Exact match should score near 1.0, got %f", results[0].Score)
	}
}

func TestRetriever_VisibilityFiltering(t *testing.T) {
	r, assets, vectors, embedder := newTestRetriever(t)

	// Project A: alpha private, beta public.
	seedAsset(t, assets, "alpha", "proj-a", "private", embedder.ID())
	seedAsset(t, assets, "beta", "proj-a", "public", embedder.ID())
	seedChunk(t, vectors, embedder, "c-alpha", "alpha", "proj-a", "private", "Secret propulsion figures.", 0)
	seedChunk(t, vectors, embedder, "c-beta", "beta", "proj-a", "public", "Secret propulsion figures.", 0)

	// Project B sees only beta, even with a query that exactly matches alpha.
	results, err := r.Retrieve(context.Background(), Request{Query: "Secret propulsion figures.", ProjectID: "proj-b"})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	for _, res := range results {
		if res.AssetID == "alpha" {
			t.Errorf("Private asset leaked across projects")
		}
	}
	found := false
	for _, res := range results {
		if res.AssetID == "beta" {
			found = true
		}
	}
	if !found {
		t.Errorf("Public asset should be visible to other projects")
	}

	// The origin project sees both.
	results, err = r.Retrieve(context.Background(), Request{Query: "Secret propulsion figures.", ProjectID: "proj-a"})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Origin project should see both chunks, got %d", len(results))
	}
}

func TestRetriever_PublicAssetSameResultsAcrossProjects(t *testing.T) {
	r, assets, vectors, embedder := newTestRetriever(t)

	seedAsset(t, assets, "beta", "proj-a", "public", embedder.ID())
	seedChunk(t, vectors, embedder, "c1", "beta", "proj-a", "public", "Endurance is six hours at cruise.", 0)
	seedChunk(t, vectors, embedder, "c2", "beta", "proj-a", "public", "Payload capacity is 4 kg.", 1)

	fromOrigin, err := r.Retrieve(context.Background(), Request{Query: "What is the endurance figure?", ProjectID: "proj-a"})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	fromOther, err := r.Retrieve(context.Background(), Request{Query: "What is the endurance figure?", ProjectID: "proj-b"})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}

	if len(fromOrigin) != len(fromOther) {
		t.Fatalf("Ranked list lengths differ: %d vs %d", len(fromOrigin), len(fromOther))
	}
	for i := range fromOrigin {
		if fromOrigin[i].ChunkID != fromOther[i].ChunkID || fromOrigin[i].Score != fromOther[i].Score {
			t.Errorf("Ranked lists differ at %d: %+v vs %+v", i, fromOrigin[i], fromOther[i])
		}
	}
}

func TestRetriever_ShortQueryRejected(t *testing.T) {
	r, _, _, _ := newTestRetriever(t)

	_, err := r.Retrieve(context.Background(), Request{Query: "wingspan", ProjectID: "proj-a"})
	if err != ErrQueryTooShort {
		t.Errorf("Expected ErrQueryTooShort, got: %v", err)
	}
}

func TestRetriever_ThresholdFiltersToEmpty(t *testing.T) {
	r, assets, vectors, embedder := newTestRetriever(t)

	seedAsset(t, assets, "asset-1", "proj-a", "private", embedder.ID())
	seedChunk(t, vectors, embedder, "c1", "asset-1", "proj-a", "private", "Totally unrelated content about cooking.", 0)

	results, err := r.Retrieve(context.Background(), Request{
		Query: "quantum flux capacitor alignment", ProjectID: "proj-a", Threshold: 0.999,
	})
	if err != nil {
		t.Fatalf("Zero results must not be an error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected empty result set, got %d", len(results))
	}
}

func TestRetriever_NoReadyAssetsReturnsEmpty(t *testing.T) {
	r, _, _, _ := newTestRetriever(t)

	results, err := r.Retrieve(context.Background(), Request{Query: "what is the wingspan", ProjectID: "proj-a"})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected empty results with no assets, got %d", len(results))
	}
}

func TestNormalizeQuery(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  what   is\tthe wingspan  ", "what is the wingspan"},
		{"Context: previous chat turns here\n\nWhat is the wingspan?", "What is the wingspan?"},
	}
	for _, tc := range cases {
		if got := NormalizeQuery(tc.in); got != tc.want {
			t.Errorf("NormalizeQuery(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsComprehensiveQuery(t *testing.T) {
	if !IsComprehensiveQuery("list all performance requirements") {
		t.Errorf("list/all should be comprehensive")
	}
	if IsComprehensiveQuery("what is the wingspan") {
		t.Errorf("point question misclassified as comprehensive")
	}
}

func TestDiversityRerank(t *testing.T) {
	results := []Result{
		{ChunkID: "a1", AssetID: "a", Score: 0.9},
		{ChunkID: "a2", AssetID: "a", Score: 0.89},
		{ChunkID: "a3", AssetID: "a", Score: 0.88},
		{ChunkID: "b1", AssetID: "b", Score: 0.87},
	}
	out := diversityRerank(results, 3)
	if len(out) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(out))
	}
	foundB := false
	for _, res := range out {
		if res.AssetID == "b" {
			foundB = true
		}
	}
	if !foundB {
		t.Errorf("Diversity rerank should seat asset b's best chunk")
	}
}
