// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package workflow

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/odras/ragcore/internal/ai"
	"github.com/odras/ragcore/internal/database"
	"github.com/odras/ragcore/internal/embeddings"
	"github.com/odras/ragcore/internal/retriever"
	"github.com/odras/ragcore/internal/synthesizer"
	"github.com/odras/ragcore/internal/vectordb"
)

func newTestWorker(t *testing.T, llm ai.Client) (*Worker, *database.QueryLogStore) {
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
	querylog, err := database.NewQueryLogStore(db)
	if err != nil {
		t.Fatalf("NewQueryLogStore: %v", err)
	}

	embedder := embeddings.NewMockEmbedder(64)
	registry := embeddings.NewRegistry(embedder)
	vectors := vectordb.NewMockVectorDB()

	// One ready asset with one chunk about the wingspan.
	a := &database.KnowledgeAsset{ID: "asset-1", FileID: "f1", ProjectID: "proj-a", Title: "vehicle", EmbeddingModel: embedder.ID(), ParserVersion: "v1"}
	if err := assets.Create(a); err != nil {
		t.Fatalf("Create asset: %v", err)
	}
	assets.TransitionStatus("asset-1", database.AssetStatusPending, database.AssetStatusProcessing)
	assets.MarkReady("asset-1", 1, 10)

	vec, _ := embedder.EmbedText(context.Background(), "The wingspan is 3.2 m.")
	vectors.Upsert(context.Background(), 64, []vectordb.Point{{
		ID: "chunk-1", Vector: vec,
		Payload: vectordb.Payload{AssetID: "asset-1", ProjectID: "proj-a", Visibility: "private", Content: "The wingspan is 3.2 m.", Seq: 0, EmbeddingModel: embedder.ID()},
	}})

	ret := retriever.New(assets, vectors, registry, retriever.Defaults{})
	worker := NewWorker(nil, ret, llm, querylog, WorkerOptions{})
	return worker, querylog
}

// runChain walks the full task sequence the BPMN process would drive,
// accumulating each task's envelope like engine-persisted variables.
func runChain(t *testing.T, w *Worker, request QueryRequestEnvelope) Variables {
	t.Helper()
	ctx := context.Background()

	env, err := PackEnvelope(request)
	if err != nil {
		t.Fatalf("PackEnvelope: %v", err)
	}
	vars := Variables{VarQueryRequest: env}

	for _, topic := range []string{
		TopicProcessQuery, TopicRetrieveChunks, TopicRerankChunks,
		TopicConstructPrompt, TopicGenerate, TopicProcessResponse, TopicLogQuery,
	} {
		out, err := w.HandleTopic(ctx, topic, vars)
		if err != nil {
			t.Fatalf("topic %s failed: %v", topic, err)
		}
		for k, v := range out {
			vars[k] = v
		}
	}
	return vars
}

func TestWorker_FullChainProducesAnswerEnvelope(t *testing.T) {
	llm := ai.NewMockClient(`{"answer": "The wingspan is 3.2 m [Context 1].", "confidence": "high", "key_points": ["wingspan 3.2 m"]}`)
	worker, querylog := newTestWorker(t, llm)

	vars := runChain(t, worker, QueryRequestEnvelope{Question: "The wingspan is 3.2 m.", ProjectID: "proj-a"})

	var response ResponseEnvelope
	if err := ParseEnvelope(vars, VarLLMResponse, &response); err != nil {
		t.Fatalf("llm_response envelope must parse: %v", err)
	}
	if response.Answer == "" {
		t.Fatalf("llm_response envelope must contain an answer")
	}
	if response.Confidence == nil || *response.Confidence != synthesizer.ConfidenceHigh {
		t.Errorf("Confidence lost: %v", response.Confidence)
	}
	if response.Metadata.ChunksFound < 1 {
		t.Errorf("chunks_found must be >= 1, got %d", response.Metadata.ChunksFound)
	}
	if len(response.Metadata.Citations) == 0 {
		t.Errorf("Citations missing from metadata")
	}
	if !response.Metadata.LLMCalled {
		t.Errorf("llm_called must be true")
	}

	// The log task persisted the query record.
	records, err := querylog.Recent("proj-a", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 query record, got %d", len(records))
	}
	if records[0].Confidence != synthesizer.ConfidenceHigh {
		t.Errorf("Logged confidence wrong: %s", records[0].Confidence)
	}
}

func TestWorker_ProviderFailureCompletesWithFallback(t *testing.T) {
	llm := ai.NewMockClient("")
	llm.Err = &ai.ProviderError{StatusCode: 503, Message: "service unavailable"}
	worker, _ := newTestWorker(t, llm)

	vars := runChain(t, worker, QueryRequestEnvelope{Question: "The wingspan is 3.2 m.", ProjectID: "proj-a"})

	var response ResponseEnvelope
	if err := ParseEnvelope(vars, VarLLMResponse, &response); err != nil {
		t.Fatalf("llm_response envelope must parse even on provider failure: %v", err)
	}
	if response.Answer != synthesizer.FallbackAnswer {
		t.Errorf("Expected fallback answer, got %q", response.Answer)
	}
	if response.Confidence != nil {
		t.Errorf("Confidence must be null on failure, got %v", *response.Confidence)
	}
	if len(response.Metadata.Citations) == 0 {
		t.Errorf("Citations from retrieval must survive the provider failure")
	}
	if response.Metadata.Error == "" {
		t.Errorf("Metadata must record the failure")
	}
}

func TestWorker_ProcessQueryIntent(t *testing.T) {
	llm := ai.NewMockClient("{}")
	worker, _ := newTestWorker(t, llm)

	env, _ := PackEnvelope(QueryRequestEnvelope{Question: "list all performance requirements", ProjectID: "proj-a"})
	out, err := worker.HandleTopic(context.Background(), TopicProcessQuery, Variables{VarQueryRequest: env})
	if err != nil {
		t.Fatalf("processQuery failed: %v", err)
	}

	var q ProcessedQueryEnvelope
	if err := ParseEnvelope(out, VarProcessedQuery, &q); err != nil {
		t.Fatalf("processed_query must parse: %v", err)
	}
	if !q.Comprehensive {
		t.Errorf("list/all query should be comprehensive")
	}
	if q.TopK <= 5 {
		t.Errorf("Comprehensive query should widen top_k, got %d", q.TopK)
	}
}

func TestWorker_RerankFallbackWidensEmptyRetrieval(t *testing.T) {
	llm := ai.NewMockClient("{}")
	worker, _ := newTestWorker(t, llm)
	ctx := context.Background()

	queryEnv, _ := PackEnvelope(ProcessedQueryEnvelope{
		Query: "what is the wingspan", ProjectID: "proj-a", TopK: 5, Threshold: 0.9999,
	})
	emptyEnv, _ := PackEnvelope(ChunksEnvelope{Chunks: []ChunkRef{}, Count: 0})

	out, err := worker.HandleTopic(ctx, TopicRerankChunks, Variables{
		VarProcessedQuery:  queryEnv,
		VarRetrievalChunks: emptyEnv,
	})
	if err != nil {
		t.Fatalf("rerank failed: %v", err)
	}

	var reranked ChunksEnvelope
	if err := ParseEnvelope(out, VarRerankedChunks, &reranked); err != nil {
		t.Fatalf("reranked_chunks must parse: %v", err)
	}
	if !reranked.Widened {
		t.Errorf("Empty retrieval should trigger the fallback search")
	}
}

func TestWorker_DownstreamTaskSurvivesHistoryShape(t *testing.T) {
	llm := ai.NewMockClient("{}")
	worker, _ := newTestWorker(t, llm)

	// Simulate the engine handing back the envelope in the decoded history
	// shape instead of the JSON string.
	vars := Variables{
		VarProcessedQuery: Variable{Value: map[string]interface{}{
			"query": "The wingspan is 3.2 m.", "project_id": "proj-a", "top_k": float64(5), "threshold": 0.25,
		}, Type: "Json"},
	}

	out, err := worker.HandleTopic(context.Background(), TopicRetrieveChunks, vars)
	if err != nil {
		t.Fatalf("retrieve failed on history-shaped input: %v", err)
	}

	var chunks ChunksEnvelope
	if err := ParseEnvelope(out, VarRetrievalChunks, &chunks); err != nil {
		t.Fatalf("retrieval_chunks must parse: %v", err)
	}
	if chunks.Count == 0 {
		t.Errorf("Expected chunk hit for wingspan query")
	}
	if !strings.Contains(chunks.Chunks[0].Content, "3.2 m") {
		t.Errorf("Chunk content lost: %q", chunks.Chunks[0].Content)
	}
}
