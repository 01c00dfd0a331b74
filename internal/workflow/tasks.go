// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/odras/ragcore/internal/ai"
	"github.com/odras/ragcore/internal/database"
	"github.com/odras/ragcore/internal/retriever"
	"github.com/odras/ragcore/internal/synthesizer"
)

// External task topics, in pipeline order.
const (
	TopicProcessQuery    = "rag-process-query"
	TopicRetrieveChunks  = "rag-retrieve-chunks"
	TopicRerankChunks    = "rag-rerank-chunks"
	TopicConstructPrompt = "rag-construct-prompt"
	TopicGenerate        = "rag-llm-generate"
	TopicProcessResponse = "rag-process-response"
	TopicLogQuery        = "rag-log-query"
)

// AllTopics lists every topic this worker serves.
var AllTopics = []string{
	TopicProcessQuery,
	TopicRetrieveChunks,
	TopicRerankChunks,
	TopicConstructPrompt,
	TopicGenerate,
	TopicProcessResponse,
	TopicLogQuery,
}

// Worker runs the retrieval and synthesis path as independent external
// tasks. Each handler parses the upstream envelopes it needs and emits its
// own; log-query emits none.
type Worker struct {
	engine    Engine
	retriever *retriever.Retriever
	llm       ai.Client
	querylog  *database.QueryLogStore

	workerID     string
	lockMs       int
	pollInterval time.Duration

	defaultTopK      int
	defaultThreshold float64
}

// WorkerOptions configure a workflow worker.
type WorkerOptions struct {
	WorkerID         string
	LockMs           int
	PollInterval     time.Duration
	DefaultTopK      int
	DefaultThreshold float64
}

// NewWorker creates a workflow task worker.
func NewWorker(engine Engine, ret *retriever.Retriever, llm ai.Client, querylog *database.QueryLogStore, opts WorkerOptions) *Worker {
	if opts.WorkerID == "" {
		opts.WorkerID = "ragcore-worker"
	}
	if opts.LockMs <= 0 {
		opts.LockMs = 30000
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = 5
	}
	if opts.DefaultThreshold <= 0 {
		opts.DefaultThreshold = 0.25
	}
	return &Worker{
		engine:           engine,
		retriever:        ret,
		llm:              llm,
		querylog:         querylog,
		workerID:         opts.WorkerID,
		lockMs:           opts.LockMs,
		pollInterval:     opts.PollInterval,
		defaultTopK:      opts.DefaultTopK,
		defaultThreshold: opts.DefaultThreshold,
	}
}

// Run polls the engine for external tasks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("workflow worker %s: serving topics %v", w.workerID, AllTopics)

	for {
		select {
		case <-ctx.Done():
			log.Printf("workflow worker %s: stopping", w.workerID)
			return
		default:
		}

		tasks, err := w.engine.FetchAndLock(ctx, w.workerID, AllTopics, w.lockMs, 10)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("workflow worker %s: fetchAndLock failed: %v", w.workerID, err)
			time.Sleep(w.pollInterval)
			continue
		}

		if len(tasks) == 0 {
			time.Sleep(w.pollInterval)
			continue
		}

		for _, task := range tasks {
			w.execute(ctx, task)
		}
	}
}

// execute runs one locked task and completes or fails it.
func (w *Worker) execute(ctx context.Context, task ExternalTask) {
	out, err := w.HandleTopic(ctx, task.TopicName, task.Variables)
	if err != nil {
		retries := 3
		if task.Retries != nil {
			retries = *task.Retries - 1
			if retries < 0 {
				retries = 0
			}
		}
		log.Printf("workflow worker %s: task %s (%s) failed, retries left %d: %v", w.workerID, task.ID, task.TopicName, retries, err)
		if ferr := w.engine.HandleFailure(ctx, task.ID, w.workerID, err.Error(), retries, 5000); ferr != nil {
			log.Printf("workflow worker %s: failed to report failure: %v", w.workerID, ferr)
		}
		return
	}

	if cerr := w.engine.Complete(ctx, task.ID, w.workerID, out); cerr != nil {
		log.Printf("workflow worker %s: failed to complete task %s: %v", w.workerID, task.ID, cerr)
	}
}

// HandleTopic dispatches one task. Exposed for tests: handlers are pure
// Variables -> Variables transformations.
func (w *Worker) HandleTopic(ctx context.Context, topic string, vars Variables) (Variables, error) {
	switch topic {
	case TopicProcessQuery:
		return w.processQuery(vars)
	case TopicRetrieveChunks:
		return w.retrieveChunks(ctx, vars)
	case TopicRerankChunks:
		return w.rerankChunks(ctx, vars)
	case TopicConstructPrompt:
		return w.constructPrompt(vars)
	case TopicGenerate:
		return w.generate(ctx, vars)
	case TopicProcessResponse:
		return w.processResponse(vars)
	case TopicLogQuery:
		return w.logQuery(vars)
	default:
		return nil, fmt.Errorf("unknown topic %s", topic)
	}
}

func (w *Worker) processQuery(vars Variables) (Variables, error) {
	var req QueryRequestEnvelope
	if err := ParseEnvelope(vars, VarQueryRequest, &req); err != nil {
		return nil, err
	}

	query := retriever.NormalizeQuery(req.Question)
	comprehensive := retriever.IsComprehensiveQuery(query)

	topK := req.MaxChunks
	if topK <= 0 {
		topK = w.defaultTopK
		if comprehensive {
			topK = w.defaultTopK * 2
		}
	}
	threshold := req.MinRelevance
	if threshold <= 0 {
		threshold = w.defaultThreshold
	}

	out := ProcessedQueryEnvelope{
		Query:         query,
		ProjectID:     req.ProjectID,
		UserID:        req.UserID,
		Admin:         req.Admin,
		DocumentTypes: req.DocumentTypes,
		TopK:          topK,
		Threshold:     threshold,
		Comprehensive: comprehensive,
	}
	env, err := PackEnvelope(out)
	if err != nil {
		return nil, err
	}
	return Variables{VarProcessedQuery: env}, nil
}

func (w *Worker) retrieveChunks(ctx context.Context, vars Variables) (Variables, error) {
	var q ProcessedQueryEnvelope
	if err := ParseEnvelope(vars, VarProcessedQuery, &q); err != nil {
		return nil, err
	}

	results, err := w.retriever.Retrieve(ctx, retriever.Request{
		Query:         q.Query,
		ProjectID:     q.ProjectID,
		Admin:         q.Admin,
		DocumentTypes: q.DocumentTypes,
		TopK:          q.TopK,
		Threshold:     float32(q.Threshold),
	})
	if err != nil {
		return nil, err
	}

	env, err := PackEnvelope(chunksToEnvelope(results, false))
	if err != nil {
		return nil, err
	}
	return Variables{VarRetrievalChunks: env}, nil
}

// rerankChunks trims to the requested size; when retrieval came back empty
// it runs one fallback search with a halved threshold before giving up.
func (w *Worker) rerankChunks(ctx context.Context, vars Variables) (Variables, error) {
	var q ProcessedQueryEnvelope
	if err := ParseEnvelope(vars, VarProcessedQuery, &q); err != nil {
		return nil, err
	}
	var retrieved ChunksEnvelope
	if err := ParseEnvelope(vars, VarRetrievalChunks, &retrieved); err != nil {
		return nil, err
	}

	out := retrieved
	if retrieved.Count == 0 && q.Threshold > 0.05 {
		results, err := w.retriever.Retrieve(ctx, retriever.Request{
			Query:         q.Query,
			ProjectID:     q.ProjectID,
			Admin:         q.Admin,
			DocumentTypes: q.DocumentTypes,
			TopK:          q.TopK,
			Threshold:     float32(q.Threshold / 2),
		})
		if err != nil {
			return nil, err
		}
		out = chunksToEnvelope(results, true)
	}

	if len(out.Chunks) > q.TopK && q.TopK > 0 {
		out.Chunks = out.Chunks[:q.TopK]
		out.Count = len(out.Chunks)
	}

	env, err := PackEnvelope(out)
	if err != nil {
		return nil, err
	}
	return Variables{VarRerankedChunks: env}, nil
}

func (w *Worker) constructPrompt(vars Variables) (Variables, error) {
	var q ProcessedQueryEnvelope
	if err := ParseEnvelope(vars, VarProcessedQuery, &q); err != nil {
		return nil, err
	}
	var chunks ChunksEnvelope
	if err := ParseEnvelope(vars, VarRerankedChunks, &chunks); err != nil {
		return nil, err
	}

	results := make([]retriever.Result, len(chunks.Chunks))
	for i, c := range chunks.Chunks {
		results[i] = retriever.Result{
			ChunkID: c.ChunkID, AssetID: c.AssetID, Content: c.Content,
			SectionPath: c.SectionPath, Page: c.Page, Seq: c.Seq, Score: c.Score,
		}
	}

	system, user := synthesizer.BuildPrompt(q.Query, results)
	env, err := PackEnvelope(PromptEnvelope{System: system, User: user, ContextLength: len(user)})
	if err != nil {
		return nil, err
	}
	return Variables{VarLLMPrompt: env}, nil
}

// generate calls the language model. Provider failures are contained here:
// the task completes with an error-bearing envelope so the workflow still
// finishes and the caller gets a normalised response.
func (w *Worker) generate(ctx context.Context, vars Variables) (Variables, error) {
	var prompt PromptEnvelope
	if err := ParseEnvelope(vars, VarLLMPrompt, &prompt); err != nil {
		return nil, err
	}

	raw := RawReplyEnvelope{LLMCalled: true}
	text, usage, err := w.llm.Complete(ctx, ai.CompletionRequest{
		System:      prompt.System,
		Prompt:      prompt.User,
		Temperature: 0.1,
	})
	if err != nil {
		raw.Error = err.Error()
	} else {
		raw.Text = text
		if usage != nil {
			raw.Model = usage.Model
		}
	}

	env, packErr := PackEnvelope(raw)
	if packErr != nil {
		return nil, packErr
	}
	return Variables{VarLLMRaw: env}, nil
}

func (w *Worker) processResponse(vars Variables) (Variables, error) {
	var q ProcessedQueryEnvelope
	if err := ParseEnvelope(vars, VarProcessedQuery, &q); err != nil {
		return nil, err
	}
	var chunks ChunksEnvelope
	if err := ParseEnvelope(vars, VarRerankedChunks, &chunks); err != nil {
		return nil, err
	}
	var prompt PromptEnvelope
	if err := ParseEnvelope(vars, VarLLMPrompt, &prompt); err != nil {
		return nil, err
	}
	var raw RawReplyEnvelope
	if err := ParseEnvelope(vars, VarLLMRaw, &raw); err != nil {
		return nil, err
	}

	response := ResponseEnvelope{
		KeyPoints: []string{},
		Metadata: ResponseMetadata{
			LLMCalled:     raw.LLMCalled,
			ContextLength: prompt.ContextLength,
			ChunksFound:   chunks.Count,
			Citations:     chunks.Chunks,
			Sources:       sourceAssets(chunks.Chunks),
		},
	}

	if raw.Error != "" {
		response.Answer = synthesizer.FallbackAnswer
		response.Confidence = nil
		response.Metadata.Error = raw.Error
	} else {
		parsed := synthesizer.ParseReply(raw.Text)
		response.Answer = parsed.Answer
		response.KeyPoints = parsed.KeyPoints
		if parsed.Confidence != synthesizer.ConfidenceUnknown {
			c := parsed.Confidence
			response.Confidence = &c
		}
	}

	env, err := PackEnvelope(response)
	if err != nil {
		return nil, err
	}

	// final_response duplicates the answer text for dashboards that only
	// render plain strings.
	return Variables{
		VarLLMResponse:   env,
		VarFinalResponse: {Value: response.Answer, Type: "String"},
	}, nil
}

func (w *Worker) logQuery(vars Variables) (Variables, error) {
	var q ProcessedQueryEnvelope
	if err := ParseEnvelope(vars, VarProcessedQuery, &q); err != nil {
		return nil, err
	}
	var response ResponseEnvelope
	if err := ParseEnvelope(vars, VarLLMResponse, &response); err != nil {
		return nil, err
	}

	if w.querylog != nil {
		confidence := synthesizer.ConfidenceUnknown
		if response.Confidence != nil {
			confidence = *response.Confidence
		}
		citations, _ := json.Marshal(response.Metadata.Citations)
		record := &database.QueryRecord{
			ID:         uuid.NewString(),
			ProjectID:  q.ProjectID,
			UserID:     q.UserID,
			Question:   q.Query,
			TopK:       q.TopK,
			Threshold:  q.Threshold,
			Answer:     response.Answer,
			Confidence: confidence,
			Citations:  citations,
		}
		if err := w.querylog.Log(record); err != nil {
			log.Printf("logQuery: failed to persist query record: %v", err)
		}
	}

	return Variables{}, nil
}

func chunksToEnvelope(results []retriever.Result, widened bool) ChunksEnvelope {
	chunks := make([]ChunkRef, len(results))
	for i, r := range results {
		chunks[i] = ChunkRef{
			ChunkID: r.ChunkID, AssetID: r.AssetID, Content: r.Content,
			SectionPath: r.SectionPath, Page: r.Page, Seq: r.Seq, Score: r.Score,
		}
	}
	return ChunksEnvelope{Chunks: chunks, Count: len(chunks), Widened: widened}
}

func sourceAssets(chunks []ChunkRef) []string {
	seen := make(map[string]bool)
	var sources []string
	for _, c := range chunks {
		if !seen[c.AssetID] {
			seen[c.AssetID] = true
			sources = append(sources, c.AssetID)
		}
	}
	return sources
}
