// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/odras/ragcore/internal/ai"
	"github.com/odras/ragcore/internal/config"
	"github.com/odras/ragcore/internal/database"
	"github.com/odras/ragcore/internal/embeddings"
	"github.com/odras/ragcore/internal/jobs"
	"github.com/odras/ragcore/internal/logger"
	"github.com/odras/ragcore/internal/objectstore"
	"github.com/odras/ragcore/internal/pipeline"
	"github.com/odras/ragcore/internal/processor"
	"github.com/odras/ragcore/internal/queue"
	"github.com/odras/ragcore/internal/retriever"
	"github.com/odras/ragcore/internal/server"
	"github.com/odras/ragcore/internal/synthesizer"
	"github.com/odras/ragcore/internal/vectordb"
	"github.com/odras/ragcore/internal/worker"
	"github.com/odras/ragcore/internal/workflow"
)

var (
	configPath     = flag.String("config", "", "Path to ragcore.yaml (defaults baked in)")
	runWorkflow    = flag.Bool("workflow-worker", false, "Run the embedded workflow external-task worker")
	workerCountArg = flag.Int("worker-count", 0, "Override ingest worker count")
)

func main() {
	if _, err := logger.Init("ragcore-server.log"); err != nil {
		log.Printf("Failed to initialize logger: %v, using stdout only", err)
	}

	if err := godotenv.Load(); err != nil {
		logger.Printf("No .env file found, using environment variables")
	}

	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	db, err := sql.Open("sqlite3", cfg.Store.DBPath)
	if err != nil {
		logger.Fatalf("failed to open sqlite database: %v", err)
	}
	defer db.Close()

	files, err := database.NewFileStore(db)
	if err != nil {
		logger.Fatalf("failed to init file store: %v", err)
	}
	assets, err := database.NewAssetStore(db)
	if err != nil {
		logger.Fatalf("failed to init asset store: %v", err)
	}
	chunks, err := database.NewChunkStore(db)
	if err != nil {
		logger.Fatalf("failed to init chunk store: %v", err)
	}
	jobStore, err := database.NewJobStore(db)
	if err != nil {
		logger.Fatalf("failed to init job store: %v", err)
	}
	querylog, err := database.NewQueryLogStore(db)
	if err != nil {
		logger.Fatalf("failed to init query log store: %v", err)
	}

	ctx := context.Background()

	objects := initObjectStore(ctx, cfg)
	vectors, closeVectors := initVectorDB(cfg)
	defer closeVectors()
	registry := initEmbedders(cfg)
	llm := initLLM(cfg)

	svc := pipeline.NewService(files, assets, chunks, jobStore, objects, vectors, registry, pipeline.Options{
		ChunkOptions: processor.Options{
			TargetTokens: cfg.Chunking.TargetTokens,
			MaxTokens:    cfg.Chunking.MaxTokens,
			MinTokens:    cfg.Chunking.MinTokens,
			OverlapRatio: cfg.Chunking.OverlapRatio,
		},
		ParserVersion:   cfg.Chunking.ParserVersion,
		BatchSize:       cfg.Embedding.BatchSize,
		MaxAttempts:     cfg.Workers.MaxAttempts,
		AttemptDeadline: time.Duration(cfg.Workers.AttemptDeadline) * time.Second,
	})

	ret := retriever.New(assets, vectors, registry, retriever.Defaults{
		Threshold:         float32(cfg.Retrieval.Threshold),
		TopKPoint:         cfg.Retrieval.TopKPoint,
		TopKComprehensive: cfg.Retrieval.TopKComprehensive,
	})
	synth := synthesizer.New(llm)

	// Job queue + ingestion worker pool.
	var jobQueue queue.Queue
	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()

	redisClient, err := config.NewRedisClient(ctx)
	if err != nil {
		logger.Warnf("failed to connect to Redis: %v, ingest jobs will not be processed", err)
	} else {
		jobQueue, err = queue.NewRedisQueue(redisClient, cfg.Workers.QueueKey)
		if err != nil {
			logger.Fatalf("failed to create job queue: %v", err)
		}

		workerCount := cfg.Workers.IngestWorkers
		if *workerCountArg > 0 {
			workerCount = *workerCountArg
		}

		handler := func(ctx context.Context, job queue.Job) error {
			switch job.Type {
			case jobs.JobTypeIngest:
				return jobs.HandleIngest(ctx, svc, jobQueue, job)
			default:
				logger.Printf("unknown job type: %s", job.Type)
				return nil
			}
		}

		go func() {
			logger.Printf("Starting %d ingest workers", workerCount)
			if err := worker.StartWorkers(workerCtx, jobQueue, handler, workerCount); err != nil {
				logger.Errorf("worker error: %v", err)
			}
		}()
	}

	// Workflow engine adapter + optional embedded external-task worker.
	engine := workflow.NewRestEngine(cfg.Workflow.EngineURL)
	adapter := workflow.NewAdapter(engine, cfg.Workflow.ProcessKey, time.Duration(cfg.Workflow.InstanceDeadline)*time.Second)

	if *runWorkflow {
		wfWorker := workflow.NewWorker(engine, ret, llm, querylog, workflow.WorkerOptions{
			WorkerID:         cfg.Workflow.WorkerID,
			LockMs:           cfg.Workflow.LockDurationMs,
			PollInterval:     time.Duration(cfg.Workflow.PollIntervalMs) * time.Millisecond,
			DefaultTopK:      cfg.Retrieval.TopKPoint,
			DefaultThreshold: cfg.Retrieval.Threshold,
		})
		go wfWorker.Run(workerCtx)
	}

	srv := &server.Server{
		Pipeline:    svc,
		Retriever:   ret,
		Synthesizer: synth,
		Workflow:    adapter,
		LLM:         llm,
		Files:       files,
		Assets:      assets,
		Chunks:      chunks,
		Jobs:        jobStore,
		QueryLog:    querylog,
		Vectors:     vectors,
		Queue:       jobQueue,
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: srv.Routes(),
	}

	go func() {
		logger.Printf("HTTP server listening on %d", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	waitForShutdown(httpServer, workerCancel)
}

// initObjectStore connects to S3, falling back to the in-memory store so
// the server still comes up in development.
func initObjectStore(ctx context.Context, cfg *config.Config) objectstore.Store {
	store, err := objectstore.NewS3Store(ctx, cfg.Store.S3)
	if err != nil {
		logger.Warnf("failed to init S3 object store: %v, using in-memory store (uploads will not survive restart)", err)
		return objectstore.NewMemoryStore()
	}
	logger.Printf("Connected to object store bucket %s", cfg.Store.S3.Bucket)
	return store
}

// initVectorDB dials Qdrant, falling back to the in-memory mock.
func initVectorDB(cfg *config.Config) (vectordb.VectorDB, func()) {
	conn, err := grpc.Dial(cfg.Store.QdrantAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Warnf("failed to connect to Qdrant at %s: %v, using in-memory vector DB", cfg.Store.QdrantAddr, err)
		return vectordb.NewMockVectorDB(), func() {}
	}

	vdb, err := vectordb.NewQdrantVectorDB(conn)
	if err != nil {
		conn.Close()
		logger.Warnf("failed to init vector db: %v, using in-memory vector DB", err)
		return vectordb.NewMockVectorDB(), func() {}
	}

	logger.Printf("Connected to Qdrant at %s", cfg.Store.QdrantAddr)
	return vdb, func() { conn.Close() }
}

// initEmbedders builds the model registry: OpenAI when a key is present,
// deterministic mock otherwise, plus Ollama when configured.
func initEmbedders(cfg *config.Config) *embeddings.Registry {
	var defaultEmbedder embeddings.Embedder
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey != "" {
		e, err := embeddings.NewEmbedder("openai", map[string]string{
			"api_key": apiKey,
			"model":   cfg.Embedding.DefaultModel,
		})
		if err != nil {
			logger.Fatalf("failed to init openai embedder: %v", err)
		}
		defaultEmbedder = e
	} else {
		logger.Warnf("OPENAI_API_KEY not set, using mock embeddings")
		defaultEmbedder = embeddings.NewMockEmbedder(384)
	}

	registry := embeddings.NewRegistry(defaultEmbedder)

	if model := os.Getenv("OLLAMA_EMBED_MODEL"); model != "" {
		e, err := embeddings.NewEmbedder("ollama", map[string]string{
			"base_url": cfg.Embedding.OllamaBaseURL,
			"model":    model,
		})
		if err != nil {
			logger.Warnf("failed to init ollama embedder: %v", err)
		} else {
			registry.Register(e)
			logger.Printf("Registered ollama embedding model %s", model)
		}
	}

	logger.Printf("Default embedding model: %s (dimension %d)", defaultEmbedder.ID(), defaultEmbedder.Dimension())
	return registry
}

// initLLM builds the answer model client, mock when no key is available.
func initLLM(cfg *config.Config) ai.Client {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		logger.Warnf("OPENAI_API_KEY not set, answers will be canned")
		return ai.NewMockClient(`{"answer": "No language model is configured.", "confidence": "unknown"}`)
	}
	client, err := ai.NewOpenAIClient(apiKey, cfg.Synthesis.Model)
	if err != nil {
		logger.Fatalf("failed to init LLM client: %v", err)
	}
	logger.Printf("Answer model: %s", client.ID())
	return client
}

func waitForShutdown(httpServer *http.Server, workerCancel context.CancelFunc) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Printf("Shutting down...")
	workerCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP shutdown error: %v", err)
	}

	logger.Printf("Shutdown complete")
}
