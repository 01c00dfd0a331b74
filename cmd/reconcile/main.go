// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// reconcile verifies ready assets against the vector index and re-embeds
// chunks whose points went missing. Run it after an index restore or when
// point counts may have drifted from chunk counts.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/odras/ragcore/internal/config"
	"github.com/odras/ragcore/internal/database"
	"github.com/odras/ragcore/internal/embeddings"
	"github.com/odras/ragcore/internal/objectstore"
	"github.com/odras/ragcore/internal/pipeline"
	"github.com/odras/ragcore/internal/vectordb"
)

var (
	configPath = flag.String("config", "", "Path to ragcore.yaml")
	assetID    = flag.String("asset", "", "Reconcile a single asset id (default: all ready assets)")
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, using environment variables")
	}
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := sql.Open("sqlite3", cfg.Store.DBPath)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}
	defer db.Close()

	files, err := database.NewFileStore(db)
	if err != nil {
		log.Fatalf("failed to init file store: %v", err)
	}
	assets, err := database.NewAssetStore(db)
	if err != nil {
		log.Fatalf("failed to init asset store: %v", err)
	}
	chunks, err := database.NewChunkStore(db)
	if err != nil {
		log.Fatalf("failed to init chunk store: %v", err)
	}
	jobStore, err := database.NewJobStore(db)
	if err != nil {
		log.Fatalf("failed to init job store: %v", err)
	}

	conn, err := grpc.Dial(cfg.Store.QdrantAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to connect to Qdrant at %s: %v", cfg.Store.QdrantAddr, err)
	}
	defer conn.Close()

	vectors, err := vectordb.NewQdrantVectorDB(conn)
	if err != nil {
		log.Fatalf("failed to init vector db: %v", err)
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Fatalf("OPENAI_API_KEY is required to re-embed")
	}
	embedder, err := embeddings.NewEmbedder("openai", map[string]string{
		"api_key": apiKey,
		"model":   cfg.Embedding.DefaultModel,
	})
	if err != nil {
		log.Fatalf("failed to init embedder: %v", err)
	}
	registry := embeddings.NewRegistry(embedder)

	// The reconcile path never reads file bytes, so the object store is not
	// dialed here.
	svc := pipeline.NewService(files, assets, chunks, jobStore, objectstore.NewMemoryStore(), vectors, registry, pipeline.Options{
		BatchSize: cfg.Embedding.BatchSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	var targets []database.KnowledgeAsset
	if *assetID != "" {
		asset, err := assets.GetByID(*assetID)
		if err != nil {
			log.Fatalf("asset %s not found: %v", *assetID, err)
		}
		targets = []database.KnowledgeAsset{*asset}
	} else {
		all, err := assets.ListVisible("", true)
		if err != nil {
			log.Fatalf("failed to list assets: %v", err)
		}
		for _, a := range all {
			if a.Status == database.AssetStatusReady {
				targets = append(targets, a)
			}
		}
	}

	log.Printf("Reconciling %d assets", len(targets))

	repaired := 0
	for _, a := range targets {
		written, err := svc.Reconcile(ctx, a.ID)
		if err != nil {
			log.Printf("asset %s: reconcile failed: %v", a.ID, err)
			continue
		}
		if written > 0 {
			log.Printf("asset %s: re-upserted %d points", a.ID, written)
			repaired++
		}
	}

	log.Printf("Done: %d/%d assets repaired", repaired, len(targets))
}
