// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package config

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

// Config holds the ragcore server configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Synthesis SynthesisConfig `mapstructure:"synthesis"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Workers   WorkerConfig    `mapstructure:"workers"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	HTTPPort int `mapstructure:"http_port"`
}

// StoreConfig holds persistence settings
type StoreConfig struct {
	DBPath     string   `mapstructure:"db_path"`
	QdrantAddr string   `mapstructure:"qdrant_addr"`
	S3         S3Config `mapstructure:"s3"`
}

// S3Config holds object store settings. Endpoint is set for MinIO and other
// S3-compatible services.
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

// EmbeddingConfig holds embedding provider settings
type EmbeddingConfig struct {
	DefaultModel  string `mapstructure:"default_model"`
	OllamaBaseURL string `mapstructure:"ollama_base_url"`
	BatchSize     int    `mapstructure:"batch_size"`
}

// ChunkingConfig holds chunker targets, all measured in tokens
type ChunkingConfig struct {
	TargetTokens  int     `mapstructure:"target_tokens"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	MinTokens     int     `mapstructure:"min_tokens"`
	OverlapRatio  float64 `mapstructure:"overlap_ratio"`
	ParserVersion string  `mapstructure:"parser_version"`
}

// RetrievalConfig holds retriever settings. Threshold is operator-tunable
// because deployments disagree on a good default.
type RetrievalConfig struct {
	Threshold        float64 `mapstructure:"threshold"`
	TopKPoint        int     `mapstructure:"top_k_point"`
	TopKComprehensive int    `mapstructure:"top_k_comprehensive"`
}

// SynthesisConfig holds answer synthesis settings
type SynthesisConfig struct {
	Model              string `mapstructure:"model"`
	MaxContextChunks   int    `mapstructure:"max_context_chunks"`
	PerProjectParallel int    `mapstructure:"per_project_parallel"`
}

// WorkflowConfig holds BPMN engine settings for the orchestrated query path
type WorkflowConfig struct {
	EngineURL        string `mapstructure:"engine_url"`
	ProcessKey       string `mapstructure:"process_key"`
	WorkerID         string `mapstructure:"worker_id"`
	LockDurationMs   int    `mapstructure:"lock_duration_ms"`
	PollIntervalMs   int    `mapstructure:"poll_interval_ms"`
	InstanceDeadline int    `mapstructure:"instance_deadline_s"`
}

// WorkerConfig holds ingestion worker pool settings
type WorkerConfig struct {
	IngestWorkers   int    `mapstructure:"ingest_workers"`
	MaxAttempts     int    `mapstructure:"max_attempts"`
	AttemptDeadline int    `mapstructure:"attempt_deadline_s"`
	QueueKey        string `mapstructure:"queue_key"`
}

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")
	viper.SetConfigName("ragcore")

	viper.SetDefault("server.http_port", 8081)
	viper.SetDefault("store.db_path", "./ragcore.db")
	viper.SetDefault("store.qdrant_addr", "localhost:6334")
	viper.SetDefault("store.s3.bucket", "ragcore-files")
	viper.SetDefault("store.s3.region", "us-east-1")
	viper.SetDefault("store.s3.use_path_style", true)
	viper.SetDefault("embedding.default_model", "text-embedding-3-small")
	viper.SetDefault("embedding.ollama_base_url", "http://localhost:11434")
	viper.SetDefault("embedding.batch_size", 64)
	viper.SetDefault("chunking.target_tokens", 384)
	viper.SetDefault("chunking.max_tokens", 512)
	viper.SetDefault("chunking.min_tokens", 64)
	viper.SetDefault("chunking.overlap_ratio", 0.15)
	viper.SetDefault("chunking.parser_version", "v1")
	viper.SetDefault("retrieval.threshold", 0.25)
	viper.SetDefault("retrieval.top_k_point", 5)
	viper.SetDefault("retrieval.top_k_comprehensive", 10)
	viper.SetDefault("synthesis.model", "gpt-4o-mini")
	viper.SetDefault("synthesis.max_context_chunks", 10)
	viper.SetDefault("synthesis.per_project_parallel", 4)
	viper.SetDefault("workflow.engine_url", "http://localhost:8080/engine-rest")
	viper.SetDefault("workflow.process_key", "rag_query")
	viper.SetDefault("workflow.worker_id", "ragcore-worker")
	viper.SetDefault("workflow.lock_duration_ms", 30000)
	viper.SetDefault("workflow.poll_interval_ms", 500)
	viper.SetDefault("workflow.instance_deadline_s", 120)
	viper.SetDefault("workers.ingest_workers", 5)
	viper.SetDefault("workers.max_attempts", 3)
	viper.SetDefault("workers.attempt_deadline_s", 300)
	viper.SetDefault("workers.queue_key", "ragcore:ingest")

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	} else {
		viper.AddConfigPath(".")
		if err := viper.ReadInConfig(); err != nil {
			// Defaults are complete; a missing config file is fine.
			log.Printf("LoadConfig: no config file found, using defaults: %v", err)
		}
	}

	viper.SetEnvPrefix("RAGCORE")
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
