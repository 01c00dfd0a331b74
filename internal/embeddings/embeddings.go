// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

// Embedder generates vector embeddings from text. A provider is identified
// by a stable model id recorded on every asset and chunk it embeds; all
// chunks of one asset share one provider.
type Embedder interface {
	// ID returns the model id recorded on assets and chunks.
	ID() string

	// EmbedText generates an embedding vector for the given text.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. Output order
	// matches input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimension of the embedding vectors.
	Dimension() int
}

// ProviderError is returned for provider HTTP failures. Status codes in the
// 5xx range, 429, and status 0 (no HTTP response, such as a timeout) are
// transient; everything else is permanent.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider error (status %d): %s", e.StatusCode, e.Message)
}

// Transient reports whether the failure is worth retrying.
func (e *ProviderError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429 || e.StatusCode == 0
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return false
}

// NewEmbedder creates an embedder based on the provided type and configuration.
// Supported types: "openai", "ollama", "mock" (for testing)
func NewEmbedder(embedderType string, config map[string]string) (Embedder, error) {
	switch embedderType {
	case "openai":
		apiKey := config["api_key"]
		if apiKey == "" {
			return nil, fmt.Errorf("openai api_key is required")
		}
		model := config["model"]
		if model == "" {
			model = "text-embedding-3-small"
		}
		return NewOpenAIEmbedder(apiKey, model)
	case "ollama":
		baseURL := config["base_url"]
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model := config["model"]
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaEmbedder(baseURL, model)
	case "mock":
		dim := 384
		if dimStr := config["dimension"]; dimStr != "" {
			fmt.Sscanf(dimStr, "%d", &dim)
		}
		return NewMockEmbedder(dim), nil
	default:
		return nil, fmt.Errorf("unknown embedder type: %s", embedderType)
	}
}

// Registry holds the embedders available to this deployment, keyed by model
// id, so assets embedded with different models stay queryable side by side.
type Registry struct {
	defaultID string
	embedders map[string]Embedder
}

// NewRegistry creates a registry with the given default model.
func NewRegistry(defaultEmbedder Embedder) *Registry {
	r := &Registry{
		defaultID: defaultEmbedder.ID(),
		embedders: make(map[string]Embedder),
	}
	r.embedders[defaultEmbedder.ID()] = defaultEmbedder
	return r
}

// Register adds an embedder under its model id.
func (r *Registry) Register(e Embedder) {
	r.embedders[e.ID()] = e
}

// Get returns the embedder for a model id, or an error if the model is not
// configured in this deployment.
func (r *Registry) Get(modelID string) (Embedder, error) {
	if modelID == "" {
		return r.embedders[r.defaultID], nil
	}
	e, ok := r.embedders[modelID]
	if !ok {
		return nil, fmt.Errorf("embedding model %s is not configured", modelID)
	}
	return e, nil
}

// DefaultID returns the default model id.
func (r *Registry) DefaultID() string {
	return r.defaultID
}
