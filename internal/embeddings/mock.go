// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// MockEmbedder generates deterministic embeddings for testing. Each word
// hashes to a fixed pseudo-random direction and the text embeds as the
// normalised sum, so texts sharing words score high cosine similarity and
// identical texts score 1.0.
type MockEmbedder struct {
	dim int
}

// NewMockEmbedder creates a new mock embedder with the specified dimension.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{dim: dim}
}

// ID returns the model id.
func (e *MockEmbedder) ID() string {
	return fmt.Sprintf("mock-%d", e.dim)
}

// Dimension returns the embedding dimension.
func (e *MockEmbedder) Dimension() int {
	return e.dim
}

// EmbedText generates a deterministic bag-of-words embedding.
func (e *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	embedding := make([]float32, e.dim)

	for _, word := range tokenizeWords(text) {
		for i := 0; i < e.dim; i++ {
			h := fnv.New32a()
			fmt.Fprintf(h, "%s:%d", word, i)
			// Map the hash onto [-1, 1).
			embedding[i] += float32(h.Sum32())/float32(math.MaxUint32)*2 - 1
		}
	}

	// Normalize the vector
	var sum float32
	for _, v := range embedding {
		sum += v * v
	}
	norm := float32(math.Sqrt(float64(sum)))
	if norm > 0 {
		for i := range embedding {
			embedding[i] /= norm
		}
	}

	return embedding, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i, text := range texts {
		embedding, err := e.EmbedText(ctx, text)
		if err != nil {
			return nil, err
		}
		result[i] = embedding
	}
	return result, nil
}

func tokenizeWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
