// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package ai

import (
	"context"
	"fmt"
)

// Usage reports token consumption for one completion call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Model        string
}

// CompletionRequest is one chat completion call.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Client is a pluggable language model provider.
type Client interface {
	// ID returns the model id recorded on query records.
	ID() string

	// Complete returns the model's reply text for a prompt.
	Complete(ctx context.Context, req CompletionRequest) (string, *Usage, error)
}

// ProviderError is returned for provider HTTP failures.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("language model provider error (status %d): %s", e.StatusCode, e.Message)
}
