// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package ai

import (
	"context"
	"sync"
)

// MockClient returns scripted replies for testing.
type MockClient struct {
	mu       sync.Mutex
	Response string
	Err      error
	Calls    []CompletionRequest
}

// NewMockClient creates a mock that always returns the given response.
func NewMockClient(response string) *MockClient {
	return &MockClient{Response: response}
}

// ID returns the model id.
func (c *MockClient) ID() string {
	return "mock-llm"
}

// Complete records the request and returns the scripted reply.
func (c *MockClient) Complete(ctx context.Context, req CompletionRequest) (string, *Usage, error) {
	c.mu.Lock()
	c.Calls = append(c.Calls, req)
	c.mu.Unlock()

	if c.Err != nil {
		return "", nil, c.Err
	}
	return c.Response, &Usage{Model: c.ID()}, nil
}
