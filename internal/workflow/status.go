// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package workflow

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/odras/ragcore/internal/synthesizer"
)

// Status states reported to callers.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Status is the normalised view of an orchestrated query instance.
type Status struct {
	InstanceID string            `json:"instance_id"`
	State      string            `json:"state"`
	Response   *ResponseEnvelope `json:"response,omitempty"`
	Confidence string            `json:"confidence,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Adapter starts orchestrated queries and polls their status, normalising
// live and history variable shapes so callers see one format. It also
// enforces the per-instance deadline.
type Adapter struct {
	engine     Engine
	processKey string
	deadline   time.Duration

	mu       sync.Mutex
	started  map[string]time.Time
}

// NewAdapter creates a workflow adapter.
func NewAdapter(engine Engine, processKey string, deadline time.Duration) *Adapter {
	if processKey == "" {
		processKey = "rag_query"
	}
	if deadline <= 0 {
		deadline = 2 * time.Minute
	}
	return &Adapter{
		engine:     engine,
		processKey: processKey,
		deadline:   deadline,
		started:    make(map[string]time.Time),
	}
}

// StartQuery starts the orchestrated RAG query and returns the instance id.
func (a *Adapter) StartQuery(ctx context.Context, req QueryRequestEnvelope) (string, error) {
	env, err := PackEnvelope(req)
	if err != nil {
		return "", err
	}

	instanceID, err := a.engine.StartProcess(ctx, a.processKey, Variables{VarQueryRequest: env})
	if err != nil {
		return "", fmt.Errorf("failed to start process %s: %w", a.processKey, err)
	}

	a.mu.Lock()
	a.started[instanceID] = time.Now()
	a.mu.Unlock()

	return instanceID, nil
}

// GetStatus returns the instance state and, when completed, the final
// answer envelope. Missing or unparseable envelopes degrade to a text
// extraction with confidence "unknown" rather than an error.
func (a *Adapter) GetStatus(ctx context.Context, instanceID string) (*Status, error) {
	state, err := a.engine.InstanceState(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if state == InstanceRunning {
		if a.expired(instanceID) {
			log.Printf("GetStatus: instance %s exceeded deadline, cancelling", instanceID)
			if cerr := a.engine.CancelInstance(ctx, instanceID); cerr != nil {
				log.Printf("GetStatus: cancel failed for %s: %v", instanceID, cerr)
			}
			a.forget(instanceID)
			return &Status{
				InstanceID: instanceID,
				State:      StatusFailed,
				Confidence: synthesizer.ConfidenceUnknown,
				Error:      "workflow exceeded its deadline",
			}, nil
		}
		return &Status{InstanceID: instanceID, State: StatusRunning}, nil
	}

	a.forget(instanceID)

	vars, err := a.readVariables(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	status := &Status{InstanceID: instanceID, State: StatusCompleted}

	var response ResponseEnvelope
	if perr := ParseEnvelope(vars, VarLLMResponse, &response); perr == nil && response.Answer != "" {
		status.Response = &response
		if response.Confidence != nil {
			status.Confidence = synthesizer.NormalizeConfidence(*response.Confidence)
		} else {
			status.Confidence = synthesizer.ConfidenceUnknown
		}
		return status, nil
	}

	// Envelope lost or malformed: fall back to text extraction so the
	// caller still gets a structured response.
	text := RawEnvelopeText(vars, VarFinalResponse)
	if text == "" {
		text = RawEnvelopeText(vars, VarLLMRaw)
	}
	if text == "" {
		status.State = StatusFailed
		status.Confidence = synthesizer.ConfidenceUnknown
		status.Error = "final answer envelope missing"
		return status, nil
	}

	status.Response = &ResponseEnvelope{
		Answer:    strings.TrimSpace(text),
		KeyPoints: []string{},
		Metadata:  ResponseMetadata{},
	}
	status.Confidence = synthesizer.ConfidenceUnknown
	return status, nil
}

// Cancel terminates a running instance.
func (a *Adapter) Cancel(ctx context.Context, instanceID string) error {
	a.forget(instanceID)
	return a.engine.CancelInstance(ctx, instanceID)
}

// WaitForCompletion polls until the instance completes, fails, or the
// context/deadline expires. Used by the synchronous façade path.
func (a *Adapter) WaitForCompletion(ctx context.Context, instanceID string, pollInterval time.Duration) (*Status, error) {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, err := a.GetStatus(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		if status.State == StatusCompleted || status.State == StatusFailed {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// readVariables prefers the live API and falls back to history, because an
// ended instance's variables are only readable from history.
func (a *Adapter) readVariables(ctx context.Context, instanceID string) (Variables, error) {
	vars, err := a.engine.GetVariables(ctx, instanceID)
	if err == nil && len(vars) > 0 {
		return vars, nil
	}
	if err != nil {
		log.Printf("readVariables: live read failed for %s, trying history: %v", instanceID, err)
	}

	hvars, herr := a.engine.GetHistoryVariables(ctx, instanceID)
	if herr != nil {
		if err != nil {
			return nil, fmt.Errorf("variables unreadable live (%v) and from history (%v)", err, herr)
		}
		return nil, herr
	}
	return hvars, nil
}

func (a *Adapter) expired(instanceID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	startedAt, ok := a.started[instanceID]
	if !ok {
		// Instances started before a restart are not deadline-tracked.
		return false
	}
	return time.Since(startedAt) > a.deadline
}

func (a *Adapter) forget(instanceID string) {
	a.mu.Lock()
	delete(a.started, instanceID)
	a.mu.Unlock()
}
