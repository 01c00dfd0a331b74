// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/odras/ragcore/internal/database"
	"github.com/odras/ragcore/internal/retriever"
	"github.com/odras/ragcore/internal/synthesizer"
	"github.com/odras/ragcore/internal/workflow"
)

// RAGQueryRequest is the POST /rag/query payload.
type RAGQueryRequest struct {
	Question string `json:"question"`
	Context  struct {
		ProjectID      string   `json:"project_id"`
		ConversationID string   `json:"conversation_id,omitempty"`
		DomainFilters  []string `json:"domain_filters,omitempty"`
	} `json:"context"`
	Options struct {
		MaxChunks    int     `json:"max_chunks"`
		MinRelevance float64 `json:"min_relevance"`
		UseWorkflow  bool    `json:"use_workflow"`
	} `json:"options"`
}

// RAGHandler answers questions, either synchronously or through the
// orchestrated workflow, and always returns a normalised answer object.
type RAGHandler struct {
	server *Server
}

// HandleQuery handles POST /rag/query.
func (h *RAGHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	who := callerFromRequest(r)

	var req RAGQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	projectID := req.Context.ProjectID
	if projectID == "" {
		projectID = who.ProjectID
	}
	if projectID == "" && !who.Admin {
		writeError(w, http.StatusBadRequest, "project is required")
		return
	}
	if !who.Admin && projectID != who.ProjectID {
		writeError(w, http.StatusForbidden, "cross-project queries are not allowed")
		return
	}

	start := time.Now()

	var answer *synthesizer.Answer
	var err error
	if req.Options.UseWorkflow && h.server.Workflow != nil {
		answer, err = h.queryViaWorkflow(r, req, who, projectID)
	} else {
		answer, err = h.querySync(r, req, who, projectID)
	}
	if err != nil {
		if errors.Is(err, retriever.ErrQueryTooShort) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
		return
	}

	h.logQuery(projectID, who.UserID, req, answer, time.Since(start))

	writeJSON(w, http.StatusOK, answer)
}

func (h *RAGHandler) querySync(r *http.Request, req RAGQueryRequest, who caller, projectID string) (*synthesizer.Answer, error) {
	results, err := h.server.Retriever.Retrieve(r.Context(), retriever.Request{
		Query:         req.Question,
		ProjectID:     projectID,
		Admin:         who.Admin,
		DocumentTypes: req.Context.DomainFilters,
		TopK:          req.Options.MaxChunks,
		Threshold:     float32(req.Options.MinRelevance),
	})
	if err != nil {
		return nil, err
	}

	return h.server.Synthesizer.Answer(r.Context(), req.Question, results)
}

func (h *RAGHandler) queryViaWorkflow(r *http.Request, req RAGQueryRequest, who caller, projectID string) (*synthesizer.Answer, error) {
	instanceID, err := h.server.Workflow.StartQuery(r.Context(), workflow.QueryRequestEnvelope{
		Question:      req.Question,
		ProjectID:     projectID,
		UserID:        who.UserID,
		Admin:         who.Admin,
		DocumentTypes: req.Context.DomainFilters,
		MaxChunks:     req.Options.MaxChunks,
		MinRelevance:  req.Options.MinRelevance,
	})
	if err != nil {
		return nil, err
	}

	status, err := h.server.Workflow.WaitForCompletion(r.Context(), instanceID, 0)
	if err != nil {
		return nil, err
	}

	return answerFromStatus(status), nil
}

// answerFromStatus maps a workflow status to the normalised answer shape the
// UI consumes from the synchronous path.
func answerFromStatus(status *workflow.Status) *synthesizer.Answer {
	answer := &synthesizer.Answer{
		Confidence: synthesizer.ConfidenceUnknown,
		Citations:  []synthesizer.Citation{},
	}

	if status.Response == nil {
		answer.Answer = synthesizer.FallbackAnswer
		answer.Metadata.Error = status.Error
		return answer
	}

	answer.Answer = status.Response.Answer
	if status.Confidence != "" {
		answer.Confidence = status.Confidence
	}
	answer.KeyPoints = status.Response.KeyPoints
	for _, c := range status.Response.Metadata.Citations {
		answer.Citations = append(answer.Citations, synthesizer.Citation{
			ChunkID: c.ChunkID, AssetID: c.AssetID, Seq: c.Seq,
			SectionPath: c.SectionPath, Page: c.Page, Score: c.Score,
		})
	}
	answer.Metadata.LLMCalled = status.Response.Metadata.LLMCalled
	answer.Metadata.ContextLength = status.Response.Metadata.ContextLength
	answer.Metadata.ChunksFound = status.Response.Metadata.ChunksFound
	answer.Metadata.Error = status.Response.Metadata.Error
	return answer
}

func (h *RAGHandler) logQuery(projectID, userID string, req RAGQueryRequest, answer *synthesizer.Answer, latency time.Duration) {
	if h.server.QueryLog == nil {
		return
	}

	citations, _ := json.Marshal(answer.Citations)
	record := &database.QueryRecord{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		UserID:     userID,
		Question:   req.Question,
		TopK:       req.Options.MaxChunks,
		Threshold:  req.Options.MinRelevance,
		Answer:     answer.Answer,
		Confidence: answer.Confidence,
		Citations:  citations,
		LatencyMs:  latency.Milliseconds(),
	}
	if err := h.server.QueryLog.Log(record); err != nil {
		log.Printf("logQuery: failed to persist query record: %v", err)
	}
}
