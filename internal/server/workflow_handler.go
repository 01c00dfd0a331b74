// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/odras/ragcore/internal/workflow"
)

// WorkflowHandler exposes the orchestrated query variant.
type WorkflowHandler struct {
	server *Server
}

// HandleStart handles POST /workflows/rag-query.
func (h *WorkflowHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.server.Workflow == nil {
		writeError(w, http.StatusServiceUnavailable, "workflow engine is not configured")
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
		writeError(w, http.StatusBadGateway, fmt.Sprintf("failed to start workflow: %v", err))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"instance_id": instanceID})
}

// HandleStatus handles GET /workflows/rag-query/{id}/status.
func (h *WorkflowHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.server.Workflow == nil {
		writeError(w, http.StatusServiceUnavailable, "workflow engine is not configured")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/workflows/rag-query/")
	if !strings.HasSuffix(path, "/status") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	instanceID := strings.TrimSuffix(path, "/status")
	if instanceID == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	status, err := h.server.Workflow.GetStatus(r.Context(), instanceID)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("failed to read status: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, status)
}
