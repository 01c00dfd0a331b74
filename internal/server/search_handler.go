// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/odras/ragcore/internal/retriever"
)

// SearchRequest is the POST /knowledge/search payload.
type SearchRequest struct {
	Query   string `json:"query"`
	Filters struct {
		DocumentTypes []string `json:"document_type,omitempty"`
		AssetID       string   `json:"asset_id,omitempty"`
	} `json:"filters"`
	Limit    int     `json:"limit"`
	MinScore float64 `json:"min_score"`
}

// SearchResponse is the ranked chunk list.
type SearchResponse struct {
	Matches []retriever.Result `json:"matches"`
	Count   int                `json:"count"`
}

// SearchHandler serves direct vector search over the knowledge base.
type SearchHandler struct {
	server *Server
}

// HandleSearch handles POST /knowledge/search requests.
func (h *SearchHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	who := callerFromRequest(r)
	if who.ProjectID == "" && !who.Admin {
		writeError(w, http.StatusBadRequest, "project is required")
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := h.server.Retriever.Retrieve(r.Context(), retriever.Request{
		Query:         req.Query,
		ProjectID:     who.ProjectID,
		Admin:         who.Admin,
		AssetID:       req.Filters.AssetID,
		DocumentTypes: req.Filters.DocumentTypes,
		TopK:          req.Limit,
		Threshold:     float32(req.MinScore),
	})
	if err != nil {
		if errors.Is(err, retriever.ErrQueryTooShort) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("search failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, SearchResponse{Matches: results, Count: len(results)})
}
