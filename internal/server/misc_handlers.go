// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"net/http"
)

// HandleHealth handles GET /health requests.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "up",
		"version":  "1.0",
		"queue":    s.Queue != nil,
		"workflow": s.Workflow != nil,
	})
}

// HandleStats handles GET /stats: asset counts by status for the caller's
// visible scope.
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	who := callerFromRequest(r)
	if who.ProjectID == "" && !who.Admin {
		writeError(w, http.StatusBadRequest, "project is required")
		return
	}

	counts, err := s.Assets.CountByStatus(who.ProjectID, who.Admin)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"assets_by_status": counts})
}
