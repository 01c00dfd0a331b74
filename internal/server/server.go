// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"encoding/json"
	"net/http"

	"github.com/odras/ragcore/internal/ai"
	"github.com/odras/ragcore/internal/database"
	"github.com/odras/ragcore/internal/pipeline"
	"github.com/odras/ragcore/internal/queue"
	"github.com/odras/ragcore/internal/retriever"
	"github.com/odras/ragcore/internal/synthesizer"
	"github.com/odras/ragcore/internal/vectordb"
	"github.com/odras/ragcore/internal/workflow"
)

// Server wires the HTTP façade. Authentication lives upstream; the host
// platform forwards the caller's identity in trusted headers.
type Server struct {
	Pipeline    *pipeline.Service
	Retriever   *retriever.Retriever
	Synthesizer *synthesizer.Synthesizer
	Workflow    *workflow.Adapter
	LLM         ai.Client

	Files    *database.FileStore
	Assets   *database.AssetStore
	Chunks   *database.ChunkStore
	Jobs     *database.JobStore
	QueryLog *database.QueryLogStore
	Vectors  vectordb.VectorDB

	Queue queue.Queue
}

// Routes builds the HTTP mux for the knowledge and RAG surface.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	assetsHandler := &AssetsHandler{server: s}
	mux.HandleFunc("/knowledge/files", assetsHandler.HandleFiles)
	mux.HandleFunc("/knowledge/assets", assetsHandler.HandleCollection)
	mux.HandleFunc("/knowledge/assets/", assetsHandler.HandleItem)

	searchHandler := &SearchHandler{server: s}
	mux.HandleFunc("/knowledge/search", searchHandler.HandleSearch)

	ragHandler := &RAGHandler{server: s}
	mux.HandleFunc("/rag/query", ragHandler.HandleQuery)

	workflowHandler := &WorkflowHandler{server: s}
	mux.HandleFunc("/workflows/rag-query", workflowHandler.HandleStart)
	mux.HandleFunc("/workflows/rag-query/", workflowHandler.HandleStatus)

	mux.HandleFunc("/health", s.HandleHealth)
	mux.HandleFunc("/stats", s.HandleStats)
	mux.HandleFunc("/ws/logs", HandleLogSocket)

	return mux
}

// caller identifies the authenticated principal forwarded by the host.
type caller struct {
	ProjectID string
	UserID    string
	Admin     bool
}

// callerFromRequest reads the identity headers. The façade rejects requests
// with no project unless the caller is an admin.
func callerFromRequest(r *http.Request) caller {
	return caller{
		ProjectID: r.Header.Get("X-Project-ID"),
		UserID:    r.Header.Get("X-User-ID"),
		Admin:     r.Header.Get("X-Admin") == "true",
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
