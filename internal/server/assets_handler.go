// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/odras/ragcore/internal/database"
	"github.com/odras/ragcore/internal/jobs"
	"github.com/odras/ragcore/internal/pipeline"
)

// AssetsHandler serves the knowledge asset surface: upload, ingest, list,
// detail, delete.
type AssetsHandler struct {
	server *Server
}

// maxUploadBytes bounds multipart uploads.
const maxUploadBytes = 100 << 20

// HandleFiles handles POST /knowledge/files: multipart upload into the
// content-addressed object store plus the immutable file record.
func (h *AssetsHandler) HandleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	who := callerFromRequest(r)
	if who.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "project is required")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer part.Close()

	data, err := io.ReadAll(io.LimitReader(part, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read upload")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	visibility := r.FormValue("visibility")
	file, err := h.server.Pipeline.CreateFile(r.Context(), who.ProjectID, header.Filename, mimeType, who.UserID, data, visibility)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("upload failed: %v", err))
		return
	}

	writeJSON(w, http.StatusCreated, file)
}

// CreateAssetRequest is the POST /knowledge/assets payload.
type CreateAssetRequest struct {
	FileID            string `json:"file_id"`
	Title             string `json:"title"`
	DocumentType      string `json:"document_type"`
	ProcessingOptions struct {
		EmbeddingModelID string `json:"embedding_model_id"`
	} `json:"processing_options"`
}

// HandleCollection handles POST (ingest) and GET (list) on /knowledge/assets.
func (h *AssetsHandler) HandleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleCreate(w, r)
	case http.MethodGet:
		h.handleList(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *AssetsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	who := callerFromRequest(r)
	if who.ProjectID == "" && !who.Admin {
		writeError(w, http.StatusBadRequest, "project is required")
		return
	}

	var req CreateAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.FileID == "" {
		writeError(w, http.StatusBadRequest, "file_id is required")
		return
	}

	file, err := h.server.Files.GetByID(req.FileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Cross-project probes get the same answer as missing files.
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load file")
		return
	}
	if !who.Admin && file.ProjectID != who.ProjectID {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	asset, job, err := h.server.Pipeline.Ingest(r.Context(), req.FileID, pipeline.IngestOptions{
		Title:          req.Title,
		DocumentType:   req.DocumentType,
		EmbeddingModel: req.ProcessingOptions.EmbeddingModelID,
		CreatedBy:      who.UserID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("ingest failed: %v", err))
		return
	}

	if job != nil && h.server.Queue != nil {
		payload := jobs.IngestPayload{JobID: job.ID, AssetID: asset.ID}
		if err := jobs.EnqueueIngest(r.Context(), h.server.Queue, payload); err != nil {
			log.Printf("handleCreate: failed to enqueue job %s: %v", job.ID, err)
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"asset_id": asset.ID,
		"status":   asset.Status,
	})
}

func (h *AssetsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	who := callerFromRequest(r)
	projectID := r.URL.Query().Get("project")
	if projectID == "" {
		projectID = who.ProjectID
	}
	if !who.Admin && projectID != who.ProjectID {
		// Listing another project yields only what is public anyway.
		projectID = who.ProjectID
	}

	assets, err := h.server.Assets.ListVisible(projectID, who.Admin)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list assets")
		return
	}
	if assets == nil {
		assets = []database.KnowledgeAsset{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"assets": assets, "count": len(assets)})
}

// HandleItem handles GET and DELETE on /knowledge/assets/{id}.
func (h *AssetsHandler) HandleItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/knowledge/assets/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "asset not found")
		return
	}

	who := callerFromRequest(r)
	asset, err := h.server.Assets.GetByID(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "asset not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load asset")
		return
	}

	readable := who.Admin || asset.ProjectID == who.ProjectID || asset.Visibility == database.VisibilityPublic
	if !readable {
		// Do not leak existence across projects.
		writeError(w, http.StatusNotFound, "asset not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		response := map[string]interface{}{"asset": asset}
		if r.URL.Query().Get("include_chunks") == "true" {
			chunks, err := h.server.Chunks.ListByAsset(id)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to load chunks")
				return
			}
			if chunks == nil {
				chunks = []database.Chunk{}
			}
			response["chunks"] = chunks
		}
		if job, err := h.server.Jobs.GetByAsset(id); err == nil {
			response["job"] = job
		}
		writeJSON(w, http.StatusOK, response)

	case http.MethodDelete:
		// Only the owning project (or an admin) may delete; public assets
		// stay owned by their origin project.
		if !who.Admin && asset.ProjectID != who.ProjectID {
			writeError(w, http.StatusNotFound, "asset not found")
			return
		}
		if err := h.server.Pipeline.DeleteAsset(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("delete failed: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
