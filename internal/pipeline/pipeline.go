// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package pipeline

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odras/ragcore/internal/database"
	"github.com/odras/ragcore/internal/embeddings"
	"github.com/odras/ragcore/internal/objectstore"
	"github.com/odras/ragcore/internal/parser"
	"github.com/odras/ragcore/internal/processor"
	"github.com/odras/ragcore/internal/vectordb"
)

// chunkNamespace seeds deterministic chunk ids: re-processing the same asset
// produces the same point ids, so re-embedding overwrites cleanly.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("ragcore/chunks"))

// RetryableError wraps a transient failure: the job may be requeued and
// claimed by any worker.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether an ingestion failure is worth retrying.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Service orchestrates extract -> chunk -> embed -> persist with idempotent
// convergence across the metadata store, object store, and vector index.
type Service struct {
	files     *database.FileStore
	assets    *database.AssetStore
	chunks    *database.ChunkStore
	jobs      *database.JobStore
	objects   objectstore.Store
	vectors   vectordb.VectorDB
	embedders *embeddings.Registry

	chunkOpts       processor.Options
	parserVersion   string
	batchSize       int
	maxAttempts     int
	attemptDeadline time.Duration
}

// Options configure a pipeline service.
type Options struct {
	ChunkOptions    processor.Options
	ParserVersion   string
	BatchSize       int
	MaxAttempts     int
	AttemptDeadline time.Duration
}

// NewService creates the ingestion pipeline service.
func NewService(
	files *database.FileStore,
	assets *database.AssetStore,
	chunks *database.ChunkStore,
	jobs *database.JobStore,
	objects objectstore.Store,
	vectors vectordb.VectorDB,
	embedders *embeddings.Registry,
	opts Options,
) *Service {
	if opts.ParserVersion == "" {
		opts.ParserVersion = "v1"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.AttemptDeadline <= 0 {
		opts.AttemptDeadline = 5 * time.Minute
	}
	if opts.ChunkOptions.TargetTokens == 0 {
		opts.ChunkOptions = processor.DefaultOptions()
	}
	return &Service{
		files:     files,
		assets:    assets,
		chunks:    chunks,
		jobs:      jobs,
		objects:   objects,
		vectors:   vectors,
		embedders: embedders,

		chunkOpts:       opts.ChunkOptions,
		parserVersion:   opts.ParserVersion,
		batchSize:       opts.BatchSize,
		maxAttempts:     opts.MaxAttempts,
		attemptDeadline: opts.AttemptDeadline,
	}
}

// CreateFile stores uploaded bytes in the object store and records the
// immutable file row. Uploading identical bytes twice inside a project
// returns the existing file.
func (s *Service) CreateFile(ctx context.Context, projectID, filename, mimeType, createdBy string, data []byte, visibility string) (*database.File, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("file %s is empty", filename)
	}

	sum := sha256.Sum256(data)
	contentHash := hex.EncodeToString(sum[:])

	if existing, err := s.files.GetByContentHash(projectID, contentHash); err == nil {
		return existing, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check existing file: %w", err)
	}

	key, err := s.objects.Put(ctx, data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to store file bytes: %w", err)
	}

	file := &database.File{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Filename:    filename,
		MimeType:    mimeType,
		Size:        int64(len(data)),
		ContentHash: contentHash,
		StorageKey:  key,
		Visibility:  visibility,
		CreatedBy:   createdBy,
	}
	if err := s.files.Create(file); err != nil {
		return nil, fmt.Errorf("failed to create file record: %w", err)
	}
	return file, nil
}

// IngestOptions carry per-asset processing choices.
type IngestOptions struct {
	Title          string
	DocumentType   string
	EmbeddingModel string
	CreatedBy      string
}

// Ingest creates (or finds) the knowledge asset for a file and enqueues a
// processing job. Re-ingesting the same file with the same parser version
// and embedding model is a no-op returning the existing asset; a different
// model creates a new asset and leaves the old one intact.
func (s *Service) Ingest(ctx context.Context, fileID string, opts IngestOptions) (*database.KnowledgeAsset, *database.ProcessingJob, error) {
	file, err := s.files.GetByID(fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("file %s not found", fileID)
		}
		return nil, nil, fmt.Errorf("failed to load file: %w", err)
	}

	modelID := opts.EmbeddingModel
	if modelID == "" {
		modelID = s.embedders.DefaultID()
	}
	if _, err := s.embedders.Get(modelID); err != nil {
		return nil, nil, err
	}

	existing, err := s.assets.GetByIngestKey(fileID, s.parserVersion, modelID)
	if err == nil {
		job, jobErr := s.jobs.GetByAsset(existing.ID)
		if jobErr != nil && !errors.Is(jobErr, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("failed to load job: %w", jobErr)
		}

		if existing.Status == database.AssetStatusFailed && job != nil && job.Retryable {
			// A failed retryable asset gets another pass through the queue.
			if _, err := s.jobs.Requeue(job.ID); err != nil {
				return nil, nil, fmt.Errorf("failed to requeue job: %w", err)
			}
		}
		return existing, job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("failed to check existing asset: %w", err)
	}

	title := opts.Title
	if title == "" {
		title = file.Filename
	}

	asset := &database.KnowledgeAsset{
		ID:             uuid.NewString(),
		FileID:         file.ID,
		ProjectID:      file.ProjectID,
		Title:          title,
		DocumentType:   opts.DocumentType,
		Visibility:     file.Visibility,
		EmbeddingModel: modelID,
		ParserVersion:  s.parserVersion,
		IRI:            file.IRI,
		CreatedBy:      opts.CreatedBy,
	}
	if err := s.assets.Create(asset); err != nil {
		return nil, nil, fmt.Errorf("failed to create asset: %w", err)
	}

	job := &database.ProcessingJob{ID: uuid.NewString(), AssetID: asset.ID}
	if err := s.jobs.Create(job); err != nil {
		return nil, nil, fmt.Errorf("failed to create job: %w", err)
	}

	return asset, job, nil
}

// Process runs one attempt of a processing job. It is the worker entry
// point: claiming is a compare-and-set, so concurrent workers race safely.
func (s *Service) Process(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetByID(jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	claimed, err := s.jobs.Claim(jobID)
	if err != nil {
		return fmt.Errorf("failed to claim job %s: %w", jobID, err)
	}
	if !claimed {
		log.Printf("Process: job %s not claimable, skipping", jobID)
		return nil
	}
	attempt := job.Attempts + 1

	asset, err := s.assets.GetByID(job.AssetID)
	if err != nil {
		failErr := fmt.Errorf("failed to load asset %s: %w", job.AssetID, err)
		s.jobs.MarkFailed(jobID, failErr.Error(), false)
		return failErr
	}

	// pending and failed assets may enter processing; ready assets are done.
	if ok, _ := s.assets.TransitionStatus(asset.ID, database.AssetStatusPending, database.AssetStatusProcessing); !ok {
		if ok2, _ := s.assets.TransitionStatus(asset.ID, database.AssetStatusFailed, database.AssetStatusProcessing); !ok2 {
			current, _ := s.assets.GetByID(asset.ID)
			if current != nil && current.Status == database.AssetStatusReady {
				log.Printf("Process: asset %s already ready, marking job %s succeeded", asset.ID, jobID)
				return s.jobs.MarkSucceeded(jobID)
			}
			if current == nil || current.Status != database.AssetStatusProcessing {
				s.jobs.MarkFailed(jobID, "asset not in a processable state", false)
				return nil
			}
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.attemptDeadline)
	defer cancel()

	procErr := s.processAttempt(attemptCtx, asset)
	if procErr == nil {
		if err := s.jobs.MarkSucceeded(jobID); err != nil {
			return fmt.Errorf("failed to mark job succeeded: %w", err)
		}
		log.Printf("Process: asset %s ready (job %s, attempt %d)", asset.ID, jobID, attempt)
		return nil
	}

	retryable := IsRetryable(procErr) || errors.Is(procErr, context.DeadlineExceeded)
	if retryable && attempt < s.maxAttempts {
		// Partial chunks and points from this attempt stay in place; the
		// retry overwrites them keyed by (asset, seq) and point id.
		s.jobs.MarkFailed(jobID, trimError(procErr.Error()), true)
		s.jobs.Requeue(jobID)
		s.assets.TransitionStatus(asset.ID, database.AssetStatusProcessing, database.AssetStatusPending)
		log.Printf("Process: job %s attempt %d/%d failed (transient): %v", jobID, attempt, s.maxAttempts, procErr)
		return &RetryableError{Err: procErr}
	}

	s.jobs.MarkFailed(jobID, trimError(procErr.Error()), false)
	s.assets.MarkFailed(asset.ID, trimError(procErr.Error()))
	log.Printf("Process: job %s failed permanently: %v", jobID, procErr)
	return procErr
}

// processAttempt does the actual extract -> chunk -> embed -> persist work.
// Ordering matters: chunk rows first, vector points second, asset ready
// last, so any ready asset has all its vectors queryable.
func (s *Service) processAttempt(ctx context.Context, asset *database.KnowledgeAsset) error {
	file, err := s.files.GetByID(asset.FileID)
	if err != nil {
		return fmt.Errorf("failed to load file %s: %w", asset.FileID, err)
	}

	rc, _, err := s.objects.Get(ctx, file.StorageKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return fmt.Errorf("file bytes missing from object store (%s)", file.StorageKey)
		}
		return &RetryableError{Err: fmt.Errorf("object store read failed: %w", err)}
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return &RetryableError{Err: fmt.Errorf("object store read failed: %w", err)}
	}

	doc, err := parser.Parse(data, file.Filename, file.MimeType)
	if err != nil {
		if errors.Is(err, parser.ErrNoContent) {
			return fmt.Errorf("empty document: %w", err)
		}
		return fmt.Errorf("parse failed: %w", err)
	}

	chunker := processor.NewChunkerWithOptions(s.chunkOpts)
	pieces, err := chunker.ChunkDocument(doc)
	if err != nil {
		if errors.Is(err, processor.ErrEmptyDocument) {
			return fmt.Errorf("empty document: %w", err)
		}
		return fmt.Errorf("chunking failed: %w", err)
	}

	embedder, err := s.embedders.Get(asset.EmbeddingModel)
	if err != nil {
		return err
	}
	dim := embedder.Dimension()

	// Persist all chunk rows first. Ids are deterministic, so a retry
	// overwrites rather than duplicates.
	records := make([]database.Chunk, len(pieces))
	totalTokens := 0
	for i, piece := range pieces {
		chunkID := uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s/%d", asset.ID, piece.Seq))).String()
		contentSum := sha256.Sum256([]byte(piece.Content))

		records[i] = database.Chunk{
			ID:             chunkID,
			AssetID:        asset.ID,
			Seq:            piece.Seq,
			ChunkType:      piece.Type,
			SectionPath:    piece.SectionPath,
			Page:           piece.Page,
			TokenCount:     piece.TokenCount,
			Content:        piece.Content,
			ContentHash:    hex.EncodeToString(contentSum[:]),
			VectorPointID:  chunkID,
			EmbeddingModel: asset.EmbeddingModel,
			Mojibake:       doc.Mojibake,
		}
		totalTokens += piece.TokenCount

		if err := s.chunks.Upsert(&records[i]); err != nil {
			return fmt.Errorf("failed to persist chunk %d: %w", piece.Seq, err)
		}
	}

	// Embed in batches and upsert vector points.
	for start := 0; start < len(records); start += s.batchSize {
		end := start + s.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		texts := make([]string, len(batch))
		for i, rec := range batch {
			texts[i] = rec.Content
		}

		vecs, err := s.embedBatchWithRetry(ctx, embedder, texts)
		if err != nil {
			if embeddings.IsTransient(err) {
				return &RetryableError{Err: err}
			}
			return err
		}

		points := make([]vectordb.Point, len(batch))
		for i, rec := range batch {
			if len(vecs[i]) != dim {
				return fmt.Errorf("embedding dimension mismatch: model %s returned %d, expected %d", asset.EmbeddingModel, len(vecs[i]), dim)
			}
			points[i] = vectordb.Point{
				ID:     rec.ID,
				Vector: vecs[i],
				Payload: vectordb.Payload{
					AssetID:        asset.ID,
					ProjectID:      asset.ProjectID,
					Visibility:     asset.Visibility,
					DocumentType:   asset.DocumentType,
					Content:        rec.Content,
					SectionPath:    rec.SectionPath,
					EmbeddingModel: asset.EmbeddingModel,
					Seq:            rec.Seq,
					Page:           rec.Page,
				},
			}
		}

		if err := s.vectors.Upsert(ctx, dim, points); err != nil {
			return &RetryableError{Err: fmt.Errorf("vector upsert failed: %w", err)}
		}
	}

	ok, err := s.assets.MarkReady(asset.ID, len(records), totalTokens)
	if err != nil {
		return fmt.Errorf("failed to mark asset ready: %w", err)
	}
	if !ok {
		// Another worker finished first; idempotent convergence.
		log.Printf("processAttempt: asset %s already transitioned, leaving as-is", asset.ID)
	}
	return nil
}

// embedBatchWithRetry retries transient provider errors with exponential
// backoff inside one attempt, bounded so the per-attempt deadline governs.
func (s *Service) embedBatchWithRetry(ctx context.Context, embedder embeddings.Embedder, texts []string) ([][]float32, error) {
	backoff := time.Second
	var lastErr error
	for try := 0; try < 3; try++ {
		vecs, err := embedder.EmbedBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !embeddings.IsTransient(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

// DeleteAsset cascades an asset delete to chunks and vector points.
func (s *Service) DeleteAsset(ctx context.Context, assetID string) error {
	asset, err := s.assets.GetByID(assetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to load asset: %w", err)
	}

	if embedder, err := s.embedders.Get(asset.EmbeddingModel); err == nil {
		if err := s.vectors.DeleteByAsset(ctx, embedder.Dimension(), assetID); err != nil {
			return fmt.Errorf("failed to delete vector points: %w", err)
		}
	} else {
		log.Printf("DeleteAsset: model %s not configured, skipping vector cleanup for asset %s", asset.EmbeddingModel, assetID)
	}

	if err := s.chunks.DeleteByAsset(assetID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return s.assets.Delete(assetID)
}

// DeleteFile cascades a file delete to all its assets.
func (s *Service) DeleteFile(ctx context.Context, fileID string) error {
	file, err := s.files.GetByID(fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to load file: %w", err)
	}

	assets, err := s.assets.ListByFile(fileID)
	if err != nil {
		return fmt.Errorf("failed to list assets: %w", err)
	}
	for _, a := range assets {
		if err := s.DeleteAsset(ctx, a.ID); err != nil {
			return err
		}
	}

	if err := s.objects.Delete(ctx, file.StorageKey); err != nil {
		log.Printf("DeleteFile: object delete failed for %s: %v", file.StorageKey, err)
	}
	return s.files.Delete(fileID)
}

// Reconcile repairs the metadata/vector split for a ready asset: when the
// point count disagrees with the chunk count, every chunk is re-embedded and
// upserted. Returns the number of points written.
func (s *Service) Reconcile(ctx context.Context, assetID string) (int, error) {
	asset, err := s.assets.GetByID(assetID)
	if err != nil {
		return 0, fmt.Errorf("failed to load asset: %w", err)
	}
	if asset.Status != database.AssetStatusReady {
		return 0, fmt.Errorf("asset %s is %s, only ready assets reconcile", assetID, asset.Status)
	}

	embedder, err := s.embedders.Get(asset.EmbeddingModel)
	if err != nil {
		return 0, err
	}
	dim := embedder.Dimension()

	pointCount, err := s.vectors.CountByAsset(ctx, dim, assetID)
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	if pointCount == asset.ChunkCount {
		return 0, nil
	}

	log.Printf("Reconcile: asset %s has %d chunks but %d points, re-embedding", assetID, asset.ChunkCount, pointCount)

	records, err := s.chunks.ListByAsset(assetID)
	if err != nil {
		return 0, fmt.Errorf("failed to list chunks: %w", err)
	}

	written := 0
	for start := 0; start < len(records); start += s.batchSize {
		end := start + s.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		texts := make([]string, len(batch))
		for i, rec := range batch {
			texts[i] = rec.Content
		}
		vecs, err := s.embedBatchWithRetry(ctx, embedder, texts)
		if err != nil {
			return written, err
		}

		points := make([]vectordb.Point, len(batch))
		for i, rec := range batch {
			points[i] = vectordb.Point{
				ID:     rec.VectorPointID,
				Vector: vecs[i],
				Payload: vectordb.Payload{
					AssetID:        asset.ID,
					ProjectID:      asset.ProjectID,
					Visibility:     asset.Visibility,
					DocumentType:   asset.DocumentType,
					Content:        rec.Content,
					SectionPath:    rec.SectionPath,
					EmbeddingModel: asset.EmbeddingModel,
					Seq:            rec.Seq,
					Page:           rec.Page,
				},
			}
		}
		if err := s.vectors.Upsert(ctx, dim, points); err != nil {
			return written, fmt.Errorf("vector upsert failed: %w", err)
		}
		written += len(points)
	}

	return written, nil
}

// trimError keeps failure reasons readable in the asset row.
func trimError(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) > 500 {
		return msg[:500]
	}
	return msg
}
