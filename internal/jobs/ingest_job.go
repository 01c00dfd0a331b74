// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package jobs

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/odras/ragcore/internal/pipeline"
	"github.com/odras/ragcore/internal/queue"
)

const JobTypeIngest = "ingest"

// IngestPayload identifies the processing job a worker should run. The job
// row in the metadata store holds the real state; the queue message is just
// the wake-up.
type IngestPayload struct {
	JobID   string `json:"jobId"`
	AssetID string `json:"assetId"`
}

// NewIngestJob creates a queue job for a processing job id.
func NewIngestJob(payload IngestPayload) (queue.Job, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return queue.Job{}, err
	}
	return queue.Job{
		Type:      JobTypeIngest,
		Payload:   payloadJSON,
		CreatedAt: time.Now(),
	}, nil
}

// EnqueueIngest enqueues a wake-up for a processing job.
func EnqueueIngest(ctx context.Context, q queue.Queue, payload IngestPayload) error {
	job, err := NewIngestJob(payload)
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, job)
}

// HandleIngest runs one ingestion attempt. Transient failures re-enqueue the
// job so any worker can resume it; permanent failures end here (the pipeline
// has already marked the asset failed).
func HandleIngest(ctx context.Context, svc *pipeline.Service, q queue.Queue, job queue.Job) error {
	var payload IngestPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		log.Printf("HandleIngest: invalid payload: %v", err)
		return err
	}

	err := svc.Process(ctx, payload.JobID)
	if err == nil {
		return nil
	}

	if pipeline.IsRetryable(err) {
		log.Printf("HandleIngest: job %s transient failure, re-enqueueing: %v", payload.JobID, err)
		if qerr := EnqueueIngest(ctx, q, payload); qerr != nil {
			log.Printf("HandleIngest: re-enqueue failed for job %s: %v", payload.JobID, qerr)
			return qerr
		}
		return nil
	}

	return err
}
