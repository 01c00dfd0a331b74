// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue using Redis Lists. It is the hand-off between
// the ingest façade and the worker pool: the pool bounds in-flight jobs, the
// list absorbs bursts.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a new Redis-backed queue on the given list key.
func NewRedisQueue(client *redis.Client, key string) (Queue, error) {
	if key == "" {
		key = "ragcore:ingest"
	}

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("NewRedisQueue: failed to ping Redis: %v", err)
		return nil, err
	}

	log.Printf("NewRedisQueue: key=%s", key)
	return &RedisQueue{client: client, key: key}, nil
}

// Enqueue adds a job to the queue using RPUSH.
func (r *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		log.Printf("Enqueue: failed to marshal job: %v", err)
		return err
	}

	if err := r.client.RPush(ctx, r.key, data).Err(); err != nil {
		log.Printf("Enqueue: failed to push to Redis: %v", err)
		return err
	}

	log.Printf("Enqueue: queued job type=%s payloadSize=%d", job.Type, len(data))
	return nil
}

// Dequeue blocks until a job is available using BLPOP, then returns it.
func (r *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	type result struct {
		val []string
		err error
	}
	resultChan := make(chan result, 1)

	go func() {
		val, err := r.client.BLPop(ctx, 0, r.key).Result()
		resultChan <- result{val: val, err: err}
	}()

	select {
	case <-ctx.Done():
		return Job{}, ctx.Err()
	case res := <-resultChan:
		if res.err != nil {
			if res.err == redis.Nil {
				return Job{}, ctx.Err()
			}
			log.Printf("Dequeue: failed to pop from Redis: %v", res.err)
			return Job{}, res.err
		}

		if len(res.val) < 2 {
			return Job{}, fmt.Errorf("invalid result from Redis: expected 2 elements, got %d", len(res.val))
		}

		var job Job
		if err := json.Unmarshal([]byte(res.val[1]), &job); err != nil {
			log.Printf("Dequeue: failed to unmarshal job: %v", err)
			return Job{}, err
		}

		return job, nil
	}
}
