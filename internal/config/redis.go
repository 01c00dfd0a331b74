// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package config

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a Redis client from environment variables.
// Reads REDIS_ADDR (default: 127.0.0.1:6379), REDIS_DB (default: 0), and
// REDIS_PASSWORD (optional). The connection is pinged before returning.
func NewRedisClient(ctx context.Context) (*redis.Client, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}

	db := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		parsed, err := strconv.Atoi(dbStr)
		if err != nil {
			log.Printf("NewRedisClient: invalid REDIS_DB value '%s', using default 0", dbStr)
		} else {
			db = parsed
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		Password: os.Getenv("REDIS_PASSWORD"),
	})

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("NewRedisClient: failed to ping Redis at %s: %v", addr, err)
		return nil, err
	}

	log.Printf("NewRedisClient: connected to Redis at %s db=%d", addr, db)
	return client, nil
}
