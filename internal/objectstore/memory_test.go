// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package objectstore

import (
	"context"
	"io"
	"testing"
)

func TestMemoryStore_PutIsContentAddressed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	key1, err := store.Put(ctx, []byte("same bytes"), "text/plain")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	key2, err := store.Put(ctx, []byte("same bytes"), "text/plain")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if key1 != key2 {
		t.Errorf("Same content produced different keys: %s vs %s", key1, key2)
	}

	key3, err := store.Put(ctx, []byte("different bytes"), "text/plain")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if key3 == key1 {
		t.Errorf("Different content produced the same key: %s", key3)
	}
}

func TestMemoryStore_GetRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	content := []byte("The wingspan is 3.2 m.")
	key, err := store.Put(ctx, content, "text/plain")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rc, attrs, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	if string(data) != string(content) {
		t.Errorf("Content mismatch. Expected: %q, Got: %q", content, data)
	}
	if attrs.Size != int64(len(content)) {
		t.Errorf("Size mismatch. Expected: %d, Got: %d", len(content), attrs.Size)
	}
	if attrs.ContentType != "text/plain" {
		t.Errorf("ContentType mismatch. Got: %q", attrs.ContentType)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := NewMemoryStore()

	_, _, err := store.Get(context.Background(), "sha256/deadbeef")
	if err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got: %v", err)
	}
}

func TestMemoryStore_DeleteMissingIsNoError(t *testing.T) {
	store := NewMemoryStore()

	if err := store.Delete(context.Background(), "sha256/deadbeef"); err != nil {
		t.Errorf("Delete of missing key should not error, got: %v", err)
	}
}

func TestKeyForContent(t *testing.T) {
	key := KeyForContent([]byte("hello"))
	if len(key) != len("sha256/")+64 {
		t.Errorf("Unexpected key length: %d (%s)", len(key), key)
	}
	if HashFromKey(key) == key {
		t.Errorf("HashFromKey did not strip the prefix: %s", key)
	}
}
