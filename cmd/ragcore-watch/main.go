// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/odras/ragcore/internal/parser"
)

var (
	serverURL = flag.String("server", "http://localhost:8081", "ragcore server base URL")
	watchDir  = flag.String("dir", "./watch", "Directory to watch for documents")
	projectID = flag.String("project", "", "Project id to ingest into (required)")
	userID    = flag.String("user", "ragcore-watch", "User id recorded on uploads")
	debounce  = flag.Duration("debounce", 2*time.Second, "Quiet period before a changed file is ingested")
)

// watcher uploads and ingests documents dropped into a folder. Editors fire
// many write events per save, so each path is debounced before upload.
type watcher struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	client *http.Client
}

func main() {
	flag.Parse()

	if *projectID == "" {
		log.Fatal("-project is required")
	}

	if err := os.MkdirAll(*watchDir, 0755); err != nil {
		log.Fatalf("failed to create watch directory: %v", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Fatalf("failed to create watcher: %v", err)
	}
	defer fsWatcher.Close()

	if err := fsWatcher.Add(*watchDir); err != nil {
		log.Fatalf("failed to watch %s: %v", *watchDir, err)
	}

	w := &watcher{
		timers: make(map[string]*time.Timer),
		client: &http.Client{Timeout: 2 * time.Minute},
	}

	log.Printf("Watching %s for documents (project %s)", *watchDir, *projectID)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("watcher error: %v", err)

		case <-stop:
			log.Printf("Stopping")
			return
		}
	}
}

// schedule (re)arms the debounce timer for a path.
func (w *watcher) schedule(path string) {
	if parser.IsTemporaryFile(path) || !parser.IsSupported(path, "") {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[path]; ok {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(*debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		if err := w.ingest(path); err != nil {
			log.Printf("ingest failed for %s: %v", path, err)
		}
	})
}

// ingest uploads the file and creates its knowledge asset.
func (w *watcher) ingest(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read failed: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("file is empty")
	}

	filename := filepath.Base(path)
	log.Printf("Uploading %s (%d bytes)", filename, len(data))

	fileID, err := w.upload(filename, data)
	if err != nil {
		return err
	}

	body := fmt.Sprintf(`{"file_id": %q, "title": %q}`, fileID, filename)
	req, err := http.NewRequest(http.MethodPost, *serverURL+"/knowledge/assets", strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Project-ID", *projectID)
	req.Header.Set("X-User-ID", *userID)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("asset create failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("asset create returned %d: %s", resp.StatusCode, string(msg))
	}

	log.Printf("Ingest queued for %s", filename)
	return nil
}

func (w *watcher) upload(filename string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	part, err := mw.CreatePart(map[string][]string{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename=%q`, filename)},
		"Content-Type":        {contentType},
	})
	if err != nil {
		return "", err
	}
	part.Write(data)
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, *serverURL+"/knowledge/files", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Project-ID", *projectID)
	req.Header.Set("X-User-ID", *userID)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload returned %d: %s", resp.StatusCode, string(msg))
	}

	var file struct {
		ID string `json:"id"`
	}
	if err := jsonDecode(resp.Body, &file); err != nil {
		return "", err
	}
	return file.ID, nil
}

func jsonDecode(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}
