// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/odras/ragcore/internal/logger"
)

var logUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The host platform fronts this endpoint; origin policy lives there.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleLogSocket streams server log lines over a WebSocket for the
// operations view.
func HandleLogSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := logUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("HandleLogSocket: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	logChan := logger.GetDefault().Subscribe()
	if logChan == nil {
		conn.WriteMessage(websocket.TextMessage, []byte("log stream unavailable"))
		return
	}
	defer logger.GetDefault().Unsubscribe(logChan)

	log.Printf("HandleLogSocket: client connected")

	// Reader goroutine notices client disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case line, ok := <-logChan:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		case <-done:
			log.Printf("HandleLogSocket: client disconnected")
			return
		case <-r.Context().Done():
			return
		}
	}
}
