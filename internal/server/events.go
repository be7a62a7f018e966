// ABOUTME: Push event streams for front ends: SSE and a WebSocket variant
// ABOUTME: New subscribers get an immediate status replay so they never wait for a poll tick
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/alphalpha/live-input-to-airplay/internal/defaults"
	"github.com/alphalpha/live-input-to-airplay/internal/hub"
	"github.com/alphalpha/live-input-to-airplay/pkg/model"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	// The daemon serves trusted local networks only; front ends connect
	// from arbitrary LAN origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// replay pushes the present state into a fresh subscription: always a
// status frame, plus an outputs frame when both services are up. A new
// subscriber must not wait for the next watcher tick to learn state.
func (s *Server) replay(r *http.Request, sub *hub.Subscriber) {
	status := s.currentStatus(r)
	sub.C <- model.NewStatusEvent(status)

	if !status.BothActive {
		return
	}
	outs, err := s.outputs.ListOutputs(r.Context())
	if err != nil {
		s.logger.Debug("initial outputs replay failed", zap.Error(err))
		return
	}
	outs = defaults.Annotate(outs, s.defaults.Read())
	sub.C <- model.NewOutputsEvent(outs)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	s.replay(r, sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case msg := <-sub.C:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("encode event", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	s.replay(r, sub)

	// Reader goroutine: clients never send frames we act on, but
	// reading is what surfaces the close handshake.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-sub.Done():
			return
		case msg := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
