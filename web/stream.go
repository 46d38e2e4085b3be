// ABOUTME: Streaming views of a task's event feed: server-sent events and a
// ABOUTME: websocket endpoint, both replaying history before the live tail.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/2389-research/wordmill/engine"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is token-less and local-first; origin enforcement belongs to
	// whatever fronts it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// formatSSE renders one event in text/event-stream framing. The event name
// mirrors Event.Type so clients can listen for "terminal" directly.
func formatSSE(ev engine.Event) (string, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, payload), nil
}

// handleTaskEvents streams a task's events as server-sent events: full
// history first, then the live tail until the terminal event or disconnect.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	events, unsubscribe, err := s.engine.Subscribe(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Stream closed; the task reached a terminal state.
				return
			}
			frame, err := formatSSE(ev)
			if err != nil {
				log.Printf("component=web action=sse_encode task=%s error=%v", id, err)
				continue
			}
			fmt.Fprint(w, frame)
			if canFlush {
				flusher.Flush()
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			// Client disconnected.
			return
		}
	}
}

// handleTaskSocket streams the same event feed over a websocket. Each event
// is one JSON text message; the connection closes after the terminal event.
func (s *Server) handleTaskSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	events, unsubscribe, err := s.engine.Subscribe(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		unsubscribe()
		log.Printf("component=web action=ws_upgrade task=%s error=%v", id, err)
		return
	}
	defer conn.Close()
	defer unsubscribe()

	// Drain client frames so close handshakes and pings are processed; the
	// read error doubles as the disconnect signal.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				deadline := time.Now().Add(time.Second)
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished")
				_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					log.Printf("component=web action=ws_write task=%s error=%v", id, err)
				}
				return
			}
		case <-disconnected:
			return
		case <-r.Context().Done():
			return
		}
	}
}
