package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/onnwee/commentcast/telemetry"
)

// keepAliveInterval spaces SSE comments and websocket idle checks.
const keepAliveInterval = 15 * time.Second

// handleEvents streams one topic as Server-Sent Events until the client goes
// away or the hub closes.
func (h *Handlers) handleEvents(topic Topic) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		id, events, err := h.deps.Hub.Subscribe(topic)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer func() { _ = h.deps.Hub.Unsubscribe(id) }()
		log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "http"), slog.String("listener", id))
		log.Debug("event listener attached", slog.String("topic", string(topic)))

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ping := time.NewTicker(keepAliveInterval)
		defer ping.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ping.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
			case ev, ok := <-events:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data); err != nil {
					log.Debug("event listener write failed", slog.Any("err", err))
					return
				}
			}
			flusher.Flush()
		}
	}
}

// wsFrame is what the broadcast page exchanges over /ws.
type wsFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// handleWS serves the broadcast topic over a websocket. Each broadcast
// message is sent as {"type": "add"|"reset", "message": markup}; a "ping"
// from the page is answered with "pong".
func (h *Handlers) handleWS() http.Handler {
	return websocket.Server{Handler: func(ws *websocket.Conn) {
		defer func() { _ = ws.Close() }()
		id, events, err := h.deps.Hub.Subscribe(TopicBroadcast)
		if err != nil {
			return
		}
		defer func() { _ = h.deps.Hub.Unsubscribe(id) }()
		log := slog.Default().With(slog.String("component", "http"), slog.String("listener", id))
		log.Debug("websocket listener attached", slog.String("remote", ws.Request().RemoteAddr))

		pings := make(chan struct{}, 1)
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				var raw string
				if err := websocket.Message.Receive(ws, &raw); err != nil {
					return
				}
				if isPing(raw) {
					select {
					case pings <- struct{}{}:
					default:
					}
				}
			}
		}()

		for {
			select {
			case <-gone:
				return
			case <-pings:
				if err := websocket.JSON.Send(ws, wsFrame{Type: "pong"}); err != nil {
					return
				}
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Name != EventMessage {
					continue
				}
				if err := websocket.Message.Send(ws, string(ev.Data)); err != nil {
					log.Debug("websocket write failed", slog.Any("err", err))
					return
				}
			}
		}
	}}
}

func isPing(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "ping" {
		return true
	}
	var f wsFrame
	return json.Unmarshal([]byte(raw), &f) == nil && f.Type == "ping"
}
