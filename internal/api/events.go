package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"git.home.luguber.info/inful/meterd/internal/logfields"
)

const eventBuffer = 32

// StreamEvent is the JSON frame written for every daemon notification.
type StreamEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// handleEvents streams daemon notifications as server-sent events. The
// optional topics query parameter is a comma separated filter
// (status, command, forward, running, announce).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	topics := parseTopics(r.URL.Query().Get("topics"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	feed, cancel := s.svc.Subscribe(eventBuffer, topics...)
	defer cancel()

	s.logger.Info("Event stream opened", slog.String("remote", r.RemoteAddr))
	s.sendSSE(w, flusher, StreamEvent{Type: "connected", Timestamp: time.Now()})

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("Event stream closed (client disconnect)", slog.String("remote", r.RemoteAddr))
			return
		case <-keepAlive.C:
			_, _ = fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case n, ok := <-feed:
			if !ok {
				s.logger.Info("Event stream closed (daemon stopping)", slog.String("remote", r.RemoteAddr))
				return
			}
			s.sendSSE(w, flusher, StreamEvent{Type: n.Topic(), Timestamp: time.Now(), Data: n})
		}
	}
}

func (s *Server) sendSSE(w http.ResponseWriter, f http.Flusher, ev StreamEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("Failed to marshal SSE event", logfields.Error(err))
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, b)
	f.Flush()
}

func parseTopics(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
