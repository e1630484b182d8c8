package api

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-recorder/internal/metrics"
	"github.com/JakeFAU/crawl-recorder/internal/notify"
)

const defaultHeartbeat = 15 * time.Second

// streamEvents handles GET /api/events. Clients only see notifications
// published after they connect.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sub, err := s.deps.Events.Subscribe(r.Context(), s.topic)
	if err != nil {
		s.logger.Error("event subscription failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "notifications unavailable")
		return
	}
	defer sub.Close()

	metrics.IncStreamClients()
	defer metrics.DecStreamClients()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, "retry: 3000\n\n"); err != nil {
		return
	}
	flusher.Flush()

	s.logger.Debug("event stream opened", zap.String("subscription", sub.ID()))
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case n, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeEvent(w, s.topic, n); err != nil {
				s.logger.Debug("event write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, topic string, n notify.Notification) error {
	payload, err := notify.Encode(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", topic, payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
