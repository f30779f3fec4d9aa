package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// handleEvents upgrades to a websocket and writes the job's progress
// events as JSON messages. The server closes the socket normally after
// the job_finished event. Messages from the client are ignored; closing
// the socket ends the subscription.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := s.jobs.Subscribe(ctx, id)
	if err != nil {
		s.jobError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Debug("websocket upgrade failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for ev := range events {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			s.logger.Debug("websocket write failed", zap.String("job_id", id), zap.Error(err))
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
		time.Now().Add(writeWait))
}

// checkOrigin accepts requests without an Origin header and origins that
// match one of the configured patterns.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, pattern := range s.cfg.AllowedOrigins {
		if pattern == "*" {
			return true
		}
		if ok, err := doublestar.Match(pattern, origin); err == nil && ok {
			return true
		}
	}
	return false
}
