package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"podbrief/internal/coordinator"
	"podbrief/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const streamWriteTimeout = 10 * time.Second

// handleStatusStream pushes the status document over a websocket each time
// it changes, and closes once every requested summary is terminal.
func (s *server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "episodeID")
	language := r.URL.Query().Get("language")

	// Fail before upgrading so clients get a normal error envelope.
	first, err := s.summaries.Status(r.Context(), episodeID, language)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	if s.cfg.JobTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	// The read loop only notices the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := s.cfg.StreamPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last []byte
	view := first
	for {
		payload, err := json.Marshal(toStatusResponse(view))
		if err != nil {
			s.logger.Error("encode status snapshot", "episode_id", episodeID, "error", err)
			return
		}
		if !bytes.Equal(payload, last) {
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			last = payload
		}
		if streamComplete(view) {
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "complete"))
			return
		}

		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream ended"))
			return
		case <-ticker.C:
		}

		next, err := s.summaries.Status(ctx, episodeID, language)
		if err != nil {
			s.logger.Warn("status stream read failed", "episode_id", episodeID, "error", err)
			continue
		}
		view = next
	}
}

// streamComplete reports whether at least one summary was requested and all
// requested summaries are terminal.
func streamComplete(v coordinator.StatusView) bool {
	requested := 0
	for _, sv := range v.Summaries {
		if sv.Status == domain.StatusNotReady {
			continue
		}
		requested++
		if !sv.Status.Terminal() {
			return false
		}
	}
	return requested > 0
}
