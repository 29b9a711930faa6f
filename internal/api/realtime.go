package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/bridgbox/bridgbox/internal/notify"
)

const keepAlive = 20 * time.Second

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Notifier.Drain(r.Context(), addressFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"notifications": events})
}

// handleStream sends pending notifications and then live ones as
// server-sent events. Each event is acknowledged once written.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	address := addressFrom(r)
	ctx := r.Context()
	live := s.deps.Notifier.Subscribe(ctx, address)
	pending, err := s.deps.Notifier.Drain(ctx, address)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	sent := make(map[string]struct{}, len(pending))
	for _, event := range pending {
		sent[event.ID] = struct{}{}
		_, _ = w.Write(event.SSE())
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-live:
			if !ok {
				return
			}
			if delivered(sent, event) {
				continue
			}
			if _, err := w.Write(event.SSE()); err != nil {
				return
			}
			flusher.Flush()
			s.ack(ctx, address, event)
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}

// handleWebSocket carries the same events as handleStream as JSON text
// frames. Client frames are ignored.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept", "error", err)
		return
	}
	defer conn.CloseNow()

	address := addressFrom(r)
	ctx := conn.CloseRead(r.Context())
	live := s.deps.Notifier.Subscribe(ctx, address)
	pending, err := s.deps.Notifier.Drain(ctx, address)
	if err != nil {
		s.logger.Error("drain notifications", "address", address, "error", err)
		conn.Close(websocket.StatusInternalError, "notifications unavailable")
		return
	}
	sent := make(map[string]struct{}, len(pending))
	for _, event := range pending {
		sent[event.ID] = struct{}{}
		if err := s.writeEvent(ctx, conn, event); err != nil {
			return
		}
	}

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event, ok := <-live:
			if !ok {
				return
			}
			if delivered(sent, event) {
				continue
			}
			if err := s.writeEvent(ctx, conn, event); err != nil {
				return
			}
			s.ack(ctx, address, event)
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

// delivered reports whether event already went out from the drained
// backlog. Each backlog entry suppresses at most one live copy.
func delivered(sent map[string]struct{}, event notify.Event) bool {
	if _, ok := sent[event.ID]; !ok {
		return false
	}
	delete(sent, event.ID)
	return true
}

func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, event notify.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := wsjson.Write(writeCtx, conn, event)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("websocket write", "error", err)
	}
	return err
}

func (s *Server) ack(ctx context.Context, address string, event notify.Event) {
	if err := s.deps.Notifier.Ack(ctx, address, event.ID); err != nil {
		s.logger.Warn("ack notification", "address", address, "id", event.ID, "error", err)
	}
}
