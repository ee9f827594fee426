package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/ampdeck/agent/lib/logger"
)

// SocketHandler serves the panel websocket. One panel at a time: a second
// connection attempt is refused with 409 while the first is alive.
func SocketHandler(s *Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		if s.Disabled() {
			http.Error(w, "session disabled", http.StatusGone)
			return
		}
		if s.Busy() {
			http.Error(w, "panel already connected", http.StatusConflict)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			log.Error("websocket accept failed", "err", err)
			return
		}

		ch := NewWebsocketChannel(conn)
		if err := s.Attach(ch); err != nil {
			// Lost the pre-upgrade race or the session died meanwhile.
			status := websocket.StatusPolicyViolation
			if errors.Is(err, ErrDisabled) {
				status = websocket.StatusGoingAway
			}
			_ = conn.Close(status, err.Error())
			return
		}

		serveChannel(r.Context(), log, s, ch)
	}
}

// serveChannel pumps inbound commands until the channel dies. Runs on the
// request goroutine; returning detaches the panel.
func serveChannel(ctx context.Context, log *slog.Logger, s *Session, ch Channel) {
	for {
		cmd, err := ch.Receive(ctx)
		if err != nil {
			s.Detach("channel closed")
			return
		}
		if err := s.HandleCommand(ctx, cmd); err != nil {
			if errors.Is(err, ErrDisabled) {
				return
			}
			log.Warn("command failed", "command", cmd.Kind, "err", err)
		}
	}
}

// StatusHandler reports the session state as JSON, merged with any extra
// fields the caller supplies (the agent adds its CDP attachment status).
func StatusHandler(s *Session, extra func() map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{"session": s.Status()}
		if extra != nil {
			for k, v := range extra() {
				payload[k] = v
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logger.FromContext(r.Context()).Error("encode status failed", "err", err)
		}
	}
}
