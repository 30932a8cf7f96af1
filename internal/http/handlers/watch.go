package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/hongminglow/friendface-be/internal/middleware"
	"github.com/hongminglow/friendface-be/internal/state"
)

const watchWriteTimeout = 10 * time.Second

// WatchHandler streams state snapshots over a websocket whenever the state changes.
type WatchHandler struct {
	state    *state.AppState
	upgrader websocket.Upgrader
}

// NewWatchHandler constructs the handler; origins follows the CORS allow-list.
func NewWatchHandler(st *state.AppState, origins []string) *WatchHandler {
	allowed := middleware.OriginAllowed(origins)
	return &WatchHandler{
		state: st,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed(origin)
			},
		},
	}
}

// Register attaches the watch route. It must be registered before /users/{id}.
func (h *WatchHandler) Register(r *mux.Router) {
	r.Methods(http.MethodGet).Path("/users/watch").HandlerFunc(h.handle)
}

func (h *WatchHandler) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("watch: upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	changes, stop := h.state.Subscribe()
	defer stop()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client frames so close messages are processed; any read error ends the stream.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var sent uint64
	push := func() error {
		snap := h.state.Snapshot()
		if sent > 0 && snap.Version == sent {
			return nil
		}
		sent = snap.Version
		_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
		return conn.WriteJSON(usersResponse(snap))
	}

	if err := push(); err != nil {
		slog.Error("watch: write failed", "err", err)
		return
	}
	for {
		select {
		case <-changes:
			if err := push(); err != nil {
				slog.Error("watch: write failed", "err", err)
				return
			}
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}
