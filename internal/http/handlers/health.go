package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/hongminglow/friendface-be/internal/http/respond"
	"github.com/hongminglow/friendface-be/internal/state"
)

// HealthHandler returns uptime and basic status.
type HealthHandler struct {
	startedAt time.Time
	state     *state.AppState
}

// NewHealthHandler creates a health endpoint handler.
func NewHealthHandler(startedAt time.Time, st *state.AppState) *HealthHandler {
	return &HealthHandler{startedAt: startedAt, state: st}
}

// Register wires the handler into the router.
func (h *HealthHandler) Register(r *mux.Router) {
	r.Methods(http.MethodGet).Path("/health").HandlerFunc(h.handle)
}

func (h *HealthHandler) handle(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, "ok", map[string]any{
		"status":      "ok",
		"uptime":      time.Since(h.startedAt).Truncate(time.Second).String(),
		"users":       h.state.Len(),
		"fetchFailed": h.state.FetchFailed(),
	})
}
