package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/hongminglow/friendface-be/internal/http/respond"
	"github.com/hongminglow/friendface-be/internal/models/dto"
	"github.com/hongminglow/friendface-be/internal/reconcile"
	"github.com/hongminglow/friendface-be/internal/state"
)

// Refresher runs the fetch-merge-cache pipeline.
type Refresher interface {
	Fetch(ctx context.Context, debug, force bool) (reconcile.Outcome, error)
}

// UsersHandler exposes the application state and the fetch trigger.
type UsersHandler struct {
	state        *state.AppState
	refresher    Refresher
	debugMode    bool
	fetchTimeout time.Duration
}

// NewUsersHandler constructs the handler. fetchTimeout of zero means no deadline.
func NewUsersHandler(st *state.AppState, refresher Refresher, debugMode bool, fetchTimeout time.Duration) *UsersHandler {
	return &UsersHandler{state: st, refresher: refresher, debugMode: debugMode, fetchTimeout: fetchTimeout}
}

// Register attaches user and fetch routes to the router.
func (h *UsersHandler) Register(r *mux.Router) {
	r.Methods(http.MethodGet).Path("/users").HandlerFunc(h.handleList)
	r.Methods(http.MethodGet).Path("/users/{id}").HandlerFunc(h.handleGet)
	r.Methods(http.MethodPost).Path("/fetch").HandlerFunc(h.handleFetch)
	r.Methods(http.MethodDelete).Path("/fetch/failure").HandlerFunc(h.handleDismiss)
}

func (h *UsersHandler) handleList(w http.ResponseWriter, r *http.Request) {
	snap := h.state.Snapshot()
	respond.State(w, "ok", snap.FetchFailed, usersResponse(snap))
}

func (h *UsersHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	user, ok := h.state.User(mux.Vars(r)["id"])
	if !ok {
		respond.Error(w, http.StatusNotFound, "user not found")
		return
	}
	respond.JSON(w, http.StatusOK, "ok", user)
}

func (h *UsersHandler) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req dto.FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	debug := h.debugMode
	if req.Debug != nil {
		debug = *req.Debug
	}

	ctx := r.Context()
	if h.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.fetchTimeout)
		defer cancel()
	}

	out, err := h.refresher.Fetch(ctx, debug, req.Force)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			respond.Error(w, http.StatusGatewayTimeout, "fetch timed out")
			return
		}
		slog.Info("fetch aborted", "err", err)
		respond.Error(w, http.StatusServiceUnavailable, "fetch aborted")
		return
	}

	resp := dto.FetchResponse{
		RunID:       out.RunID,
		Source:      string(out.Source),
		Users:       out.Users,
		FetchFailed: h.state.FetchFailed(),
	}
	if out.FetchErr != nil {
		resp.FetchError = out.FetchErr.Error()
	}
	if out.StoreErr != nil {
		resp.StoreError = out.StoreErr.Error()
	}

	message := "fetch complete"
	if out.Source == reconcile.SourceCache {
		message = "could not fetch latest data; showing cached users"
	}
	respond.State(w, message, resp.FetchFailed, resp)
}

func (h *UsersHandler) handleDismiss(w http.ResponseWriter, r *http.Request) {
	h.state.DismissFailure()
	respond.JSON(w, http.StatusOK, "failure notice dismissed", nil)
}

func usersResponse(s state.Snapshot) dto.UsersResponse {
	return dto.UsersResponse{
		Users:       s.Users,
		FetchFailed: s.FetchFailed,
		Version:     s.Version,
		UpdatedAt:   s.UpdatedAt,
	}
}
