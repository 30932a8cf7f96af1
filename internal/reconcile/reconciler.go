package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hongminglow/friendface-be/internal/models"
	"github.com/hongminglow/friendface-be/internal/state"
	"github.com/hongminglow/friendface-be/internal/storage"
)

// Fetcher downloads the raw user document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Source names where the users in AppState came from after a Fetch call.
type Source string

const (
	SourceRemote  Source = "remote"
	SourceCache   Source = "cache"
	SourceSample  Source = "sample"
	SourceSkipped Source = "skipped"
)

// Outcome describes a single Fetch call.
type Outcome struct {
	RunID  string
	Source Source
	Users  int
	// FetchErr is the transport or decode failure that triggered the cache fallback.
	FetchErr error
	// StoreErr is a swallowed cache write or cache read failure.
	StoreErr error
}

// Reconciler merges freshly fetched users into the cache and the in-memory state.
type Reconciler struct {
	fetcher   Fetcher
	store     storage.CacheStore
	state     *state.AppState
	remoteURL string
	log       *slog.Logger
	inFlight  *semaphore.Weighted
	now       func() time.Time
}

// New wires a Reconciler. A nil logger falls back to slog.Default().
func New(fetcher Fetcher, store storage.CacheStore, st *state.AppState, remoteURL string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		fetcher:   fetcher,
		store:     store,
		state:     st,
		remoteURL: remoteURL,
		log:       logger,
		inFlight:  semaphore.NewWeighted(1),
		now:       time.Now,
	}
}

// Fetch refreshes the application state.
//
// In debug mode the two sample users are loaded without touching the network or the cache.
// Otherwise the remote document is downloaded when force is set or the state is empty.
// Transport and decode failures fall back to the cache and raise the fetch-failed flag;
// cache write failures are logged and never undo the in-memory update.
// Calls are serialized. The only error returned is the context's, when ctx ends before
// the call could start or is canceled while the download is in flight. A deadline that
// fires mid-download counts as a timeout and falls back to the cache.
func (r *Reconciler) Fetch(ctx context.Context, debug, force bool) (Outcome, error) {
	if err := r.inFlight.Acquire(ctx, 1); err != nil {
		return Outcome{}, err
	}
	defer r.inFlight.Release(1)

	out := Outcome{RunID: uuid.NewString()}
	log := r.log.With("run", out.RunID)

	if debug {
		samples := models.SampleUsers(r.now())
		models.SortByName(samples)
		r.state.ReplaceWithStatus(samples, false)
		out.Source, out.Users = SourceSample, len(samples)
		log.Debug("loaded sample users", "count", out.Users)
		return out, nil
	}

	if !force && r.state.Len() > 0 {
		out.Source, out.Users = SourceSkipped, r.state.Len()
		log.Debug("state already populated; skipping fetch")
		return out, nil
	}

	fetched, err := r.download(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			log.Info("fetch canceled", "err", err)
			return out, ctx.Err()
		}
		// A deadline is a timeout like any other; the cache read must not inherit it.
		return r.fallback(context.WithoutCancel(ctx), log, out, err), nil
	}
	log.Info("fetch request complete", "count", len(fetched))

	sorted := slices.Clone(fetched)
	models.SortByName(sorted)
	r.state.ReplaceWithStatus(sorted, false)
	out.Source, out.Users = SourceRemote, len(sorted)

	if err := r.persist(ctx, fetched); err != nil {
		log.Error("backing up fetched users failed; keeping in-memory data", "err", err)
		out.StoreErr = err
	} else {
		log.Info("fetched users backed up to cache", "count", len(fetched))
	}
	return out, nil
}

func (r *Reconciler) download(ctx context.Context) ([]models.User, error) {
	body, err := r.fetcher.Fetch(ctx, r.remoteURL)
	if err != nil {
		return nil, err
	}
	users, err := models.DecodeUsers(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.remoteURL, err)
	}
	return users, nil
}

// persist mirrors users into the store, atomically when the store supports it.
func (r *Reconciler) persist(ctx context.Context, users []models.User) error {
	if tx, ok := r.store.(storage.Transactor); ok {
		return tx.WithinTx(ctx, func(s storage.CacheStore) error {
			return writeAll(ctx, s, users, true)
		})
	}
	return writeAll(ctx, r.store, users, false)
}

// writeAll upserts every user, then every friend under its origin with its list position,
// then drops cached friends the origin no longer lists. Users go first so each friend's
// origin row exists. Without stopOnError every write is attempted and failures are joined.
func writeAll(ctx context.Context, s storage.CacheStore, users []models.User, stopOnError bool) error {
	var errs []error
	record := func(err error) bool {
		if err == nil {
			return false
		}
		errs = append(errs, err)
		return stopOnError
	}

	for _, u := range users {
		if record(s.UpsertUser(ctx, u)) {
			return errors.Join(errs...)
		}
	}
	for _, u := range users {
		keep := make([]string, 0, len(u.Friends))
		for i, f := range u.Friends {
			keep = append(keep, f.ID)
			if record(s.UpsertFriend(ctx, f, u.ID, i)) {
				return errors.Join(errs...)
			}
		}
		if record(s.PruneFriends(ctx, u.ID, keep)) {
			return errors.Join(errs...)
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) fallback(ctx context.Context, log *slog.Logger, out Outcome, fetchErr error) Outcome {
	log.Warn("fetch failed; adopting cached users", "err", fetchErr)
	out.Source, out.FetchErr = SourceCache, fetchErr

	cached, err := r.store.QueryAllUsers(ctx)
	if err != nil {
		log.Error("reading cached users failed; keeping current state", "err", err)
		out.StoreErr = err
		out.Users = r.state.Len()
		r.state.SetFetchFailed(true)
		return out
	}
	r.state.ReplaceWithStatus(cached, true)
	out.Users = len(cached)
	return out
}
