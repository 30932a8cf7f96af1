package reconcile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/friendface-be/internal/fetcher"
	"github.com/hongminglow/friendface-be/internal/models"
	"github.com/hongminglow/friendface-be/internal/state"
	"github.com/hongminglow/friendface-be/internal/storage"
	"github.com/hongminglow/friendface-be/internal/storage/memory"
	"github.com/hongminglow/friendface-be/internal/storage/sqlite"
)

var registered = time.Date(2015, 11, 10, 1, 47, 18, 0, time.UTC)

func user(id, name string, tags []string, friends ...models.Friend) models.User {
	if tags == nil {
		tags = []string{}
	}
	if friends == nil {
		friends = []models.Friend{}
	}
	return models.User{
		ID:         id,
		IsActive:   true,
		Name:       name,
		Age:        30,
		Company:    name + " Corp",
		Email:      id + "@example.com",
		Address:    "1 " + name + " Street",
		About:      "About " + name,
		Registered: registered,
		Tags:       tags,
		Friends:    friends,
	}
}

// remote serves a mutable payload and counts requests.
type remote struct {
	mu      sync.Mutex
	payload []byte
	status  int
	hits    atomic.Int32
	server  *httptest.Server
}

func newRemote(t *testing.T, users []models.User) *remote {
	t.Helper()
	r := &remote{status: http.StatusOK}
	r.setUsers(t, users)
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		r.hits.Add(1)
		r.mu.Lock()
		defer r.mu.Unlock()
		w.WriteHeader(r.status)
		_, _ = w.Write(r.payload)
	}))
	t.Cleanup(r.server.Close)
	return r
}

func (r *remote) setUsers(t *testing.T, users []models.User) {
	t.Helper()
	data, err := models.EncodeUsers(users)
	require.NoError(t, err)
	r.setRaw(http.StatusOK, data)
}

func (r *remote) setRaw(status int, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status, r.payload = status, payload
}

func newReconciler(r *remote, store storage.CacheStore) (*Reconciler, *state.AppState) {
	st := state.New()
	return New(fetcher.New(r.server.Client()), store, st, r.server.URL, nil), st
}

func names(users []models.User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.Name
	}
	return out
}

func TestFetchReplacesStateSortedByName(t *testing.T) {
	payload := []models.User{
		user("3", "Carol", []string{"x"}),
		user("1", "Alice", nil, models.Friend{ID: "3", Name: "Carol"}),
		user("2", "Bob", []string{"y", "z"}),
	}
	rm := newRemote(t, payload)
	rec, st := newReconciler(rm, memory.NewStore())
	st.Replace([]models.User{user("old", "Old", nil)})

	out, err := rec.Fetch(context.Background(), false, true)
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, out.Source)
	assert.Equal(t, 3, out.Users)
	assert.NotEmpty(t, out.RunID)
	assert.NoError(t, out.StoreErr)
	assert.False(t, st.FetchFailed())

	got := st.Users()
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, names(got))
	want := []models.User{payload[1], payload[2], payload[0]}
	for i := range want {
		assert.True(t, want[i].Registered.Equal(got[i].Registered))
		got[i].Registered = want[i].Registered
	}
	assert.Equal(t, want, got)
}

func TestFetchPersistsAllFriends(t *testing.T) {
	payload := []models.User{
		user("1", "Alice", nil,
			models.Friend{ID: "2", Name: "Bob"},
			models.Friend{ID: "3", Name: "Carol"},
			models.Friend{ID: "404", Name: "Nobody"},
		),
		user("2", "Bob", nil),
	}
	store := memory.NewStore()
	rec, _ := newReconciler(newRemote(t, payload), store)

	_, err := rec.Fetch(context.Background(), false, true)
	require.NoError(t, err)

	cached, err := store.QueryAllUsers(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"Alice", "Bob"}, names(cached))
	assert.Equal(t, payload[0].Friends, cached[0].Friends)
	assert.Empty(t, cached[1].Friends)
}

func TestFetchIsIdempotent(t *testing.T) {
	payload := []models.User{
		user("1", "Alice", []string{"a"}, models.Friend{ID: "2", Name: "Bob"}),
		user("2", "Bob", nil, models.Friend{ID: "1", Name: "Alice"}),
	}
	ctx := context.Background()
	store := memory.NewStore()
	rec, _ := newReconciler(newRemote(t, payload), store)

	_, err := rec.Fetch(ctx, false, true)
	require.NoError(t, err)
	once, err := store.QueryAllUsers(ctx)
	require.NoError(t, err)

	_, err = rec.Fetch(ctx, false, true)
	require.NoError(t, err)
	twice, err := store.QueryAllUsers(ctx)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestFetchFallsBackToCache(t *testing.T) {
	payload := []models.User{
		user("2", "Bob", []string{"b"}, models.Friend{ID: "1", Name: "Alice"}),
		user("1", "Alice", []string{"a"}, models.Friend{ID: "2", Name: "Bob"}),
	}
	ctx := context.Background()
	store := memory.NewStore()
	rm := newRemote(t, payload)
	rec, st := newReconciler(rm, store)

	_, err := rec.Fetch(ctx, false, true)
	require.NoError(t, err)

	cases := map[string]struct {
		status  int
		payload string
		target  error
	}{
		"server error":      {http.StatusInternalServerError, "oops", fetcher.ErrNonSuccessStatus},
		"malformed payload": {http.StatusOK, `[{"id": 1}]`, models.ErrMalformedPayload},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			st.Replace(nil)
			st.SetFetchFailed(false)
			rm.setRaw(tc.status, []byte(tc.payload))

			out, err := rec.Fetch(ctx, false, false)
			require.NoError(t, err)
			assert.Equal(t, SourceCache, out.Source)
			assert.ErrorIs(t, out.FetchErr, tc.target)
			assert.True(t, st.FetchFailed())

			cached, err := store.QueryAllUsers(ctx)
			require.NoError(t, err)
			assert.Equal(t, cached, st.Users())
			assert.Equal(t, []string{"Alice", "Bob"}, names(st.Users()))
			assert.Equal(t, []models.Friend{{ID: "2", Name: "Bob"}}, st.Users()[0].Friends)
		})
	}
}

func TestFetchNetworkDownWithEmptyCache(t *testing.T) {
	rm := newRemote(t, nil)
	rm.server.Close()
	rec, st := newReconciler(rm, memory.NewStore())

	out, err := rec.Fetch(context.Background(), false, false)
	require.NoError(t, err)
	assert.ErrorIs(t, out.FetchErr, fetcher.ErrNetworkUnavailable)
	assert.Equal(t, 0, st.Len())
	assert.True(t, st.FetchFailed())
}

func TestForceGating(t *testing.T) {
	rm := newRemote(t, []models.User{user("1", "Alice", nil)})
	rec, st := newReconciler(rm, memory.NewStore())
	ctx := context.Background()

	_, err := rec.Fetch(ctx, false, false)
	require.NoError(t, err)
	require.Equal(t, int32(1), rm.hits.Load())
	require.Equal(t, 1, st.Len())

	out, err := rec.Fetch(ctx, false, false)
	require.NoError(t, err)
	assert.Equal(t, SourceSkipped, out.Source)
	assert.Equal(t, int32(1), rm.hits.Load())

	_, err = rec.Fetch(ctx, false, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), rm.hits.Load())
}

// countingStore records writes and can be made to fail.
type countingStore struct {
	*memory.Store
	writes  atomic.Int32
	failErr error
}

func (c *countingStore) UpsertUser(ctx context.Context, u models.User) error {
	c.writes.Add(1)
	if c.failErr != nil {
		return storage.Wrap("upsert user", c.failErr)
	}
	return c.Store.UpsertUser(ctx, u)
}

func (c *countingStore) UpsertFriend(ctx context.Context, f models.Friend, origin string, pos int) error {
	c.writes.Add(1)
	if c.failErr != nil {
		return storage.Wrap("upsert friend", c.failErr)
	}
	return c.Store.UpsertFriend(ctx, f, origin, pos)
}

func TestDebugModeSkipsNetworkAndPersistence(t *testing.T) {
	rm := newRemote(t, []models.User{user("1", "Alice", nil)})
	store := &countingStore{Store: memory.NewStore()}
	rec, st := newReconciler(rm, store)
	st.SetFetchFailed(true)

	for _, force := range []bool{false, true} {
		out, err := rec.Fetch(context.Background(), true, force)
		require.NoError(t, err)
		assert.Equal(t, SourceSample, out.Source)
	}

	assert.Equal(t, int32(0), rm.hits.Load())
	assert.Equal(t, int32(0), store.writes.Load())
	assert.False(t, st.FetchFailed())

	users := st.Users()
	require.Len(t, users, 2)
	assert.Equal(t, users[1].ID, users[0].Friends[0].ID)
	assert.Equal(t, users[0].ID, users[1].Friends[0].ID)
}

func TestPersistenceFailureKeepsState(t *testing.T) {
	payload := []models.User{user("1", "Alice", nil, models.Friend{ID: "2", Name: "Bob"}), user("2", "Bob", nil)}
	store := &countingStore{Store: memory.NewStore(), failErr: errors.New("disk full")}
	rec, st := newReconciler(newRemote(t, payload), store)

	out, err := rec.Fetch(context.Background(), false, true)
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, out.Source)
	assert.ErrorIs(t, out.StoreErr, storage.ErrPersistence)
	assert.Equal(t, []string{"Alice", "Bob"}, names(st.Users()))
	assert.False(t, st.FetchFailed())
	// Non-transactional stores get every write attempted.
	assert.Equal(t, int32(3), store.writes.Load())
}

func TestTagsSurviveCacheReload(t *testing.T) {
	payload := []models.User{
		user("1", "Alice", []string{"a", "b"}),
		user("2", "Bob", []string{"a,b"}),
	}
	ctx := context.Background()
	rm := newRemote(t, payload)
	rec, st := newReconciler(rm, memory.NewStore())

	_, err := rec.Fetch(ctx, false, true)
	require.NoError(t, err)
	rm.setRaw(http.StatusBadGateway, nil)
	_, err = rec.Fetch(ctx, false, true)
	require.NoError(t, err)

	require.True(t, st.FetchFailed())
	users := st.Users()
	assert.Equal(t, []string{"a", "b"}, users[0].Tags)
	assert.Equal(t, []string{"a,b"}, users[1].Tags)
}

func TestMutualFriendsEndToEndOnSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.NewStore(ctx, filepath.Join(t.TempDir(), "cache.sqlite3"))
	require.NoError(t, err)
	defer store.Close()

	payload := []models.User{
		user("a", "Alice", []string{"x"}, models.Friend{ID: "b", Name: "Bob"}),
		user("b", "Bob", []string{"y,z"}, models.Friend{ID: "a", Name: "Alice"}),
	}
	rm := newRemote(t, payload)
	rec, st := newReconciler(rm, store)

	for i := 0; i < 2; i++ {
		out, err := rec.Fetch(ctx, false, true)
		require.NoError(t, err)
		require.NoError(t, out.StoreErr)
	}

	cached, err := store.QueryAllUsers(ctx)
	require.NoError(t, err)
	require.Len(t, cached, 2)
	assert.Equal(t, "Alice", cached[0].Name)
	assert.Equal(t, []models.Friend{{ID: "b", Name: "Bob"}}, cached[0].Friends)
	assert.Equal(t, "Bob", cached[1].Name)
	assert.Equal(t, []models.Friend{{ID: "a", Name: "Alice"}}, cached[1].Friends)
	assert.Equal(t, []string{"y,z"}, cached[1].Tags)

	// A restart while offline serves the same data from disk.
	rm.server.Close()
	offline := state.New()
	rec2 := New(fetcher.New(nil), store, offline, rm.server.URL, nil)
	out, err := rec2.Fetch(ctx, false, false)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, out.Source)
	assert.True(t, offline.FetchFailed())
	assert.Equal(t, names(st.Users()), names(offline.Users()))
}

// blockingFetcher waits for ctx and tracks how many calls overlap.
type blockingFetcher struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	delay   time.Duration
	payload []byte
}

func (b *blockingFetcher) Fetch(ctx context.Context, _ string) ([]byte, error) {
	n := b.active.Add(1)
	defer b.active.Add(-1)
	for {
		seen := b.maxSeen.Load()
		if n <= seen || b.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	select {
	case <-time.After(b.delay):
		return b.payload, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &fetcher.Error{Kind: fetcher.KindTimeout, Err: ctx.Err()}
		}
		return nil, &fetcher.Error{Kind: fetcher.KindNetworkUnavailable, Err: ctx.Err()}
	}
}

func TestConcurrentFetchesAreSerialized(t *testing.T) {
	data, err := models.EncodeUsers([]models.User{user("1", "Alice", nil)})
	require.NoError(t, err)
	bf := &blockingFetcher{delay: 20 * time.Millisecond, payload: data}
	rec := New(bf, memory.NewStore(), state.New(), "unused", nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rec.Fetch(context.Background(), false, true)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), bf.maxSeen.Load())
}

func TestCanceledFetchSkipsFallback(t *testing.T) {
	bf := &blockingFetcher{delay: time.Hour}
	store := memory.NewStore()
	require.NoError(t, store.UpsertUser(context.Background(), user("1", "Alice", nil)))
	st := state.New()
	rec := New(bf, store, st, "unused", nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	defer cancel()

	_, err := rec.Fetch(ctx, false, true)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, st.FetchFailed())
	assert.Equal(t, 0, st.Len())
}

func TestDeadlineFallsBackToCache(t *testing.T) {
	bf := &blockingFetcher{delay: time.Hour}
	store := memory.NewStore()
	require.NoError(t, store.UpsertUser(context.Background(), user("1", "Alice", nil)))
	st := state.New()
	rec := New(bf, store, st, "unused", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out, err := rec.Fetch(ctx, false, true)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, out.Source)
	assert.ErrorIs(t, out.FetchErr, fetcher.ErrTimeout)
	assert.NoError(t, out.StoreErr)
	assert.True(t, st.FetchFailed())
	assert.Equal(t, []string{"Alice"}, names(st.Users()))
}

func TestDroppedFriendsLeaveTheCache(t *testing.T) {
	alice := func(friends ...models.Friend) []models.User {
		return []models.User{
			user("1", "Alice", nil, friends...),
			user("2", "Bob", nil),
			user("3", "Carol", nil),
		}
	}
	sqliteStore, err := sqlite.NewStore(context.Background(), filepath.Join(t.TempDir(), "cache.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	stores := map[string]storage.CacheStore{
		"memory": memory.NewStore(),
		"sqlite": sqliteStore,
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rm := newRemote(t, alice(models.Friend{ID: "2", Name: "Bob"}, models.Friend{ID: "3", Name: "Carol"}))
			rec, st := newReconciler(rm, store)

			_, err := rec.Fetch(ctx, false, true)
			require.NoError(t, err)

			rm.setUsers(t, alice(models.Friend{ID: "3", Name: "Carol"}))
			out, err := rec.Fetch(ctx, false, true)
			require.NoError(t, err)
			require.NoError(t, out.StoreErr)

			rm.setRaw(http.StatusInternalServerError, nil)
			out, err = rec.Fetch(ctx, false, true)
			require.NoError(t, err)
			require.Equal(t, SourceCache, out.Source)

			got, ok := st.User("1")
			require.True(t, ok)
			assert.Equal(t, []models.Friend{{ID: "3", Name: "Carol"}}, got.Friends)

			// An emptied friend list empties the cache too.
			rm.setUsers(t, alice())
			_, err = rec.Fetch(ctx, false, true)
			require.NoError(t, err)
			cached, err := store.QueryAllUsers(ctx)
			require.NoError(t, err)
			assert.Empty(t, cached[0].Friends)
		})
	}
}

func TestFallbackIsOneStateChange(t *testing.T) {
	ctx := context.Background()
	rm := newRemote(t, []models.User{user("1", "Alice", nil)})
	rec, st := newReconciler(rm, memory.NewStore())

	_, err := rec.Fetch(ctx, false, true)
	require.NoError(t, err)
	before := st.Snapshot().Version

	rm.setRaw(http.StatusInternalServerError, nil)
	_, err = rec.Fetch(ctx, false, true)
	require.NoError(t, err)

	snap := st.Snapshot()
	assert.Equal(t, before+1, snap.Version)
	assert.True(t, snap.FetchFailed)
	assert.Equal(t, []string{"Alice"}, names(snap.Users))

	rm.setUsers(t, []models.User{user("1", "Alice", nil)})
	_, err = rec.Fetch(ctx, false, true)
	require.NoError(t, err)
	snap = st.Snapshot()
	assert.Equal(t, before+2, snap.Version)
	assert.False(t, snap.FetchFailed)
}

func TestDuplicateIDsAgreeInStateAndCache(t *testing.T) {
	ctx := context.Background()
	first := user("1", "Alice", []string{"old"}, models.Friend{ID: "2", Name: "Bob"})
	last := user("1", "Alicia", []string{"new"})
	store := memory.NewStore()
	rec, st := newReconciler(newRemote(t, []models.User{first, user("2", "Bob", nil), last}), store)

	out, err := rec.Fetch(ctx, false, true)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Users)

	got, ok := st.User("1")
	require.True(t, ok)
	assert.Equal(t, "Alicia", got.Name)
	assert.Empty(t, got.Friends)

	cached, err := store.QueryAllUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, names(st.Users()), names(cached))
	assert.Equal(t, []string{"new"}, cached[0].Tags)
	assert.Empty(t, cached[0].Friends)
}
