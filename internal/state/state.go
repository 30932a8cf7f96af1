package state

import (
	"slices"
	"sync"
	"time"

	"github.com/hongminglow/friendface-be/internal/models"
)

// Snapshot is a point-in-time copy of the application state.
type Snapshot struct {
	Users       []models.User
	FetchFailed bool
	Version     uint64
	UpdatedAt   time.Time
}

// AppState holds the users shown to the presentation layer and the fetch-failed notice.
// It is safe for concurrent use; only the reconciler mutates the user list.
type AppState struct {
	mu          sync.RWMutex
	users       []models.User
	fetchFailed bool
	version     uint64
	updatedAt   time.Time
	subs        map[int]chan struct{}
	nextSub     int
}

// New returns an empty AppState.
func New() *AppState {
	return &AppState{users: []models.User{}, subs: make(map[int]chan struct{})}
}

// Users returns a copy of the current user list.
func (s *AppState) Users() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneUsers(s.users)
}

// Len reports how many users are currently held.
func (s *AppState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// User looks up a single user by id.
func (s *AppState) User(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := models.FindUser(s.users, id)
	if !ok {
		return models.User{}, false
	}
	return cloneUsers([]models.User{u})[0], true
}

// Replace swaps the whole user list. The caller must not modify users afterwards.
func (s *AppState) Replace(users []models.User) {
	if users == nil {
		users = []models.User{}
	}
	s.mu.Lock()
	s.users = users
	s.touchLocked()
	s.mu.Unlock()
}

// ReplaceWithStatus swaps the user list and sets the failure notice as one change,
// so subscribers never observe one without the other.
func (s *AppState) ReplaceWithStatus(users []models.User, fetchFailed bool) {
	if users == nil {
		users = []models.User{}
	}
	s.mu.Lock()
	s.users = users
	s.fetchFailed = fetchFailed
	s.touchLocked()
	s.mu.Unlock()
}

// FetchFailed reports whether the most recent fetch fell back to the cache.
func (s *AppState) FetchFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchFailed
}

// SetFetchFailed sets the failure notice.
func (s *AppState) SetFetchFailed(failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchFailed == failed {
		return
	}
	s.fetchFailed = failed
	s.touchLocked()
}

// DismissFailure clears the failure notice once the user has seen it.
func (s *AppState) DismissFailure() {
	s.SetFetchFailed(false)
}

// Snapshot returns users, failure flag and version in one consistent read.
func (s *AppState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Users:       cloneUsers(s.users),
		FetchFailed: s.fetchFailed,
		Version:     s.version,
		UpdatedAt:   s.updatedAt,
	}
}

// Subscribe returns a channel that receives a signal after every change, coalescing bursts,
// and a func that stops the subscription.
func (s *AppState) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// touchLocked bumps the version and notifies subscribers. s.mu must be held.
func (s *AppState) touchLocked() {
	s.version++
	s.updatedAt = time.Now()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func cloneUsers(users []models.User) []models.User {
	out := make([]models.User, len(users))
	for i, u := range users {
		u.Tags = slices.Clone(u.Tags)
		u.Friends = slices.Clone(u.Friends)
		out[i] = u
	}
	return out
}
