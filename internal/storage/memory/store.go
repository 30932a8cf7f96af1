package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/hongminglow/friendface-be/internal/models"
	"github.com/hongminglow/friendface-be/internal/storage"
)

var _ storage.CacheStore = (*Store)(nil)

type cachedFriend struct {
	friend   models.Friend
	position int
}

// Store keeps the cache in process memory. Useful for tests and ephemeral runs.
type Store struct {
	mu      sync.RWMutex
	users   map[string]models.User
	friends map[string]map[string]cachedFriend
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		users:   make(map[string]models.User),
		friends: make(map[string]map[string]cachedFriend),
	}
}

// UpsertUser stores the scalar fields of user, with tags passed through the same codec as SQL stores.
func (s *Store) UpsertUser(_ context.Context, user models.User) error {
	user.Tags = storage.DecodeTags(storage.EncodeTags(user.Tags))
	user.Friends = nil

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	return nil
}

// UpsertFriend stores friend under originUserID.
func (s *Store) UpsertFriend(_ context.Context, friend models.Friend, originUserID string, position int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.friends[originUserID]
	if !ok {
		byID = make(map[string]cachedFriend)
		s.friends[originUserID] = byID
	}
	byID[friend.ID] = cachedFriend{friend: friend, position: position}
	return nil
}

// PruneFriends drops friends of originUserID that are not listed in keep.
func (s *Store) PruneFriends(_ context.Context, originUserID string, keep []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.friends[originUserID] {
		if !slices.Contains(keep, id) {
			delete(s.friends[originUserID], id)
		}
	}
	return nil
}

// QueryAllUsers returns every cached user sorted by name with friends in position order.
func (s *Store) QueryAllUsers(_ context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		u.Tags = slices.Clone(u.Tags)
		u.Friends = s.friendsOf(u.ID)
		users = append(users, u)
	}
	models.SortByName(users)
	return users, nil
}

func (s *Store) friendsOf(originID string) []models.Friend {
	cached := make([]cachedFriend, 0, len(s.friends[originID]))
	for _, cf := range s.friends[originID] {
		cached = append(cached, cf)
	}
	slices.SortFunc(cached, func(a, b cachedFriend) int {
		if c := cmp.Compare(a.position, b.position); c != 0 {
			return c
		}
		return cmp.Compare(a.friend.ID, b.friend.ID)
	})
	out := make([]models.Friend, 0, len(cached))
	for _, cf := range cached {
		out = append(out, cf.friend)
	}
	return out
}

// Clear drops every cached record.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[string]models.User)
	s.friends = make(map[string]map[string]cachedFriend)
	return nil
}
