package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/hongminglow/friendface-be/internal/models"
)

// ErrPersistence matches every *PersistenceError via errors.Is.
var ErrPersistence = errors.New("persistence error")

// PersistenceError wraps a storage engine failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Wrap returns nil for a nil err, otherwise a *PersistenceError for op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// CacheStore persists a mirror of fetched users and their friend relations.
type CacheStore interface {
	// UpsertUser writes or replaces the cached scalar fields of user.ID. Friends are ignored.
	UpsertUser(ctx context.Context, user models.User) error
	// UpsertFriend writes or replaces the friend keyed by (originUserID, friend.ID).
	UpsertFriend(ctx context.Context, friend models.Friend, originUserID string, position int) error
	// PruneFriends deletes cached friends of originUserID whose ids are not in keep.
	PruneFriends(ctx context.Context, originUserID string, keep []string) error
	// QueryAllUsers returns cached users ordered by models.CompareByName with friends attached.
	QueryAllUsers(ctx context.Context) ([]models.User, error)
	Clear(ctx context.Context) error
}

// Transactor is implemented by stores that can apply a batch of writes atomically.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(CacheStore) error) error
}
