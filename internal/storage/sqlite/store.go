package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hongminglow/friendface-be/internal/models"
	"github.com/hongminglow/friendface-be/internal/storage"
)

var (
	_ storage.CacheStore = (*Store)(nil)
	_ storage.Transactor = (*Store)(nil)
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store is the on-disk offline cache backed by a SQLite file.
type Store struct {
	db *sql.DB
	q  querier
}

// NewStore opens (or creates) the SQLite file at path and ensures the schema exists.
func NewStore(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection keeps writers from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, q: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cached_users (
			id TEXT NOT NULL PRIMARY KEY,
			name TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 0,
			age INTEGER NOT NULL DEFAULT 0,
			company TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			about TEXT NOT NULL DEFAULT '',
			registered TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS cached_friends (
			origin_id TEXT NOT NULL REFERENCES cached_users(id) ON DELETE CASCADE,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (origin_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS cached_users_name_idx ON cached_users (name)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}

// UpsertUser inserts or replaces the cached scalar fields for user.ID.
func (s *Store) UpsertUser(ctx context.Context, user models.User) error {
	const query = `
		INSERT INTO cached_users (id, name, is_active, age, company, email, address, about, registered, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			is_active = excluded.is_active,
			age = excluded.age,
			company = excluded.company,
			email = excluded.email,
			address = excluded.address,
			about = excluded.about,
			registered = excluded.registered,
			tags = excluded.tags`
	_, err := s.q.ExecContext(ctx, query,
		user.ID, user.Name, user.IsActive, user.Age, user.Company, user.Email, user.Address, user.About,
		user.Registered.UTC().Format(time.RFC3339Nano), storage.EncodeTags(user.Tags))
	return storage.Wrap("upsert user "+user.ID, err)
}

// UpsertFriend inserts or replaces the friend keyed by (originUserID, friend.ID).
func (s *Store) UpsertFriend(ctx context.Context, friend models.Friend, originUserID string, position int) error {
	const query = `
		INSERT INTO cached_friends (origin_id, id, name, position)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (origin_id, id) DO UPDATE SET
			name = excluded.name,
			position = excluded.position`
	_, err := s.q.ExecContext(ctx, query, originUserID, friend.ID, friend.Name, position)
	return storage.Wrap("upsert friend "+friend.ID+" of "+originUserID, err)
}

// PruneFriends deletes friends of originUserID whose ids are not in keep.
func (s *Store) PruneFriends(ctx context.Context, originUserID string, keep []string) error {
	query := `DELETE FROM cached_friends WHERE origin_id = ?`
	args := []any{originUserID}
	if len(keep) > 0 {
		query += ` AND id NOT IN (?` + strings.Repeat(`, ?`, len(keep)-1) + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}
	_, err := s.q.ExecContext(ctx, query, args...)
	return storage.Wrap("prune friends of "+originUserID, err)
}

// QueryAllUsers loads every cached user ordered by name and rebuilds their friend lists.
func (s *Store) QueryAllUsers(ctx context.Context) ([]models.User, error) {
	users, err := s.queryUsers(ctx)
	if err != nil {
		return nil, storage.Wrap("query users", err)
	}
	if err := s.attachFriends(ctx, users); err != nil {
		return nil, storage.Wrap("query friends", err)
	}
	return users, nil
}

func (s *Store) queryUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, is_active, age, company, email, address, about, registered, tags
		FROM cached_users
		ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var (
			u          models.User
			registered string
			tags       string
		)
		if err := rows.Scan(&u.ID, &u.Name, &u.IsActive, &u.Age, &u.Company, &u.Email, &u.Address, &u.About, &registered, &tags); err != nil {
			return nil, err
		}
		if u.Registered, err = time.Parse(time.RFC3339Nano, registered); err != nil {
			return nil, fmt.Errorf("user %s: parse registered: %w", u.ID, err)
		}
		u.Tags = storage.DecodeTags(tags)
		u.Friends = []models.Friend{}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) attachFriends(ctx context.Context, users []models.User) error {
	index := make(map[string]int, len(users))
	for i, u := range users {
		index[u.ID] = i
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT origin_id, id, name
		FROM cached_friends
		ORDER BY origin_id, position, id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var originID string
		var f models.Friend
		if err := rows.Scan(&originID, &f.ID, &f.Name); err != nil {
			return err
		}
		if i, ok := index[originID]; ok {
			users[i].Friends = append(users[i].Friends, f)
		}
	}
	return rows.Err()
}

// Clear removes every cached record.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM cached_friends`); err != nil {
		return storage.Wrap("clear friends", err)
	}
	_, err := s.q.ExecContext(ctx, `DELETE FROM cached_users`)
	return storage.Wrap("clear users", err)
}

// WithinTx runs fn against a transaction-bound Store, committing only if fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(storage.CacheStore) error) error {
	if _, inTx := s.q.(*sql.Tx); inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap("begin tx", err)
	}
	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, storage.Wrap("rollback", rbErr))
		}
		return err
	}
	return storage.Wrap("commit", tx.Commit())
}
