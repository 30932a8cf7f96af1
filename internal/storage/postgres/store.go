package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hongminglow/friendface-be/internal/models"
	"github.com/hongminglow/friendface-be/internal/storage"
)

// Ensure Store satisfies the storage interfaces at compile time.
var (
	_ storage.CacheStore = (*Store)(nil)
	_ storage.Transactor = (*Store)(nil)
)

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store provides Postgres-backed persistence for the user cache.
type Store struct {
	pool *pgxpool.Pool
	q    querier
}

// NewStore creates a new Store and runs migrations.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &Store{pool: pool, q: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Close releases database resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cached_users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			age INTEGER NOT NULL DEFAULT 0 CHECK (age >= 0),
			company TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			about TEXT NOT NULL DEFAULT '',
			registered TIMESTAMPTZ NOT NULL,
			tags TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS cached_friends (
			origin_id TEXT NOT NULL REFERENCES cached_users(id) ON DELETE CASCADE,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (origin_id, id)
		);`,
		`CREATE INDEX IF NOT EXISTS cached_users_name_idx ON cached_users (name COLLATE "C");`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}

// UpsertUser inserts or replaces the cached scalar fields for user.ID.
func (s *Store) UpsertUser(ctx context.Context, user models.User) error {
	const query = `
		INSERT INTO cached_users (id, name, is_active, age, company, email, address, about, registered, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			is_active = EXCLUDED.is_active,
			age = EXCLUDED.age,
			company = EXCLUDED.company,
			email = EXCLUDED.email,
			address = EXCLUDED.address,
			about = EXCLUDED.about,
			registered = EXCLUDED.registered,
			tags = EXCLUDED.tags;
	`
	_, err := s.q.Exec(ctx, query,
		user.ID, user.Name, user.IsActive, user.Age, user.Company, user.Email, user.Address, user.About,
		user.Registered, storage.EncodeTags(user.Tags))
	return storage.Wrap("upsert user "+user.ID, err)
}

// UpsertFriend inserts or replaces the friend keyed by (originUserID, friend.ID).
func (s *Store) UpsertFriend(ctx context.Context, friend models.Friend, originUserID string, position int) error {
	const query = `
		INSERT INTO cached_friends (origin_id, id, name, position)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (origin_id, id) DO UPDATE SET
			name = EXCLUDED.name,
			position = EXCLUDED.position;
	`
	_, err := s.q.Exec(ctx, query, originUserID, friend.ID, friend.Name, position)
	return storage.Wrap("upsert friend "+friend.ID+" of "+originUserID, err)
}

// PruneFriends deletes friends of originUserID whose ids are not in keep.
func (s *Store) PruneFriends(ctx context.Context, originUserID string, keep []string) error {
	if keep == nil {
		keep = []string{}
	}
	const query = `DELETE FROM cached_friends WHERE origin_id = $1 AND NOT (id = ANY($2));`
	_, err := s.q.Exec(ctx, query, originUserID, keep)
	return storage.Wrap("prune friends of "+originUserID, err)
}

// QueryAllUsers loads every cached user ordered by name (byte order) with friends attached.
func (s *Store) QueryAllUsers(ctx context.Context) ([]models.User, error) {
	const query = `
	SELECT u.id, u.name, u.is_active, u.age, u.company, u.email, u.address, u.about, u.registered, u.tags,
	(
		SELECT COALESCE(array_agg(f.id ORDER BY f.position, f.id), '{}')
		FROM cached_friends f
		WHERE f.origin_id = u.id
	),
	(
		SELECT COALESCE(array_agg(f.name ORDER BY f.position, f.id), '{}')
		FROM cached_friends f
		WHERE f.origin_id = u.id
	)
	FROM cached_users u
	ORDER BY u.name COLLATE "C", u.id COLLATE "C";
	`
	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, storage.Wrap("query users", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, storage.Wrap("scan user", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Wrap("query users", err)
	}
	return users, nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var (
		user        models.User
		tags        string
		friendIDs   []string
		friendNames []string
	)
	if err := row.Scan(&user.ID, &user.Name, &user.IsActive, &user.Age, &user.Company, &user.Email, &user.Address, &user.About, &user.Registered, &tags, &friendIDs, &friendNames); err != nil {
		return models.User{}, err
	}
	if len(friendIDs) != len(friendNames) {
		return models.User{}, errors.New("friend id/name arrays differ in length")
	}
	user.Tags = storage.DecodeTags(tags)
	user.Friends = make([]models.Friend, len(friendIDs))
	for i := range friendIDs {
		user.Friends[i] = models.Friend{ID: friendIDs[i], Name: friendNames[i]}
	}
	return user, nil
}

// Clear removes every cached record.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.q.Exec(ctx, `TRUNCATE cached_friends, cached_users;`)
	return storage.Wrap("clear", err)
}

// WithinTx runs fn against a transaction-bound Store, committing only if fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(storage.CacheStore) error) error {
	if _, inTx := s.q.(pgx.Tx); inTx {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storage.Wrap("begin tx", err)
	}
	if err := fn(&Store{pool: s.pool, q: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, storage.Wrap("rollback", rbErr))
		}
		return err
	}
	return storage.Wrap("commit", tx.Commit(ctx))
}
