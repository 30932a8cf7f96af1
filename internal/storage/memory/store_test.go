package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/friendface-be/internal/models"
)

func TestUpsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.UpsertUser(ctx, models.User{ID: "1", Name: "Zed", Age: 1, Tags: []string{"a"}}))
	require.NoError(t, s.UpsertUser(ctx, models.User{ID: "2", Name: "Amy", Age: 2}))
	require.NoError(t, s.UpsertUser(ctx, models.User{ID: "1", Name: "Zed", Age: 3, Tags: []string{"a,b"}}))
	require.NoError(t, s.UpsertFriend(ctx, models.Friend{ID: "2", Name: "Amy"}, "1", 1))
	require.NoError(t, s.UpsertFriend(ctx, models.Friend{ID: "9", Name: "Nine"}, "1", 0))
	require.NoError(t, s.UpsertFriend(ctx, models.Friend{ID: "2", Name: "Amy B"}, "1", 1))

	users, err := s.QueryAllUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Amy", users[0].Name)
	assert.Empty(t, users[0].Friends)

	zed := users[1]
	assert.Equal(t, 3, zed.Age)
	assert.Equal(t, []string{"a,b"}, zed.Tags)
	assert.Equal(t, []models.Friend{{ID: "9", Name: "Nine"}, {ID: "2", Name: "Amy B"}}, zed.Friends)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.UpsertUser(ctx, models.User{ID: "1", Name: "A", Registered: time.Now()}))
	require.NoError(t, s.Clear(ctx))

	users, err := s.QueryAllUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestPruneFriends(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.UpsertUser(ctx, models.User{ID: "1", Name: "A"}))
	require.NoError(t, s.UpsertUser(ctx, models.User{ID: "2", Name: "B"}))
	require.NoError(t, s.UpsertFriend(ctx, models.Friend{ID: "2", Name: "B"}, "1", 0))
	require.NoError(t, s.UpsertFriend(ctx, models.Friend{ID: "3", Name: "C"}, "1", 1))
	require.NoError(t, s.UpsertFriend(ctx, models.Friend{ID: "1", Name: "A"}, "2", 0))

	require.NoError(t, s.PruneFriends(ctx, "1", []string{"3"}))
	users, err := s.QueryAllUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Friend{{ID: "3", Name: "C"}}, users[0].Friends)
	assert.Equal(t, []models.Friend{{ID: "1", Name: "A"}}, users[1].Friends)

	require.NoError(t, s.PruneFriends(ctx, "1", nil))
	require.NoError(t, s.PruneFriends(ctx, "missing", nil))
	users, err = s.QueryAllUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users[0].Friends)
	assert.Len(t, users[1].Friends, 1)
}
