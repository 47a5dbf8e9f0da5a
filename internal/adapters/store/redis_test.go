package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dkeye/Vision/internal/core"
	"github.com/dkeye/Vision/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreWithClient(client)
}

func TestRedisStore_JoinAndLeave(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	members, err := s.Join(ctx, "R", "b")
	require.NoError(t, err)
	assert.Equal(t, []domain.MemberID{"b"}, members)

	members, err = s.Join(ctx, "R", "a")
	require.NoError(t, err)
	assert.Equal(t, []domain.MemberID{"a", "b"}, members)

	room, ok, err := s.RoomOf(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.RoomID("R"), room)

	room, remaining, ok, err := s.Leave(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.RoomID("R"), room)
	assert.Equal(t, []domain.MemberID{"a"}, remaining)

	rooms, err := s.Rooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.RoomInfo{{ID: "R", MemberCount: 1}}, rooms)
}

func TestRedisStore_AlreadyJoined(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Join(ctx, "R", "a")
	require.NoError(t, err)

	_, err = s.Join(ctx, "S", "a")
	assert.ErrorIs(t, err, domain.ErrAlreadyJoined)

	members, err := s.Members(ctx, "S")
	require.NoError(t, err)
	assert.Empty(t, members)

	_, err = s.Join(ctx, "R", "a")
	assert.NoError(t, err)
}

func TestRedisStore_LeaveUnknown(t *testing.T) {
	_, _, ok, err := newTestStore(t).Leave(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_EmptyRoomForgotten(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Join(ctx, "R", "a")
	require.NoError(t, err)
	_, remaining, _, err := s.Leave(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, remaining)

	listed, err := s.client.SIsMember(ctx, roomsKey(), "R").Result()
	require.NoError(t, err)
	assert.False(t, listed, "empty room left in the room index")

	rooms, err := s.Rooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)

	_, err = s.Join(ctx, "R", "b")
	require.NoError(t, err)
	listed, err = s.client.SIsMember(ctx, roomsKey(), "R").Result()
	require.NoError(t, err)
	assert.True(t, listed)
}

func TestRedisStore_LeaveKeepsOccupiedRoomListed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, m := range []domain.MemberID{"a", "b"} {
		_, err := s.Join(ctx, "R", m)
		require.NoError(t, err)
	}

	_, remaining, ok, err := s.Leave(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []domain.MemberID{"b"}, remaining)

	listed, err := s.client.SIsMember(ctx, roomsKey(), "R").Result()
	require.NoError(t, err)
	assert.True(t, listed)
}
