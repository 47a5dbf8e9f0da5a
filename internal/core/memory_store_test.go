package core

import (
	"context"
	"math/rand"
	"testing"

	"github.com/dkeye/Vision/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_JoinReturnsMembers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	members, err := s.Join(ctx, "R", "b")
	require.NoError(t, err)
	assert.Equal(t, []domain.MemberID{"b"}, members)

	members, err = s.Join(ctx, "R", "a")
	require.NoError(t, err)
	assert.Equal(t, []domain.MemberID{"a", "b"}, members)
}

func TestMemoryStore_AlreadyJoined(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Join(ctx, "R", "a")
	require.NoError(t, err)

	_, err = s.Join(ctx, "S", "a")
	assert.ErrorIs(t, err, domain.ErrAlreadyJoined)

	room, ok, err := s.RoomOf(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.RoomID("R"), room, "existing membership stays authoritative")

	members, err := s.Join(ctx, "R", "a")
	require.NoError(t, err)
	assert.Equal(t, []domain.MemberID{"a"}, members)
}

func TestMemoryStore_LeaveUnknownIsNoop(t *testing.T) {
	room, remaining, ok, err := NewMemoryStore().Leave(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, room)
	assert.Empty(t, remaining)
}

func TestMemoryStore_LeaveReportsRemaining(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, m := range []domain.MemberID{"a", "b", "c"} {
		_, err := s.Join(ctx, "R", m)
		require.NoError(t, err)
	}

	room, remaining, ok, err := s.Leave(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.RoomID("R"), room)
	assert.Equal(t, []domain.MemberID{"a", "c"}, remaining)

	rooms, err := s.Rooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []RoomInfo{{ID: "R", MemberCount: 2}}, rooms)
}

// Replaying a random join/leave history across rooms must leave every room
// with exactly the members that joined it and did not leave.
func TestMemoryStore_ReplayMatchesModel(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	rooms := []domain.RoomID{"R", "S", "T"}
	members := []domain.MemberID{"a", "b", "c", "d", "e", "f"}

	for round := 0; round < 50; round++ {
		s := NewMemoryStore()
		model := map[domain.MemberID]domain.RoomID{}

		for step := 0; step < 40; step++ {
			m := members[rng.Intn(len(members))]
			if rng.Intn(3) == 0 {
				_, _, _, err := s.Leave(ctx, m)
				require.NoError(t, err)
				delete(model, m)
				continue
			}
			r := rooms[rng.Intn(len(rooms))]
			_, err := s.Join(ctx, r, m)
			if cur, ok := model[m]; ok && cur != r {
				require.ErrorIs(t, err, domain.ErrAlreadyJoined)
				continue
			}
			require.NoError(t, err)
			model[m] = r
		}

		for _, r := range rooms {
			var want []domain.MemberID
			for _, m := range members {
				if model[m] == r {
					want = append(want, m)
				}
			}
			got, err := s.Members(ctx, r)
			require.NoError(t, err)
			if len(want) == 0 {
				assert.Empty(t, got)
				continue
			}
			assert.Equal(t, want, got, "round %d room %s", round, r)
		}
	}
}
