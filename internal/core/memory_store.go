package core

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/dkeye/Vision/internal/domain"
	"github.com/rs/zerolog/log"
)

// MemoryStore is a threadsafe in-process MembershipStore.
// Empty rooms are forgotten; a later join recreates them.
type MemoryStore struct {
	mu       sync.RWMutex
	rooms    map[domain.RoomID]map[domain.MemberID]struct{}
	byMember map[domain.MemberID]domain.RoomID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[domain.RoomID]map[domain.MemberID]struct{}),
		byMember: make(map[domain.MemberID]domain.RoomID),
	}
}

func (s *MemoryStore) Join(_ context.Context, room domain.RoomID, member domain.MemberID) ([]domain.MemberID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.byMember[member]; ok && cur != room {
		return nil, domain.ErrAlreadyJoined
	}
	set, ok := s.rooms[room]
	if !ok {
		set = make(map[domain.MemberID]struct{})
		s.rooms[room] = set
		log.Debug().Str("module", "core.store").Str("room", string(room)).Msg("room created")
	}
	set[member] = struct{}{}
	s.byMember[member] = room
	return sortedMembers(set), nil
}

func (s *MemoryStore) Leave(_ context.Context, member domain.MemberID) (domain.RoomID, []domain.MemberID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.byMember[member]
	if !ok {
		return "", nil, false, nil
	}
	delete(s.byMember, member)
	set := s.rooms[room]
	delete(set, member)
	if len(set) == 0 {
		delete(s.rooms, room)
		log.Debug().Str("module", "core.store").Str("room", string(room)).Msg("room emptied")
	}
	return room, sortedMembers(set), true, nil
}

func (s *MemoryStore) RoomOf(_ context.Context, member domain.MemberID) (domain.RoomID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.byMember[member]
	return room, ok, nil
}

func (s *MemoryStore) Members(_ context.Context, room domain.RoomID) ([]domain.MemberID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedMembers(s.rooms[room]), nil
}

func (s *MemoryStore) Rooms(_ context.Context) ([]RoomInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RoomInfo, 0, len(s.rooms))
	for id, set := range s.rooms {
		out = append(out, RoomInfo{ID: id, MemberCount: len(set)})
	}
	slices.SortFunc(out, func(a, b RoomInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func sortedMembers(set map[domain.MemberID]struct{}) []domain.MemberID {
	out := make([]domain.MemberID, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}
