package core

import (
	"context"

	"github.com/dkeye/Vision/internal/domain"
)

// MembershipStore is the source of truth for room membership.
// Implementations must make Join and Leave atomic per member.
type MembershipStore interface {
	// Join records member in room and returns the room's members afterwards.
	// It fails with domain.ErrAlreadyJoined if member sits in another room.
	Join(ctx context.Context, room domain.RoomID, member domain.MemberID) ([]domain.MemberID, error)
	// Leave removes member from its room and reports that room and the members
	// still in it. ok is false when the member was unknown.
	Leave(ctx context.Context, member domain.MemberID) (room domain.RoomID, remaining []domain.MemberID, ok bool, err error)
	RoomOf(ctx context.Context, member domain.MemberID) (domain.RoomID, bool, error)
	Members(ctx context.Context, room domain.RoomID) ([]domain.MemberID, error)
	Rooms(ctx context.Context) ([]RoomInfo, error)
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
}
