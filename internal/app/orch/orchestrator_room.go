package orch

import (
	"context"
	"slices"

	"github.com/dkeye/Vision/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join adds member to room and returns the members already present. The
// registry delivers the room-state itself.
func (o *Orchestrator) Join(ctx context.Context, member domain.MemberID, room domain.RoomID) ([]domain.MemberID, error) {
	members, err := o.Registry.Join(ctx, room, member)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(members, func(m domain.MemberID) bool { return m == member }), nil
}

// Leave removes member from its room; the connection stays open.
func (o *Orchestrator) Leave(ctx context.Context, member domain.MemberID) error {
	room, _, err := o.Registry.RoomOf(ctx, member)
	if err != nil {
		return err
	}
	if err := o.Registry.Leave(ctx, member); err != nil {
		return err
	}
	return o.Registry.Send(member, domain.Envelope{Type: domain.EventLeft, Room: room})
}

// OnDisconnect handles a dropped transport as an implicit leave.
func (o *Orchestrator) OnDisconnect(ctx context.Context, member domain.MemberID) {
	if err := o.Registry.Disconnect(ctx, member); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("member", string(member)).Msg("disconnect cleanup")
	}
}
