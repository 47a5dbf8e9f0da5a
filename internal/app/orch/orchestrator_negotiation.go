package orch

import (
	"context"

	"github.com/dkeye/Vision/internal/domain"
	"github.com/dkeye/Vision/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Relay forwards an offer, answer or candidate from one member to another.
// Both must currently share a room; the sender id is stamped by the server.
func (o *Orchestrator) Relay(ctx context.Context, from domain.MemberID, env domain.Envelope) error {
	fromRoom, ok, err := o.Registry.RoomOf(ctx, from)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotInRoom
	}
	toRoom, ok, err := o.Registry.RoomOf(ctx, env.To)
	if err != nil {
		return err
	}
	if !ok || toRoom != fromRoom {
		return domain.ErrNotInRoom
	}

	env.From = from
	env.Room = fromRoom
	if err := o.Registry.Send(env.To, env); err != nil {
		return err
	}
	metrics.RelayedSignals.WithLabelValues(string(env.Type)).Inc()
	log.Debug().Str("module", "orch").Str("type", string(env.Type)).Str("from", string(from)).Str("to", string(env.To)).Msg("relayed")
	return nil
}
