package signal

import (
	"context"
	"errors"

	"github.com/dkeye/Vision/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(
	ctx context.Context,
	member domain.MemberID,
	conn *WsSignalConn,
	env domain.Envelope,
) {
	if !ctl.limiter.Allow(member) {
		log.Warn().Str("module", "signal").Str("member", string(member)).Msg("join rate limited")
		ctl.sendError(conn, domain.CodeRateLimited, "")
		return
	}

	room := domain.DefaultRoom
	if env.Room != "" {
		parsed, err := domain.ParseRoomID(string(env.Room))
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("bad room id")
			ctl.sendError(conn, domain.CodeBadPayload, "")
			return
		}
		room = parsed
	}

	log.Info().Str("module", "signal").Str("member", string(member)).Str("room", string(room)).Msg("join")
	if _, err := ctl.Orch.Join(ctx, member, room); err != nil {
		if errors.Is(err, domain.ErrAlreadyJoined) {
			cur, _, _ := ctl.Orch.Registry.RoomOf(ctx, member)
			ctl.sendError(conn, domain.CodeAlreadyJoined, cur)
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("member", string(member)).Msg("join failed")
	}
}

// handleLeave leaves the current room; the connection stays up.
func (ctl *SignalWSController) handleLeave(
	ctx context.Context,
	member domain.MemberID,
	conn *WsSignalConn,
) {
	log.Info().Str("module", "signal").Str("member", string(member)).Msg("leave")
	if err := ctl.Orch.Leave(ctx, member); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("member", string(member)).Msg("leave failed")
		ctl.sendError(conn, domain.CodeNotInRoom, "")
	}
}
