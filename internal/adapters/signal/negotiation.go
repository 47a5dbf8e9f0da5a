package signal

import (
	"context"
	"errors"

	"github.com/dkeye/Vision/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleNegotiation(
	ctx context.Context,
	member domain.MemberID,
	conn *WsSignalConn,
	env domain.Envelope,
) {
	if env.To == "" {
		ctl.sendError(conn, domain.CodeBadPayload, "")
		return
	}
	err := ctl.Orch.Relay(ctx, member, env)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotInRoom):
		// names the unreachable remote so the sender can drop that session
		ctl.sendJSON(conn, domain.Envelope{Type: domain.EventError, Error: domain.CodeNotInRoom, Member: env.To})
	default:
		log.Warn().Err(err).Str("module", "signal").Str("type", string(env.Type)).Str("from", string(member)).Str("to", string(env.To)).Msg("relay failed")
	}
}
