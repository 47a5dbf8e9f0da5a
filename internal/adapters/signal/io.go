package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Vision/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(writeWait))
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

// readPump owns the connection's lifetime: when it returns the member is
// treated as disconnected.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, member domain.MemberID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("member", string(member)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.limiter.Forget(member)
		ctl.Orch.OnDisconnect(context.WithoutCancel(ctx), member)
	}()

	c.conn.SetReadLimit(ctl.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("member", string(member)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
		ctl.handleSignal(ctx, member, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, member domain.MemberID, c *WsSignalConn, data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, domain.CodeBadPayload, "")
		return
	}

	if env.IsNegotiation() {
		ctl.handleNegotiation(ctx, member, c, env)
		return
	}
	switch env.Type {
	case domain.EventJoinRoom:
		ctl.handleJoin(ctx, member, c, env)
	case domain.EventLeaveRoom:
		ctl.handleLeave(ctx, member, c)
	case domain.EventPing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", string(env.Type)).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("sendJSON dropped")
	}
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, code string, room domain.RoomID) {
	ctl.sendJSON(c, domain.Envelope{Type: domain.EventError, Error: code, Room: room})
}
