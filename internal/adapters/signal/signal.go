// Package signal is the server end of the Signaling Channel: one websocket per
// member carrying JSON envelopes.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/dkeye/Vision/internal/app/orch"
	"github.com/dkeye/Vision/internal/config"
	"github.com/dkeye/Vision/internal/core"
	"github.com/dkeye/Vision/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const sendBuffer = 32

type SignalWSController struct {
	Orch    *orch.Orchestrator
	cfg     *config.Config
	limiter *RoomRateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, cfg *config.Config) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		cfg:     cfg,
		limiter: NewRoomRateLimiter(cfg.JoinRateLimit, cfg.JoinRateInterval),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves the member until the transport
// drops. The member id is issued here, one per connection.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	member := domain.NewMemberID()
	log.Info().Str("module", "signal").Str("member", string(member)).Str("client_token", c.GetString("client_token")).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, sendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Connect(member, conn)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, member, conn)
}
