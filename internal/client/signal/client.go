// Package signal is the participant side of the signaling channel.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Vision/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var (
	ErrClosed    = errors.New("signaling channel closed")
	ErrSaturated = errors.New("signaling send buffer full")
)

// Handler reacts to one inbound envelope.
type Handler func(domain.Envelope)

// Client manages the websocket connection to the signaling server.
type Client struct {
	serverURL string
	conn      *websocket.Conn

	incoming chan domain.Envelope
	outgoing chan []byte
	done     chan struct{}
	once     sync.Once

	mu       sync.RWMutex
	handlers map[domain.EventType]Handler
}

func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		incoming:  make(chan domain.Envelope, sendBuffer),
		outgoing:  make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		handlers:  make(map[domain.EventType]Handler),
	}
}

// Connect dials the server and starts the pumps.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.serverURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	log.Info().Str("module", "client.signal").Str("url", c.serverURL).Msg("connected")

	go c.readPump()
	go c.writePump()
	return nil
}

// Send queues env without blocking.
func (c *Client) Send(env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSaturated
	}
}

// On registers the handler for t, replacing any previous one.
func (c *Client) On(t domain.EventType, h Handler) {
	c.mu.Lock()
	c.handlers[t] = h
	c.mu.Unlock()
}

// Dispatch runs the handler registered for env.Type. It reports false when
// there is none.
func (c *Client) Dispatch(env domain.Envelope) bool {
	c.mu.RLock()
	h, ok := c.handlers[env.Type]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	h(env)
	return true
}

// Incoming delivers inbound envelopes; it is closed when the connection ends.
func (c *Client) Incoming() <-chan domain.Envelope {
	return c.incoming
}

// Done is closed once the channel is shut down from either side.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		_ = c.conn.Close()
		close(c.incoming)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "client.signal").Msg("read error")
			}
			return
		}
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "client.signal").Msg("write error")
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
