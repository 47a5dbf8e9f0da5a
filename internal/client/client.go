// Package client is the participant event loop. Signaling envelopes and
// negotiation completions are funnelled into one goroutine, which owns the
// negotiator and reports session changes to the view coordinator.
package client

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/Vision/internal/client/peer"
	"github.com/dkeye/Vision/internal/client/signal"
	"github.com/dkeye/Vision/internal/client/view"
	"github.com/dkeye/Vision/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrDisconnected = errors.New("signaling channel disconnected")

// Channel is the signaling channel as seen by the loop.
type Channel interface {
	Send(env domain.Envelope) error
	On(t domain.EventType, h signal.Handler)
	Dispatch(env domain.Envelope) bool
	Incoming() <-chan domain.Envelope
}

// Dialer runs negotiations and accepts the replies relayed by signaling.
type Dialer interface {
	peer.Dialer
	HandleAnswer(from domain.MemberID, sdp string)
	HandleCandidate(from domain.MemberID, raw json.RawMessage) error
}

type Config struct {
	Room     domain.RoomID
	TieBreak bool
}

type Client struct {
	cfg    Config
	ch     Channel
	dialer Dialer
	local  peer.Stream
	view   *view.Coordinator

	events chan peer.Event
	neg    *peer.Negotiator
}

func New(ch Channel, dialer Dialer, local peer.Stream, v *view.Coordinator, cfg Config) *Client {
	if cfg.Room == "" {
		cfg.Room = domain.DefaultRoom
	}
	c := &Client{
		cfg:    cfg,
		ch:     ch,
		dialer: dialer,
		local:  local,
		view:   v,
		events: make(chan peer.Event, 16),
	}

	ch.On(domain.EventWelcome, c.onWelcome)
	ch.On(domain.EventRoomState, c.onRoomState)
	ch.On(domain.EventPeerJoined, c.onPeerJoined)
	ch.On(domain.EventPeerLeft, c.onPeerLeft)
	ch.On(domain.EventLeft, c.onLeft)
	ch.On(domain.EventOffer, c.onOffer)
	ch.On(domain.EventAnswer, c.onAnswer)
	ch.On(domain.EventCandidate, c.onCandidate)
	ch.On(domain.EventError, c.onError)
	ch.On(domain.EventPong, func(domain.Envelope) {})
	return c
}

// Run drives the loop until ctx is done or signaling drops. Every session is
// closed on the way out.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.neg = peer.NewNegotiator(ctx, c.dialer, func(ev peer.Event) {
		select {
		case c.events <- ev:
		case <-ctx.Done():
		}
	}, peer.WithTieBreak(c.cfg.TieBreak))
	defer func() { c.apply(c.neg.CloseAll()) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-c.ch.Incoming():
			if !ok {
				log.Warn().Str("module", "client").Msg("signaling closed")
				return ErrDisconnected
			}
			if !c.ch.Dispatch(env) {
				log.Debug().Str("module", "client").Str("type", string(env.Type)).Msg("unhandled event")
			}
		case ev := <-c.events:
			c.apply(c.neg.Handle(ev))
		}
	}
}

// apply forwards session changes to the view.
func (c *Client) apply(changes []peer.Change) {
	for _, ch := range changes {
		switch ch.Kind {
		case peer.ChangeOpened:
			c.view.OnSessionOpen(ch.Session)
		case peer.ChangeClosed:
			c.view.OnSessionClose(ch.Session.Remote)
		case peer.ChangeFailed:
			log.Warn().Err(ch.Err).Str("module", "client").Msg("session failed")
		}
	}
}

func (c *Client) send(env domain.Envelope) {
	if err := c.ch.Send(env); err != nil {
		log.Warn().Err(err).Str("module", "client").Str("type", string(env.Type)).Msg("send failed")
	}
}

func (c *Client) onWelcome(env domain.Envelope) {
	c.neg.SetSelf(env.Member)
	log.Info().Str("module", "client").Str("self", string(env.Member)).Str("room", string(c.cfg.Room)).Msg("joining")
	c.send(domain.Envelope{Type: domain.EventJoinRoom, Room: c.cfg.Room})
}

func (c *Client) onRoomState(env domain.Envelope) {
	log.Info().Str("module", "client").Str("room", string(env.Room)).Int("members", len(env.Members)).Msg("joined")
	for _, m := range env.Members {
		if c.neg.Initiates(m, false) {
			c.neg.Outbound(m, c.local)
		}
	}
}

func (c *Client) onPeerJoined(env domain.Envelope) {
	if c.neg.Initiates(env.Member, true) {
		c.neg.Outbound(env.Member, c.local)
	}
}

func (c *Client) onPeerLeft(env domain.Envelope) {
	log.Info().Str("module", "client").Str("remote", string(env.Member)).Msg("peer left")
	c.apply(c.neg.Close(env.Member))
}

func (c *Client) onLeft(env domain.Envelope) {
	log.Info().Str("module", "client").Str("room", string(env.Room)).Msg("left room")
	c.apply(c.neg.CloseAll())
}

func (c *Client) onOffer(env domain.Envelope) {
	_, changes, err := c.neg.Inbound(peer.IncomingCall{Remote: env.From, SDP: env.SDP}, c.local)
	c.apply(changes)
	if err != nil {
		log.Info().Err(err).Str("module", "client").Str("remote", string(env.From)).Msg("offer ignored")
	}
}

func (c *Client) onAnswer(env domain.Envelope) {
	c.dialer.HandleAnswer(env.From, env.SDP)
}

func (c *Client) onCandidate(env domain.Envelope) {
	if err := c.dialer.HandleCandidate(env.From, env.Candidate); err != nil {
		log.Warn().Err(err).Str("module", "client").Str("remote", string(env.From)).Msg("candidate rejected")
	}
}

func (c *Client) onError(env domain.Envelope) {
	log.Warn().Str("module", "client").Str("code", env.Error).Str("room", string(env.Room)).Str("remote", string(env.Member)).Msg("server error")
	// the remote is gone; a pending handshake with it can never finish
	if env.Error == domain.CodeNotInRoom && env.Member != "" {
		c.apply(c.neg.Close(env.Member))
	}
}
