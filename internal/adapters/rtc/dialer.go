// Package rtc negotiates peer sessions over pion PeerConnections, exchanging
// descriptions through the signaling channel.
package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Vision/internal/client/peer"
	"github.com/dkeye/Vision/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const DefaultPLIInterval = 3 * time.Second

// Signaler delivers negotiation envelopes to a remote member.
type Signaler interface {
	Send(env domain.Envelope) error
}

// TrackSource is implemented by local streams that carry media.
type TrackSource interface {
	LocalTracks() []webrtc.TrackLocal
}

// NewAPI builds a pion API with the default codecs and interceptors plus a
// periodic keyframe request on received video.
func NewAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	intervalPli, err := intervalpli.NewReceiverInterceptor(
		intervalpli.GeneratorInterval(DefaultPLIInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("interval pli: %w", err)
	}
	i.Add(intervalPli)

	return webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(i)), nil
}

func Configuration(iceServers []string) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return cfg
}

// Dialer implements peer.Dialer. Answers and candidates from the signaling
// channel are routed to the pending connection by sender id.
type Dialer struct {
	api      *webrtc.API
	cfg      webrtc.Configuration
	signaler Signaler

	mu    sync.Mutex
	conns map[domain.MemberID]*Connection
}

func NewDialer(api *webrtc.API, cfg webrtc.Configuration, signaler Signaler) *Dialer {
	return &Dialer{
		api:      api,
		cfg:      cfg,
		signaler: signaler,
		conns:    make(map[domain.MemberID]*Connection),
	}
}

func (d *Dialer) Call(ctx context.Context, remote domain.MemberID, local peer.Stream) (peer.Link, error) {
	conn, err := d.open(ctx, remote, local)
	if err != nil {
		return nil, err
	}

	offer, err := conn.CreateOfferGathered()
	if err != nil {
		return nil, d.abort(conn, fmt.Errorf("create offer: %w", err))
	}
	if err := d.signaler.Send(domain.Envelope{Type: domain.EventOffer, To: remote, SDP: offer.SDP}); err != nil {
		return nil, d.abort(conn, fmt.Errorf("send offer: %w", err))
	}

	var answer webrtc.SessionDescription
	select {
	case answer = <-conn.answers:
	case <-conn.failed:
		return nil, d.abort(conn, ErrConnectionFailed)
	case <-ctx.Done():
		return nil, d.abort(conn, ctx.Err())
	}
	if err := conn.setRemote(answer); err != nil {
		return nil, d.abort(conn, fmt.Errorf("apply answer: %w", err))
	}

	if err := conn.waitTrack(ctx); err != nil {
		return nil, d.abort(conn, err)
	}
	return conn, nil
}

func (d *Dialer) Answer(ctx context.Context, call peer.IncomingCall, local peer.Stream) (peer.Link, error) {
	conn, err := d.open(ctx, call.Remote, local)
	if err != nil {
		return nil, err
	}

	answer, err := conn.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  call.SDP,
	})
	if err != nil {
		return nil, d.abort(conn, fmt.Errorf("apply offer: %w", err))
	}
	if err := d.signaler.Send(domain.Envelope{Type: domain.EventAnswer, To: call.Remote, SDP: answer.SDP}); err != nil {
		return nil, d.abort(conn, fmt.Errorf("send answer: %w", err))
	}

	if err := conn.waitTrack(ctx); err != nil {
		return nil, d.abort(conn, err)
	}
	return conn, nil
}

// HandleAnswer routes an answer to the pending call with from.
func (d *Dialer) HandleAnswer(from domain.MemberID, sdp string) {
	conn, ok := d.lookup(from)
	if !ok {
		log.Warn().Str("module", "rtc").Str("remote", string(from)).Msg("answer without pending call")
		return
	}
	select {
	case conn.answers <- webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}:
	default:
		log.Warn().Str("module", "rtc").Str("remote", string(from)).Msg("duplicate answer dropped")
	}
}

// HandleCandidate adds a trickled candidate from a browser peer.
func (d *Dialer) HandleCandidate(from domain.MemberID, raw json.RawMessage) error {
	conn, ok := d.lookup(from)
	if !ok {
		return nil
	}
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &ci); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return conn.AddICECandidate(ci)
}

func (d *Dialer) open(ctx context.Context, remote domain.MemberID, local peer.Stream) (*Connection, error) {
	conn, err := newConnection(d.api, d.cfg, remote)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	conn.Start(ctx)
	conn.release = func() { d.forget(conn) }
	if err := conn.addLocal(local); err != nil {
		return nil, d.abort(conn, fmt.Errorf("add local media: %w", err))
	}

	d.mu.Lock()
	d.conns[remote] = conn
	d.mu.Unlock()
	return conn, nil
}

func (d *Dialer) lookup(remote domain.MemberID) (*Connection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn, ok := d.conns[remote]
	return conn, ok
}

func (d *Dialer) forget(conn *Connection) {
	d.mu.Lock()
	if d.conns[conn.remote] == conn {
		delete(d.conns, conn.remote)
	}
	d.mu.Unlock()
}

// abort closes conn and returns err.
func (d *Dialer) abort(conn *Connection, err error) error {
	_ = conn.Close()
	return err
}
