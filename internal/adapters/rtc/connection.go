package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Vision/internal/client/peer"
	"github.com/dkeye/Vision/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrConnectionFailed = errors.New("peer connection failed")

// Connection is one PeerConnection to a remote member. It implements
// peer.Link once the first remote track has arrived.
type Connection struct {
	pc     *webrtc.PeerConnection
	remote domain.MemberID
	cancel context.CancelFunc

	answers chan webrtc.SessionDescription
	tracks  chan *webrtc.TrackRemote
	failed  chan struct{}

	mu         sync.Mutex
	inbound    *webrtc.TrackRemote
	remoteSet  bool
	candidates []webrtc.ICECandidateInit
	onClosed   func()
	release    func()

	failOnce  sync.Once
	closeOnce sync.Once
}

func newConnection(api *webrtc.API, cfg webrtc.Configuration, remote domain.MemberID) (*Connection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &Connection{
		pc:      pc,
		remote:  remote,
		answers: make(chan webrtc.SessionDescription, 1),
		tracks:  make(chan *webrtc.TrackRemote, 1),
		failed:  make(chan struct{}),
	}, nil
}

func (c *Connection) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("remote", string(c.remote)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("remote", string(c.remote)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			c.fail()
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("remote", string(c.remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		select {
		case c.tracks <- track:
		case <-ctx.Done():
		default:
		}
	})
}

// addLocal attaches the local tracks, or a receive-only video transceiver
// when there are none.
func (c *Connection) addLocal(local peer.Stream) error {
	var tracks []webrtc.TrackLocal
	if src, ok := local.(TrackSource); ok {
		tracks = src.LocalTracks()
	}
	if len(tracks) == 0 {
		_, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
		return err
	}
	for _, t := range tracks {
		sender, err := c.pc.AddTrack(t)
		if err != nil {
			return err
		}
		go drainRTCP(sender)
	}
	return nil
}

// drainRTCP reads RTCP so interceptors such as NACK keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// CreateOfferGathered returns a complete offer with all candidates.
func (c *Connection) CreateOfferGathered() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	<-gatherComplete
	return c.pc.LocalDescription(), nil
}

func (c *Connection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.setRemote(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	<-gatherComplete

	return c.pc.LocalDescription(), nil
}

// setRemote applies the remote description and flushes candidates that
// arrived before it.
func (c *Connection) setRemote(sd webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(sd); err != nil {
		return err
	}
	c.mu.Lock()
	c.remoteSet = true
	queued := c.candidates
	c.candidates = nil
	c.mu.Unlock()
	for _, ci := range queued {
		if err := c.pc.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("remote", string(c.remote)).Msg("queued candidate rejected")
		}
	}
	return nil
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if !c.remoteSet {
		c.candidates = append(c.candidates, ci)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(ci)
}

// waitTrack blocks until the first remote video track arrives.
func (c *Connection) waitTrack(ctx context.Context) error {
	select {
	case t := <-c.tracks:
		c.mu.Lock()
		c.inbound = t
		c.mu.Unlock()
		return nil
	case <-c.failed:
		return ErrConnectionFailed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) fail() {
	c.failOnce.Do(func() {
		c.mu.Lock()
		close(c.failed)
		fn := c.onClosed
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

// Inbound returns the remote video track.
func (c *Connection) Inbound() peer.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inbound == nil {
		return nil
	}
	return c.inbound
}

// OnClose sets the callback run when the connection fails or closes. If that
// already happened fn runs right away.
func (c *Connection) OnClose(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	var gone bool
	select {
	case <-c.failed:
		gone = true
	default:
	}
	c.mu.Unlock()
	if gone && fn != nil {
		go fn()
	}
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.release != nil {
			c.release()
		}
		if c.cancel != nil {
			c.cancel()
		}
		if err = c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("remote", string(c.remote)).Msg("close error")
		} else {
			log.Info().Str("module", "rtc").Str("remote", string(c.remote)).Msg("closed")
		}
	})
	return err
}
