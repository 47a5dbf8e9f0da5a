package detect

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dkeye/Vision/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// PacketReader is a source of RTP packets such as *webrtc.TrackRemote.
type PacketReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type PumpState int32

const (
	PumpStateRunning PumpState = iota
	PumpStateStopped
)

// Pump reads RTP from one inbound stream and assembles frames. Only the
// newest complete frame is kept for the consumer.
type Pump struct {
	Remote domain.MemberID

	src    PacketReader
	depack rtp.Depacketizer
	frames chan Frame
	state  atomic.Int32
	cancel context.CancelFunc

	buf      []byte
	ts       uint32
	started  time.Time
	assembly bool
}

// depacketizerFor picks the payload parser for src's codec. Unknown codecs
// pass payloads through.
func depacketizerFor(src PacketReader) rtp.Depacketizer {
	track, ok := src.(interface{ Codec() webrtc.RTPCodecParameters })
	if !ok {
		return nil
	}
	switch strings.ToLower(track.Codec().MimeType) {
	case strings.ToLower(webrtc.MimeTypeVP8):
		return &codecs.VP8Packet{}
	case strings.ToLower(webrtc.MimeTypeVP9):
		return &codecs.VP9Packet{}
	case strings.ToLower(webrtc.MimeTypeH264):
		return &codecs.H264Packet{}
	}
	return nil
}

func NewPump(remote domain.MemberID, src PacketReader, depack rtp.Depacketizer) *Pump {
	return &Pump{
		Remote: remote,
		src:    src,
		depack: depack,
		frames: make(chan Frame, 1),
	}
}

func (p *Pump) Start(ctx context.Context, logger *zerolog.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.loop(ctx, logger)
}

func (p *Pump) Frames() <-chan Frame { return p.frames }

func (p *Pump) State() PumpState { return PumpState(p.state.Load()) }

func (p *Pump) Stop() {
	p.state.Store(int32(PumpStateStopped))
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pump) loop(ctx context.Context, logger *zerolog.Logger) {
	defer p.state.Store(int32(PumpStateStopped))
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("pump ctx done")
			return
		default:
		}
		pkt, _, err := p.src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("pump read RTP stopped")
			return
		}
		if f, ok := p.push(pkt); ok {
			p.offer(f)
		}
	}
}

// push adds pkt to the frame under assembly and returns the frame once the
// marker bit closes it. A timestamp change without a marker drops the
// partial frame.
func (p *Pump) push(pkt *rtp.Packet) (Frame, bool) {
	if p.assembly && pkt.Timestamp != p.ts {
		p.reset()
	}
	if !p.assembly {
		p.assembly = true
		p.ts = pkt.Timestamp
		p.started = time.Now()
	}

	payload := pkt.Payload
	if p.depack != nil {
		var err error
		if payload, err = p.depack.Unmarshal(pkt.Payload); err != nil {
			p.reset()
			return Frame{}, false
		}
	}
	p.buf = append(p.buf, payload...)

	if !pkt.Marker {
		return Frame{}, false
	}
	f := Frame{Remote: p.Remote, Timestamp: p.ts, Data: p.buf, Received: p.started}
	p.buf = nil
	p.assembly = false
	return f, true
}

func (p *Pump) reset() {
	p.buf = p.buf[:0]
	p.assembly = false
}

// offer replaces any frame the consumer has not picked up yet.
func (p *Pump) offer(f Frame) {
	select {
	case p.frames <- f:
		return
	default:
	}
	select {
	case <-p.frames:
	default:
	}
	select {
	case p.frames <- f:
	default:
	}
}
