package detect

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// packetSource replays packets from a channel; closing it ends the stream.
type packetSource struct {
	id      string
	packets chan *rtp.Packet
}

func newPacketSource(id string) *packetSource {
	return &packetSource{id: id, packets: make(chan *rtp.Packet, 64)}
}

func (s *packetSource) ID() string { return s.id }

func (s *packetSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-s.packets
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

func packet(ts uint32, marker bool, payload ...byte) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{Timestamp: ts, Marker: marker}, Payload: payload}
}

func TestPump_AssemblesOnMarker(t *testing.T) {
	p := NewPump("b", nil, nil)

	_, ok := p.push(packet(1, false, 1, 2))
	assert.False(t, ok)
	f, ok := p.push(packet(1, true, 3))
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, f.Data)
	assert.Equal(t, uint32(1), f.Timestamp)
	assert.False(t, f.Received.IsZero())
}

func TestPump_DropsFrameWithoutMarker(t *testing.T) {
	p := NewPump("b", nil, nil)

	p.push(packet(1, false, 1, 2))
	f, ok := p.push(packet(2, true, 9))
	require.True(t, ok)
	assert.Equal(t, []byte{9}, f.Data)
	assert.Equal(t, uint32(2), f.Timestamp)
}

func TestPump_StripsVP8Descriptor(t *testing.T) {
	p := NewPump("b", nil, &codecs.VP8Packet{})

	f, ok := p.push(packet(5, true, 0x10, 0xaa, 0xbb))
	require.True(t, ok)
	assert.Equal(t, []byte{0xaa, 0xbb}, f.Data)
}

func TestPump_KeepsNewestFrame(t *testing.T) {
	src := newPacketSource("b")
	p := NewPump("b", src, nil)
	logger := zerolog.Nop()
	p.Start(context.Background(), &logger)

	src.packets <- packet(1, true, 1)
	src.packets <- packet(2, true, 2)
	close(src.packets)

	require.Eventually(t, func() bool { return p.State() == PumpStateStopped }, time.Second, 5*time.Millisecond)
	f := <-p.Frames()
	assert.Equal(t, []byte{2}, f.Data)
}
