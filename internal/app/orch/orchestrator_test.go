package orch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/dkeye/Vision/internal/app"
	"github.com/dkeye/Vision/internal/core"
	"github.com/dkeye/Vision/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	mu     sync.Mutex
	frames []domain.Envelope
}

func (c *recordingConn) TrySend(f core.Frame) error {
	var env domain.Envelope
	if err := json.Unmarshal(f, &env); err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, env)
	c.mu.Unlock()
	return nil
}

func (c *recordingConn) Close() {}

func (c *recordingConn) last() domain.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[len(c.frames)-1]
}

func setup(t *testing.T, members ...domain.MemberID) (*Orchestrator, map[domain.MemberID]*recordingConn) {
	t.Helper()
	o := &Orchestrator{Registry: app.NewRegistry(core.NewMemoryStore(), nil)}
	conns := map[domain.MemberID]*recordingConn{}
	for _, m := range members {
		c := &recordingConn{}
		conns[m] = c
		o.Connect(m, c)
	}
	return o, conns
}

func TestOrchestrator_ConnectSendsWelcome(t *testing.T) {
	_, conns := setup(t, "a")
	assert.Equal(t, domain.Envelope{Type: domain.EventWelcome, Member: "a"}, conns["a"].last())
}

func TestOrchestrator_JoinSendsRoomStateWithoutSelf(t *testing.T) {
	ctx := context.Background()
	o, conns := setup(t, "a", "b")

	_, err := o.Join(ctx, "a", "R")
	require.NoError(t, err)
	others, err := o.Join(ctx, "b", "R")
	require.NoError(t, err)

	assert.Equal(t, []domain.MemberID{"a"}, others)
	assert.Equal(t, domain.Envelope{Type: domain.EventRoomState, Room: "R", Members: []domain.MemberID{"a"}}, conns["b"].last())
	assert.Equal(t, domain.Envelope{Type: domain.EventPeerJoined, Room: "R", Member: "b"}, conns["a"].last())
}

// leavingConn makes its member leave as soon as it hears about a newcomer.
type leavingConn struct {
	recordingConn
	once  sync.Once
	leave func()
}

func (c *leavingConn) TrySend(f core.Frame) error {
	if err := c.recordingConn.TrySend(f); err != nil {
		return err
	}
	if c.last().Type == domain.EventPeerJoined {
		c.once.Do(func() { go c.leave() })
	}
	return nil
}

func TestOrchestrator_RoomStatePrecedesRacingLeave(t *testing.T) {
	ctx := context.Background()
	o := &Orchestrator{Registry: app.NewRegistry(core.NewMemoryStore(), nil)}
	done := make(chan struct{})
	a := &leavingConn{}
	a.leave = func() {
		defer close(done)
		assert.NoError(t, o.Leave(ctx, "a"))
	}
	b := &recordingConn{}
	o.Connect("a", a)
	o.Connect("b", b)

	_, err := o.Join(ctx, "a", "R")
	require.NoError(t, err)
	_, err = o.Join(ctx, "b", "R")
	require.NoError(t, err)
	<-done

	b.mu.Lock()
	events := append([]domain.Envelope(nil), b.frames...)
	b.mu.Unlock()
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventWelcome, events[0].Type)
	assert.Equal(t, domain.Envelope{Type: domain.EventRoomState, Room: "R", Members: []domain.MemberID{"a"}}, events[1])
	assert.Equal(t, domain.Envelope{Type: domain.EventPeerLeft, Room: "R", Member: "a"}, events[2])
}

func TestOrchestrator_LeaveAcknowledges(t *testing.T) {
	ctx := context.Background()
	o, conns := setup(t, "a", "b")
	_, err := o.Join(ctx, "a", "R")
	require.NoError(t, err)
	_, err = o.Join(ctx, "b", "R")
	require.NoError(t, err)

	require.NoError(t, o.Leave(ctx, "b"))
	assert.Equal(t, domain.Envelope{Type: domain.EventLeft, Room: "R"}, conns["b"].last())
	assert.Equal(t, domain.Envelope{Type: domain.EventPeerLeft, Room: "R", Member: "b"}, conns["a"].last())
}

func TestOrchestrator_RelayStampsSender(t *testing.T) {
	ctx := context.Background()
	o, conns := setup(t, "a", "b")
	_, err := o.Join(ctx, "a", "R")
	require.NoError(t, err)
	_, err = o.Join(ctx, "b", "R")
	require.NoError(t, err)

	err = o.Relay(ctx, "a", domain.Envelope{Type: domain.EventOffer, From: "spoofed", To: "b", SDP: "v=0"})
	require.NoError(t, err)
	assert.Equal(t, domain.Envelope{Type: domain.EventOffer, Room: "R", From: "a", To: "b", SDP: "v=0"}, conns["b"].last())
}

func TestOrchestrator_RelayAcrossRoomsRejected(t *testing.T) {
	ctx := context.Background()
	o, _ := setup(t, "a", "b", "c")
	_, err := o.Join(ctx, "a", "R")
	require.NoError(t, err)
	_, err = o.Join(ctx, "b", "S")
	require.NoError(t, err)

	err = o.Relay(ctx, "a", domain.Envelope{Type: domain.EventOffer, To: "b"})
	assert.ErrorIs(t, err, domain.ErrNotInRoom)

	err = o.Relay(ctx, "c", domain.Envelope{Type: domain.EventOffer, To: "a"})
	assert.ErrorIs(t, err, domain.ErrNotInRoom)
}
