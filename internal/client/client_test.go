package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	httpadapter "github.com/dkeye/Vision/internal/adapters/http"
	"github.com/dkeye/Vision/internal/app"
	"github.com/dkeye/Vision/internal/app/orch"
	"github.com/dkeye/Vision/internal/client/peer"
	"github.com/dkeye/Vision/internal/client/signal"
	"github.com/dkeye/Vision/internal/client/view"
	"github.com/dkeye/Vision/internal/config"
	"github.com/dkeye/Vision/internal/core"
	"github.com/dkeye/Vision/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

type stream string

func (s stream) ID() string { return string(s) }

type fakeLink struct{ in peer.Stream }

func (l fakeLink) Inbound() peer.Stream { return l.in }
func (l fakeLink) OnClose(func())       {}
func (l fakeLink) Close() error         { return nil }

// fakeDialer exchanges offer and answer over the real signaling server but
// skips media entirely.
type fakeDialer struct {
	signaler interface{ Send(domain.Envelope) error }
	fail     bool

	mu      sync.Mutex
	answers map[domain.MemberID]chan string
}

var errDial = errors.New("no route to peer")

func (d *fakeDialer) Call(ctx context.Context, remote domain.MemberID, local peer.Stream) (peer.Link, error) {
	if d.fail {
		return nil, errDial
	}
	ch := make(chan string, 1)
	d.mu.Lock()
	d.answers[remote] = ch
	d.mu.Unlock()

	if err := d.signaler.Send(domain.Envelope{Type: domain.EventOffer, To: remote, SDP: "offer"}); err != nil {
		return nil, err
	}
	select {
	case <-ch:
		return fakeLink{in: stream(remote)}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) Answer(_ context.Context, call peer.IncomingCall, _ peer.Stream) (peer.Link, error) {
	if d.fail {
		return nil, errDial
	}
	if err := d.signaler.Send(domain.Envelope{Type: domain.EventAnswer, To: call.Remote, SDP: "answer"}); err != nil {
		return nil, err
	}
	return fakeLink{in: stream(call.Remote)}, nil
}

func (d *fakeDialer) HandleAnswer(from domain.MemberID, sdp string) {
	d.mu.Lock()
	ch, ok := d.answers[from]
	d.mu.Unlock()
	if ok {
		select {
		case ch <- sdp:
		default:
		}
	}
}

func (d *fakeDialer) HandleCandidate(domain.MemberID, json.RawMessage) error { return nil }

func newServer(t *testing.T) string {
	t.Helper()
	cfg := &config.Config{
		Mode:             "release",
		StaticPath:       t.TempDir(),
		ReadLimit:        65536,
		PingPeriod:       time.Minute,
		PongWait:         time.Minute,
		Secret:           "test-secret",
		JoinRateLimit:    10,
		JoinRateInterval: time.Second,
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	o := &orch.Orchestrator{Registry: app.NewRegistry(core.NewMemoryStore(), nil)}
	srv := httptest.NewServer(httpadapter.SetupRouter(ctx, cfg, o))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
}

type participant struct {
	ch      *signal.Client
	view    *view.Coordinator
	cancel  context.CancelFunc
	done    chan error
	changes chan *peer.Session
}

type option func(*fakeDialer, *Config)

func failing(d *fakeDialer, _ *Config) { d.fail = true }

func legacyGlare(_ *fakeDialer, cfg *Config) { cfg.TieBreak = false }

func join(t *testing.T, url string, opts ...option) *participant {
	t.Helper()
	ch := signal.NewClient(url)
	require.NoError(t, ch.Connect(context.Background()))

	d := &fakeDialer{signaler: ch, answers: make(map[domain.MemberID]chan string)}
	cfg := Config{Room: "R", TieBreak: true}
	for _, opt := range opts {
		opt(d, &cfg)
	}

	p := &participant{
		ch:      ch,
		view:    view.NewCoordinator(view.FirstStays),
		done:    make(chan error, 1),
		changes: make(chan *peer.Session, 16),
	}
	p.view.OnChange(func(s *peer.Session) { p.changes <- s })

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	c := New(ch, d, stream("local"), p.view, cfg)
	go func() { p.done <- c.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		ch.Close()
	})
	return p
}

func (p *participant) activeRemote() domain.MemberID {
	if s := p.view.Active(); s != nil {
		return s.Remote
	}
	return ""
}

func (p *participant) knows(n int) func() bool {
	return func() bool { return len(p.view.Known()) == n }
}

func TestScenarioA_JoinOpensSessionAndView(t *testing.T) {
	url := newServer(t)
	a := join(t, url)
	b := join(t, url)

	require.Eventually(t, func() bool { return a.activeRemote() != "" }, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool { return b.activeRemote() != "" }, waitFor, 10*time.Millisecond)

	assert.Equal(t, peer.StateOpen, a.view.Active().State())
	assert.NotEqual(t, a.activeRemote(), b.activeRemote())
}

func TestScenarioA_WithoutTieBreak(t *testing.T) {
	url := newServer(t)
	a := join(t, url, legacyGlare)
	b := join(t, url, legacyGlare)

	require.Eventually(t, func() bool { return a.activeRemote() != "" }, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool { return b.activeRemote() != "" }, waitFor, 10*time.Millisecond)
	assert.Len(t, a.view.Known(), 1)
}

func TestScenarioB_DisconnectClearsView(t *testing.T) {
	url := newServer(t)
	a := join(t, url)
	b := join(t, url)

	require.Eventually(t, func() bool { return a.activeRemote() != "" }, waitFor, 10*time.Millisecond)

	b.ch.Close()

	require.Eventually(t, func() bool { return a.view.Active() == nil }, waitFor, 10*time.Millisecond)
	assert.Empty(t, a.view.Known())

	select {
	case err := <-b.done:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(waitFor):
		t.Fatal("b loop did not stop")
	}
}

func TestScenarioC_FirstSessionStaysActive(t *testing.T) {
	url := newServer(t)
	a := join(t, url)
	b := join(t, url)

	require.Eventually(t, func() bool { return a.activeRemote() != "" }, waitFor, 10*time.Millisecond)
	first := a.activeRemote()

	join(t, url)
	require.Eventually(t, a.knows(2), waitFor, 10*time.Millisecond)

	assert.Equal(t, first, a.activeRemote())
	assert.NotEmpty(t, b.activeRemote())
}

func TestScenarioD_FailedNegotiationLeavesNoTrace(t *testing.T) {
	url := newServer(t)
	a := join(t, url, failing)
	b := join(t, url)

	// Give both sides time to exchange room events and attempt negotiation.
	time.Sleep(300 * time.Millisecond)

	assert.Nil(t, a.view.Active())
	assert.Empty(t, a.view.Known())
	assert.Empty(t, b.view.Known())
	select {
	case s := <-a.changes:
		t.Fatalf("unexpected view change: %v", s)
	default:
	}
}

func TestRun_ContextCancelStops(t *testing.T) {
	url := newServer(t)
	a := join(t, url)

	a.cancel()
	select {
	case err := <-a.done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("loop did not stop")
	}
}

// scriptedChannel feeds the loop envelopes from the test instead of a server.
type scriptedChannel struct {
	*signal.Client
	in chan domain.Envelope
}

func (c *scriptedChannel) Incoming() <-chan domain.Envelope { return c.in }

// hangingDialer never completes a call on its own.
type hangingDialer struct {
	dialing   chan domain.MemberID
	cancelled chan domain.MemberID
}

func (d *hangingDialer) Call(ctx context.Context, remote domain.MemberID, _ peer.Stream) (peer.Link, error) {
	d.dialing <- remote
	<-ctx.Done()
	d.cancelled <- remote
	return nil, ctx.Err()
}

func (d *hangingDialer) Answer(context.Context, peer.IncomingCall, peer.Stream) (peer.Link, error) {
	return nil, errDial
}

func (d *hangingDialer) HandleAnswer(domain.MemberID, string) {}

func (d *hangingDialer) HandleCandidate(domain.MemberID, json.RawMessage) error { return nil }

func TestRun_NotInRoomErrorDropsPendingSession(t *testing.T) {
	ch := &scriptedChannel{Client: signal.NewClient("ws://unused"), in: make(chan domain.Envelope, 8)}
	d := &hangingDialer{dialing: make(chan domain.MemberID, 1), cancelled: make(chan domain.MemberID, 1)}
	c := New(ch, d, stream("local"), view.NewCoordinator(view.FirstStays), Config{Room: "R", TieBreak: true})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = c.Run(ctx) }()

	ch.in <- domain.Envelope{Type: domain.EventWelcome, Member: "a"}
	ch.in <- domain.Envelope{Type: domain.EventRoomState, Room: "R", Members: []domain.MemberID{"b"}}
	select {
	case remote := <-d.dialing:
		require.Equal(t, domain.MemberID("b"), remote)
	case <-time.After(waitFor):
		t.Fatal("no call placed")
	}

	ch.in <- domain.Envelope{Type: domain.EventError, Error: domain.CodeBadPayload}
	select {
	case <-d.cancelled:
		t.Fatal("unrelated error tore the session down")
	case <-time.After(50 * time.Millisecond):
	}

	ch.in <- domain.Envelope{Type: domain.EventError, Error: domain.CodeNotInRoom, Member: "b"}
	select {
	case remote := <-d.cancelled:
		assert.Equal(t, domain.MemberID("b"), remote)
	case <-time.After(waitFor):
		t.Fatal("pending session kept after its remote vanished")
	}
}
