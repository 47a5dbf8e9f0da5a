// Package peer negotiates one media session per remote member.
//
// Handshakes block, so they run on their own goroutines inside the Dialer and
// report back as events. The Negotiator itself is driven from a single loop
// goroutine: Outbound, Inbound, Handle and Close must not be called
// concurrently.
package peer

import (
	"context"
	"errors"

	"github.com/dkeye/Vision/internal/domain"
	"github.com/dkeye/Vision/internal/metrics"
	"github.com/rs/zerolog/log"
)

// ErrGlareRejected is returned for an inbound call that loses the tie-break
// against a call we already proposed.
var ErrGlareRejected = errors.New("inbound call rejected: local side initiates")

// IncomingCall is a remote session request.
type IncomingCall struct {
	Remote domain.MemberID
	SDP    string
}

// Dialer runs the external negotiation protocol. Both methods block until the
// remote stream arrives, the handshake fails or ctx is cancelled.
type Dialer interface {
	Call(ctx context.Context, remote domain.MemberID, local Stream) (Link, error)
	Answer(ctx context.Context, call IncomingCall, local Stream) (Link, error)
}

// Event is a handshake completion posted back to the loop.
type Event interface {
	session() *Session
}

// Negotiated reports the end of a handshake; Err is set on failure.
type Negotiated struct {
	Session *Session
	Link    Link
	Err     error
}

// LinkClosed reports that an open link dropped.
type LinkClosed struct {
	Session *Session
}

func (e Negotiated) session() *Session { return e.Session }
func (e LinkClosed) session() *Session { return e.Session }

type ChangeKind int

const (
	ChangeOpened ChangeKind = iota
	ChangeClosed
	ChangeFailed
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeOpened:
		return "opened"
	case ChangeClosed:
		return "closed"
	case ChangeFailed:
		return "failed"
	}
	return "unknown"
}

// Change is an observable session transition.
type Change struct {
	Kind    ChangeKind
	Session *Session
	Err     error
}

type Option func(*Negotiator)

// WithTieBreak toggles deterministic glare resolution. When disabled, existing
// members call newcomers and the most recently installed session wins.
func WithTieBreak(enabled bool) Option {
	return func(n *Negotiator) { n.tieBreak = enabled }
}

type Negotiator struct {
	ctx      context.Context
	dialer   Dialer
	emit     func(Event)
	tieBreak bool
	self     domain.MemberID
	sessions map[domain.MemberID]*Session
}

// NewNegotiator builds a negotiator. emit must hand events to the loop that
// drives this negotiator and must not block forever.
func NewNegotiator(ctx context.Context, dialer Dialer, emit func(Event), opts ...Option) *Negotiator {
	n := &Negotiator{
		ctx:      ctx,
		dialer:   dialer,
		emit:     emit,
		tieBreak: true,
		sessions: make(map[domain.MemberID]*Session),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SetSelf records the member id the signaling transport assigned to us.
func (n *Negotiator) SetSelf(id domain.MemberID) { n.self = id }

// Initiates reports whether we propose the session with remote. newcomer is
// true when remote joined after us.
func (n *Negotiator) Initiates(remote domain.MemberID, newcomer bool) bool {
	if remote == n.self {
		return false
	}
	if !n.tieBreak {
		return newcomer
	}
	return domain.ShouldInitiate(n.self, remote)
}

// Session returns the installed session with remote.
func (n *Negotiator) Session(remote domain.MemberID) (*Session, bool) {
	s, ok := n.sessions[remote]
	return s, ok
}

func (n *Negotiator) Len() int { return len(n.sessions) }

// Outbound proposes a session to remote. An installed session is returned
// unchanged instead of starting a second one.
func (n *Negotiator) Outbound(remote domain.MemberID, local Stream) *Session {
	if s, ok := n.sessions[remote]; ok {
		return s
	}
	s := newSession(remote, true, local)
	s.fire(TriggerPropose)
	n.install(s, func(ctx context.Context) (Link, error) {
		return n.dialer.Call(ctx, remote, local)
	})
	log.Info().Str("module", "peer").Str("remote", string(remote)).Msg("calling")
	return s
}

// Inbound accepts a remote call with the local stream. A pending outbound
// session to the same remote is either kept (ErrGlareRejected) or replaced;
// replacement reports the old session as closed.
func (n *Negotiator) Inbound(call IncomingCall, local Stream) (*Session, []Change, error) {
	var changes []Change
	if old, ok := n.sessions[call.Remote]; ok {
		if old.Outbound && n.tieBreak && domain.ShouldInitiate(n.self, call.Remote) {
			log.Warn().Str("module", "peer").Str("remote", string(call.Remote)).Msg("glare: keeping outbound call")
			return nil, nil, ErrGlareRejected
		}
		log.Info().Str("module", "peer").Str("remote", string(call.Remote)).Msg("replacing session")
		changes = append(changes, n.hangup(old))
	}

	s := newSession(call.Remote, false, local)
	s.fire(TriggerOffered)
	n.install(s, func(ctx context.Context) (Link, error) {
		return n.dialer.Answer(ctx, call, local)
	})
	log.Info().Str("module", "peer").Str("remote", string(call.Remote)).Msg("answering")
	return s, changes, nil
}

func (n *Negotiator) install(s *Session, dial func(context.Context) (Link, error)) {
	ctx, cancel := context.WithCancel(n.ctx)
	s.cancel = cancel
	n.sessions[s.Remote] = s
	go func() {
		link, err := dial(ctx)
		n.emit(Negotiated{Session: s, Link: link, Err: err})
	}()
}

// Handle applies a completion event. Events for sessions that are no longer
// installed close their link and produce no change.
func (n *Negotiator) Handle(ev Event) []Change {
	s := ev.session()
	if cur, ok := n.sessions[s.Remote]; !ok || cur != s {
		if neg, ok := ev.(Negotiated); ok {
			if neg.Link != nil {
				_ = neg.Link.Close()
			}
			metrics.Negotiations.WithLabelValues("stale").Inc()
			log.Debug().Str("module", "peer").Str("remote", string(s.Remote)).Msg("stale completion dropped")
		}
		return nil
	}

	switch e := ev.(type) {
	case Negotiated:
		if e.Err != nil {
			s.fire(TriggerFail)
			delete(n.sessions, s.Remote)
			s.teardown()
			metrics.Negotiations.WithLabelValues("failed").Inc()
			err := &domain.NegotiationError{Remote: s.Remote, Err: e.Err}
			log.Warn().Err(err).Str("module", "peer").Msg("negotiation failed")
			return []Change{{Kind: ChangeFailed, Session: s, Err: err}}
		}
		s.attach(e.Link)
		if _, ok := s.fire(TriggerEstablished); !ok {
			return nil
		}
		e.Link.OnClose(func() { n.emit(LinkClosed{Session: s}) })
		metrics.Negotiations.WithLabelValues("opened").Inc()
		metrics.OpenSessions.Inc()
		log.Info().Str("module", "peer").Str("remote", string(s.Remote)).Msg("session open")
		return []Change{{Kind: ChangeOpened, Session: s}}
	case LinkClosed:
		log.Info().Str("module", "peer").Str("remote", string(s.Remote)).Msg("link dropped")
		return []Change{n.hangup(s)}
	}
	return nil
}

// Close tears down the session with remote, if any.
func (n *Negotiator) Close(remote domain.MemberID) []Change {
	s, ok := n.sessions[remote]
	if !ok {
		return nil
	}
	return []Change{n.hangup(s)}
}

// CloseAll tears down every session.
func (n *Negotiator) CloseAll() []Change {
	changes := make([]Change, 0, len(n.sessions))
	for _, s := range n.sessions {
		changes = append(changes, n.hangup(s))
	}
	return changes
}

func (n *Negotiator) hangup(s *Session) Change {
	prev := s.State()
	s.fire(TriggerHangup)
	delete(n.sessions, s.Remote)
	s.teardown()
	if prev == StateOpen {
		metrics.OpenSessions.Dec()
	}
	return Change{Kind: ChangeClosed, Session: s}
}
