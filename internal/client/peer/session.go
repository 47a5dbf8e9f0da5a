package peer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Vision/internal/domain"
)

// Stream is an opaque media stream handle.
type Stream interface {
	ID() string
}

// Link is an established media connection to one remote member.
type Link interface {
	Inbound() Stream
	// OnClose registers fn to run once when the link drops on its own.
	OnClose(fn func())
	Close() error
}

// Session is one media session with a remote member. State is readable from
// any goroutine; everything else is owned by the Negotiator.
type Session struct {
	Remote   domain.MemberID
	Outbound bool
	Local    Stream

	state atomic.Int32

	mu      sync.RWMutex
	inbound Stream
	link    Link

	cancel context.CancelFunc
}

func newSession(remote domain.MemberID, outbound bool, local Stream) *Session {
	return &Session{Remote: remote, Outbound: outbound, Local: local}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Inbound returns the remote stream, nil until the session is open.
func (s *Session) Inbound() Stream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inbound
}

func (s *Session) fire(t Trigger) (State, bool) {
	for {
		cur := s.State()
		next, ok := Next(cur, t)
		if !ok {
			return cur, false
		}
		if s.state.CompareAndSwap(int32(cur), int32(next)) {
			return next, true
		}
	}
}

func (s *Session) attach(l Link) {
	s.mu.Lock()
	s.link = l
	s.inbound = l.Inbound()
	s.mu.Unlock()
}

// teardown cancels a pending handshake and closes the link if any.
func (s *Session) teardown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.RLock()
	l := s.link
	s.mu.RUnlock()
	if l != nil {
		_ = l.Close()
	}
}
