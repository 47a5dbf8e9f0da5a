// Package view tracks which open peer session is on display.
package view

import (
	"sort"
	"sync"

	"github.com/dkeye/Vision/internal/client/peer"
	"github.com/dkeye/Vision/internal/domain"
	"github.com/dkeye/Vision/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Coordinator holds at most one active session. Session events arrive from
// the client loop; Active may be called from any goroutine.
type Coordinator struct {
	mu       sync.RWMutex
	policy   Policy
	active   *peer.Session
	known    map[domain.MemberID]*peer.Session
	onChange func(active *peer.Session)
}

func NewCoordinator(policy Policy) *Coordinator {
	return &Coordinator{
		policy: policy,
		known:  make(map[domain.MemberID]*peer.Session),
	}
}

// OnChange registers fn to run after the active session changes. A nil
// argument means nothing is on display and the caller should fall back to
// its placeholder.
func (c *Coordinator) OnChange(fn func(active *peer.Session)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *Coordinator) OnSessionOpen(s *peer.Session) {
	if s == nil || s.State() != peer.StateOpen {
		return
	}

	c.mu.Lock()
	c.known[s.Remote] = s
	switched := false
	if c.policy == LastWins || c.active == nil || c.active.State() != peer.StateOpen {
		switched = c.active != s
		c.active = s
	}
	fn := c.onChange
	c.mu.Unlock()

	if switched {
		c.changed(fn, s)
	}
}

// OnSessionClose forgets the session with remote. If it was active the view
// is cleared; no other session is promoted.
func (c *Coordinator) OnSessionClose(remote domain.MemberID) {
	c.mu.Lock()
	delete(c.known, remote)
	cleared := false
	if c.active != nil && c.active.Remote == remote {
		c.active = nil
		cleared = true
	}
	fn := c.onChange
	c.mu.Unlock()

	if cleared {
		c.changed(fn, nil)
	}
}

// Active returns the session on display, or nil. A session that is no longer
// open is never returned.
func (c *Coordinator) Active() *peer.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active == nil || c.active.State() != peer.StateOpen {
		return nil
	}
	return c.active
}

// Known returns the open sessions ordered by remote id.
func (c *Coordinator) Known() []*peer.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*peer.Session, 0, len(c.known))
	for _, s := range c.known {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Remote < out[j].Remote })
	return out
}

func (c *Coordinator) changed(fn func(*peer.Session), active *peer.Session) {
	metrics.ActiveViewChanges.Inc()
	ev := log.Info().Str("module", "view")
	if active != nil {
		ev = ev.Str("remote", string(active.Remote))
	}
	ev.Msg("active view changed")
	if fn != nil {
		fn(active)
	}
}
