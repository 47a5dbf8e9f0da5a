package signal

import (
	"sync"
	"time"

	"github.com/dkeye/Vision/internal/domain"
)

// RoomRateLimiter bounds join attempts per member within a sliding window.
type RoomRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.MemberID][]time.Time
	limit    int
	interval time.Duration
}

func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	return &RoomRateLimiter{
		history:  make(map[domain.MemberID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *RoomRateLimiter) Allow(member domain.MemberID) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[member]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[member] = fresh
		return false
	}

	rl.history[member] = append(fresh, now)
	return true
}

// Forget drops a member's history once its connection is gone.
func (rl *RoomRateLimiter) Forget(member domain.MemberID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, member)
}
