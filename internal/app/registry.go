package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/Vision/internal/core"
	"github.com/dkeye/Vision/internal/domain"
	"github.com/dkeye/Vision/internal/metrics"
	"github.com/rs/zerolog/log"
)

var ErrNotConnected = errors.New("member not connected")

// Registry is the Session Registry: room membership plus the signaling
// connections used to announce membership changes.
//
// Join and Leave are serialized and fan out while still holding the lock,
// so each member channel sees events in the order the registry emitted them.
// With a shared store only members connected to this process are notified.
type Registry struct {
	mu     sync.Mutex
	store  core.MembershipStore
	conns  map[domain.MemberID]core.SignalConnection
	policy Policy
}

func NewRegistry(store core.MembershipStore, policy Policy) *Registry {
	if policy == nil {
		policy = SimplePolicy{Action: DropEvent}
	}
	return &Registry{
		store:  store,
		conns:  make(map[domain.MemberID]core.SignalConnection),
		policy: policy,
	}
}

// Connect binds a member's signaling channel. It does not join a room.
func (r *Registry) Connect(member domain.MemberID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[member] = conn
	metrics.SignalConnections.Inc()
	log.Info().Str("module", "app.registry").Str("member", string(member)).Msg("bound signal")
}

// Join adds member to room, returns the room's members, sends the joiner a
// room-state with the others and tells every other member about the
// newcomer. Joining the room one is already in only repeats the room-state.
func (r *Registry) Join(ctx context.Context, room domain.RoomID, member domain.MemberID) ([]domain.MemberID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok, err := r.store.RoomOf(ctx, member)
	if err != nil {
		return nil, fmt.Errorf("lookup room of %s: %w", member, err)
	}
	if ok && cur != room {
		return nil, domain.ErrAlreadyJoined
	}
	members, err := r.store.Join(ctx, room, member)
	if err != nil {
		return nil, err
	}

	// room-state goes out under the lock so no later peer-left can overtake it.
	others := slices.DeleteFunc(slices.Clone(members), func(m domain.MemberID) bool { return m == member })
	if err := r.sendLocked(member, domain.Envelope{Type: domain.EventRoomState, Room: room, Members: others}); err != nil {
		log.Warn().Err(err).Str("module", "app.registry").Str("member", string(member)).Msg("room state not delivered")
	}
	if ok {
		return members, nil
	}

	metrics.RecordJoin()
	log.Info().Str("module", "app.registry").Str("member", string(member)).Str("room", string(room)).Int("members", len(members)).Msg("joined")
	r.fanout(others, domain.Envelope{Type: domain.EventPeerJoined, Room: room, Member: member})
	return members, nil
}

// Leave removes member from its room. Unknown members are ignored.
func (r *Registry) Leave(ctx context.Context, member domain.MemberID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(ctx, member, "leave")
}

// Disconnect is the implicit leave issued when a member's transport drops.
func (r *Registry) Disconnect(ctx context.Context, member domain.MemberID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[member]; ok {
		delete(r.conns, member)
		metrics.SignalConnections.Dec()
	}
	log.Info().Str("module", "app.registry").Str("member", string(member)).Msg("unbind signal")
	return r.leaveLocked(ctx, member, "disconnect")
}

func (r *Registry) leaveLocked(ctx context.Context, member domain.MemberID, reason string) error {
	room, remaining, ok, err := r.store.Leave(ctx, member)
	if err != nil {
		return fmt.Errorf("leave %s: %w", member, err)
	}
	if !ok {
		return nil
	}
	metrics.RecordLeave(reason)
	log.Info().Str("module", "app.registry").Str("member", string(member)).Str("room", string(room)).Str("reason", reason).Msg("left")
	r.fanout(remaining, domain.Envelope{Type: domain.EventPeerLeft, Room: room, Member: member})
	return nil
}

// Send delivers env to a single connected member.
func (r *Registry) Send(to domain.MemberID, env domain.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sendLocked(to, env)
}

func (r *Registry) sendLocked(to domain.MemberID, env domain.Envelope) error {
	conn, ok := r.conns[to]
	if !ok {
		return ErrNotConnected
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Type, err)
	}
	return conn.TrySend(b)
}

func (r *Registry) RoomOf(ctx context.Context, member domain.MemberID) (domain.RoomID, bool, error) {
	return r.store.RoomOf(ctx, member)
}

func (r *Registry) Members(ctx context.Context, room domain.RoomID) ([]domain.MemberID, error) {
	return r.store.Members(ctx, room)
}

func (r *Registry) Rooms(ctx context.Context) ([]core.RoomInfo, error) {
	return r.store.Rooms(ctx)
}

func (r *Registry) fanout(to []domain.MemberID, env domain.Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Msg("fanout marshal")
		return
	}
	sent := 0
	for _, m := range to {
		conn, ok := r.conns[m]
		if !ok {
			continue
		}
		if err := conn.TrySend(b); err != nil {
			metrics.DroppedEvents.Inc()
			log.Warn().Err(err).Str("module", "app.registry").Str("member", string(m)).Str("type", string(env.Type)).Msg("event dropped")
			if r.policy.OnBackPressure(m, env) == KickMember {
				conn.Close()
			}
			continue
		}
		sent++
	}
	log.Debug().Str("module", "app.registry").Str("type", string(env.Type)).Int("sent_to", sent).Int("targets", len(to)).Msg("fanout result")
}
