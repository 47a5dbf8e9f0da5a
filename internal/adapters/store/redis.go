// Package store holds MembershipStore backends shared across server processes.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dkeye/Vision/internal/core"
	"github.com/dkeye/Vision/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	keyPrefix  = "vision:"
	maxRetries = 5
)

// RedisStore keeps membership in Redis so several signaling processes can
// share one view of every room. Layout:
//
//	vision:member:<id>        -> room id
//	vision:room:<id>:members  -> set of member ids
//	vision:rooms              -> set of non-empty room ids
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	if redisURL == "" {
		return nil, errors.New("redis URL must be provided")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info().Str("module", "store.redis").Str("addr", opts.Addr).Msg("connected to Redis")
	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error { return s.client.Close() }

func memberKey(m domain.MemberID) string { return keyPrefix + "member:" + string(m) }
func roomKey(r domain.RoomID) string     { return keyPrefix + "room:" + string(r) + ":members" }
func roomsKey() string                   { return keyPrefix + "rooms" }

func (s *RedisStore) Join(ctx context.Context, room domain.RoomID, member domain.MemberID) ([]domain.MemberID, error) {
	mk := memberKey(member)
	err := s.watch(ctx, mk, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, mk).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		case domain.RoomID(cur) != room:
			return domain.ErrAlreadyJoined
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, mk, string(room), 0)
			p.SAdd(ctx, roomKey(room), string(member))
			p.SAdd(ctx, roomsKey(), string(room))
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.Members(ctx, room)
}

func (s *RedisStore) Leave(ctx context.Context, member domain.MemberID) (domain.RoomID, []domain.MemberID, bool, error) {
	mk := memberKey(member)
	var (
		room      domain.RoomID
		remaining []domain.MemberID
		found     bool
	)
	err := s.watch(ctx, mk, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, mk).Result()
		if errors.Is(err, redis.Nil) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		room, found = domain.RoomID(cur), true

		// a concurrent join into the same room must abort the room's removal
		if err := tx.Watch(ctx, roomKey(room)).Err(); err != nil {
			return err
		}
		raw, err := tx.SMembers(ctx, roomKey(room)).Result()
		if err != nil {
			return err
		}
		remaining = remaining[:0]
		for _, m := range raw {
			if domain.MemberID(m) != member {
				remaining = append(remaining, domain.MemberID(m))
			}
		}
		slices.Sort(remaining)

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, mk)
			p.SRem(ctx, roomKey(room), string(member))
			if len(remaining) == 0 {
				p.SRem(ctx, roomsKey(), string(room))
			}
			return nil
		})
		return err
	})
	if err != nil || !found {
		return "", nil, false, err
	}
	if len(remaining) == 0 {
		log.Debug().Str("module", "store.redis").Str("room", string(room)).Msg("room emptied")
	}
	return room, remaining, true, nil
}

func (s *RedisStore) RoomOf(ctx context.Context, member domain.MemberID) (domain.RoomID, bool, error) {
	cur, err := s.client.Get(ctx, memberKey(member)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return domain.RoomID(cur), true, nil
}

func (s *RedisStore) Members(ctx context.Context, room domain.RoomID) ([]domain.MemberID, error) {
	raw, err := s.client.SMembers(ctx, roomKey(room)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.MemberID, 0, len(raw))
	for _, m := range raw {
		out = append(out, domain.MemberID(m))
	}
	slices.Sort(out)
	return out, nil
}

func (s *RedisStore) Rooms(ctx context.Context) ([]core.RoomInfo, error) {
	ids, err := s.client.SMembers(ctx, roomsKey()).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	out := make([]core.RoomInfo, 0, len(ids))
	for _, id := range ids {
		n, err := s.client.SCard(ctx, roomKey(domain.RoomID(id))).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		out = append(out, core.RoomInfo{ID: domain.RoomID(id), MemberCount: int(n)})
	}
	return out, nil
}

// watch runs fn in an optimistic transaction on key, retrying when another
// process touched the key between WATCH and EXEC.
func (s *RedisStore) watch(ctx context.Context, key string, fn func(*redis.Tx) error) error {
	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		log.Debug().Str("module", "store.redis").Str("key", key).Int("attempt", i+1).Msg("transaction conflict, retrying")
	}
	return fmt.Errorf("watch %s: %w", key, redis.TxFailedErr)
}

var _ core.MembershipStore = (*RedisStore)(nil)
