package activation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
	"github.com/yothgewalt/discount-card-portal-server/package/redis"
)

const (
	flowKeyPrefix    = "activation_flow:"
	lockKeyPrefix    = "activation_lock:"
	visitorKeyPrefix = "visitor_flows:"
)

// releaseScript deletes a lock only while it still holds the caller's token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the lock's TTL only while it still holds the caller's token.
var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type FlowStore struct {
	redis redis.RedisService
	slack time.Duration
}

func NewFlowStore(redisService redis.RedisService, slack time.Duration) *FlowStore {
	return &FlowStore{redis: redisService, slack: slack}
}

func flowKey(id string) string    { return flowKeyPrefix + id }
func lockKey(id string) string    { return lockKeyPrefix + id }
func visitorKey(id string) string { return visitorKeyPrefix + id }

// Save writes f with a TTL that outlives both the code and the card window.
func (s *FlowStore) Save(ctx context.Context, f *Flow, now time.Time) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode activation flow: %w", err)
	}

	ttl := f.horizon().Sub(now) + s.slack
	if ttl < s.slack {
		ttl = s.slack
	}

	if err := s.redis.Set(ctx, flowKey(f.ID), data, ttl); err != nil {
		return fmt.Errorf("failed to save activation flow: %w", err)
	}
	if _, err := s.redis.SAdd(ctx, visitorKey(f.VisitorID), f.ID); err != nil {
		return fmt.Errorf("failed to index activation flow: %w", err)
	}
	// the index lives as long as its longest-lived flow
	if current, err := s.redis.TTL(ctx, visitorKey(f.VisitorID)); err == nil && current >= ttl {
		return nil
	}
	if err := s.redis.Expire(ctx, visitorKey(f.VisitorID), ttl); err != nil {
		return fmt.Errorf("failed to index activation flow: %w", err)
	}
	return nil
}

func (s *FlowStore) Load(ctx context.Context, id string) (*Flow, error) {
	data, err := s.redis.GetBytes(ctx, flowKey(id))
	if err != nil {
		if errors.Is(err, redis.ErrNotFound) {
			return nil, failure.Missing("This activation is no longer open.")
		}
		return nil, fmt.Errorf("failed to load activation flow: %w", err)
	}

	f := &Flow{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to decode activation flow: %w", err)
	}
	return f, nil
}

func (s *FlowStore) Delete(ctx context.Context, f *Flow) error {
	if _, err := s.redis.Delete(ctx, flowKey(f.ID)); err != nil {
		return fmt.Errorf("failed to delete activation flow: %w", err)
	}
	if _, err := s.redis.SRemove(ctx, visitorKey(f.VisitorID), f.ID); err != nil {
		return fmt.Errorf("failed to unindex activation flow: %w", err)
	}
	return nil
}

func (s *FlowStore) VisitorFlows(ctx context.Context, visitorID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, visitorKey(visitorID))
	if err != nil {
		return nil, fmt.Errorf("failed to list activation flows: %w", err)
	}
	return ids, nil
}

func (s *FlowStore) DropVisitor(ctx context.Context, visitorID string) error {
	_, err := s.redis.Delete(ctx, visitorKey(visitorID))
	return err
}

// Lock is a held submission lock. Release is safe to call after the lock
// expired.
type Lock struct {
	store *FlowStore
	key   string
	token string
	ttl   time.Duration
	ctx   context.Context
}

// Acquire takes the submission lock of flow id. A held lock is a Conflict.
func (s *FlowStore) Acquire(ctx context.Context, id string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()

	ok, err := s.redis.SetNX(ctx, lockKey(id), token, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to take activation lock: %w", err)
	}
	if !ok {
		return nil, failure.Busy("A request is already in progress.")
	}

	return &Lock{store: s, key: lockKey(id), token: token, ttl: ttl, ctx: ctx}, nil
}

// Extend restarts the lock's TTL. A lock that already lapsed, or that
// another request took over, is a Conflict.
func (l *Lock) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, l.store.redis.GetClient(), []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend activation lock: %w", err)
	}
	if n == 0 {
		return failure.Busy("A request is already in progress.")
	}
	return nil
}

func (l *Lock) Release() {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(l.ctx), 2*time.Second)
	defer cancel()
	_ = releaseScript.Run(releaseCtx, l.store.redis.GetClient(), []string{l.key}, l.token).Err()
}

func (s *FlowStore) Locked(ctx context.Context, id string) bool {
	n, err := s.redis.Exists(ctx, lockKey(id))
	return err == nil && n > 0
}
