package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yothgewalt/discount-card-portal-server/internal/config"
	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
	"github.com/yothgewalt/discount-card-portal-server/package/redis"
)

const (
	failureKeyPrefix = "admin_login_failures:"
	lockKeyPrefix    = "admin_login_lock:"
)

// Lockout blocks admin logins for an email after repeated failures inside
// a window. A blocked attempt never reaches the backend.
type Lockout struct {
	redis       redis.RedisService
	maxAttempts int
	window      time.Duration
	duration    time.Duration
}

func NewLockout(redisService redis.RedisService, cfg config.AdminAuthConfig) *Lockout {
	return &Lockout{
		redis:       redisService,
		maxAttempts: cfg.MaxAttempts,
		window:      cfg.Window,
		duration:    cfg.Lockout,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Check returns a RateLimited failure while email is locked.
func (l *Lockout) Check(ctx context.Context, email string) error {
	key := lockKeyPrefix + normalizeEmail(email)

	n, err := l.redis.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read login lock: %w", err)
	}
	if n == 0 {
		return nil
	}

	remaining, err := l.redis.TTL(ctx, key)
	if err != nil || remaining <= 0 {
		remaining = l.duration
	}
	return failure.Throttled(lockedMessage(remaining), remaining)
}

// RecordFailure counts a failed login. The first failure opens the window;
// reaching the limit sets the lock and starts counting from zero again.
func (l *Lockout) RecordFailure(ctx context.Context, email string) (locked bool, err error) {
	email = normalizeEmail(email)
	counter := failureKeyPrefix + email

	count, err := l.redis.Incr(ctx, counter)
	if err != nil {
		return false, fmt.Errorf("failed to count login failure: %w", err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, counter, l.window); err != nil {
			return false, fmt.Errorf("failed to set login failure window: %w", err)
		}
	}
	if count < int64(l.maxAttempts) {
		return false, nil
	}

	if err := l.redis.Set(ctx, lockKeyPrefix+email, time.Now().UTC().Format(time.RFC3339), l.duration); err != nil {
		return false, fmt.Errorf("failed to set login lock: %w", err)
	}
	if _, err := l.redis.Delete(ctx, counter); err != nil {
		return true, fmt.Errorf("failed to reset login failures: %w", err)
	}
	return true, nil
}

func (l *Lockout) Failures(ctx context.Context, email string) (int, error) {
	value, err := l.redis.Get(ctx, failureKeyPrefix+normalizeEmail(email))
	if errors.Is(err, redis.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read login failures: %w", err)
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("failed to parse login failures: %w", err)
	}
	return n, nil
}

func (l *Lockout) Reset(ctx context.Context, email string) error {
	_, err := l.redis.Delete(ctx, failureKeyPrefix+normalizeEmail(email))
	return err
}

func lockedMessage(remaining time.Duration) string {
	seconds := int((remaining + time.Second - 1) / time.Second)
	return fmt.Sprintf("Too many failed attempts. Try again in %02d:%02d.", seconds/60, seconds%60)
}
