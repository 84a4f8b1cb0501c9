package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
	"github.com/yothgewalt/discount-card-portal-server/package/jwt"
	"github.com/yothgewalt/discount-card-portal-server/package/redis"
)

const visitorKeyPrefix = "visitor:"

// Visitor is one browser's session with the portal. It holds the backend
// tokens that used to live in the browser's local storage.
type Visitor struct {
	ID             string     `json:"id"`
	AccessToken    string     `json:"access_token,omitempty"`
	AdminToken     string     `json:"admin_token,omitempty"`
	AdminEmail     string     `json:"admin_email,omitempty"`
	AdminExpiresAt *time.Time `json:"admin_expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastSeenAt     time.Time  `json:"last_seen_at"`
}

func (v *Visitor) clearAdmin() {
	v.AdminToken = ""
	v.AdminEmail = ""
	v.AdminExpiresAt = nil
}

// prune forgets tokens that can no longer be used at now and reports
// whether anything changed.
func (v *Visitor) prune(now time.Time) bool {
	changed := false
	if v.AccessToken != "" && !tokenUsable(v.AccessToken, now) {
		v.AccessToken = ""
		changed = true
	}
	if v.AdminToken != "" {
		expired := v.AdminExpiresAt != nil && !now.Before(*v.AdminExpiresAt)
		if expired || !tokenUsable(v.AdminToken, now) {
			v.clearAdmin()
			changed = true
		}
	}
	return changed
}

func tokenUsable(token string, now time.Time) bool {
	_, err := jwt.CheckUsable(token, now)
	return !errors.Is(err, jwt.ErrExpiredToken)
}

type VisitorStore struct {
	redis redis.RedisService
	ttl   time.Duration
}

func NewVisitorStore(redisService redis.RedisService, ttl time.Duration) *VisitorStore {
	return &VisitorStore{redis: redisService, ttl: ttl}
}

func visitorKey(id string) string {
	return visitorKeyPrefix + id
}

func (s *VisitorStore) Create(ctx context.Context, now time.Time) (*Visitor, error) {
	v := &Visitor{
		ID:         uuid.NewString(),
		CreatedAt:  now.UTC(),
		LastSeenAt: now.UTC(),
	}
	if err := s.Save(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *VisitorStore) Load(ctx context.Context, id string) (*Visitor, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, failure.Missing("visitor session not found")
	}

	data, err := s.redis.GetBytes(ctx, visitorKey(id))
	if err != nil {
		if errors.Is(err, redis.ErrNotFound) {
			return nil, failure.Missing("visitor session not found")
		}
		return nil, fmt.Errorf("failed to load visitor session: %w", err)
	}

	v := &Visitor{}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("failed to decode visitor session: %w", err)
	}
	return v, nil
}

// Save writes v and restarts its TTL.
func (s *VisitorStore) Save(ctx context.Context, v *Visitor) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode visitor session: %w", err)
	}
	if err := s.redis.Set(ctx, visitorKey(v.ID), data, s.ttl); err != nil {
		return fmt.Errorf("failed to save visitor session: %w", err)
	}
	return nil
}

func (s *VisitorStore) Delete(ctx context.Context, id string) error {
	if _, err := s.redis.Delete(ctx, visitorKey(id)); err != nil {
		return fmt.Errorf("failed to delete visitor session: %w", err)
	}
	return nil
}
