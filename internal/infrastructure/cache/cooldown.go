package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCooldownStore keeps alert rule firings in Redis so a restarted
// process does not fire again inside a rule's cooldown. A firing is a key
// with the cooldown as its TTL; a claim succeeds only when no key exists.
type RedisCooldownStore struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

func NewRedisCooldownStore(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisCooldownStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCooldownStore{client: client, prefix: prefix, logger: logger}
}

func (s *RedisCooldownStore) key(ruleID string) string {
	return s.prefix + "cooldown:" + ruleID
}

// Claim records a firing at `at` unless one is still live. A zero or
// negative ttl always claims and stores nothing.
func (s *RedisCooldownStore) Claim(ctx context.Context, ruleID string, at time.Time, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return true, nil
	}
	ok, err := s.client.SetNX(ctx, s.key(ruleID), at.UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		s.logger.Error("redis cooldown claim failed", zap.String("rule_id", ruleID), zap.Error(err))
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// LastFired returns the firing that holds the rule's cooldown, if any.
func (s *RedisCooldownStore) LastFired(ctx context.Context, ruleID string) (*time.Time, error) {
	raw, err := s.client.Get(ctx, s.key(ruleID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt cooldown for rule %s: %w", ruleID, err)
	}
	return &at, nil
}

// Release drops a rule's cooldown, e.g. when the rule is deleted.
func (s *RedisCooldownStore) Release(ctx context.Context, ruleID string) error {
	if err := s.client.Del(ctx, s.key(ruleID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}
