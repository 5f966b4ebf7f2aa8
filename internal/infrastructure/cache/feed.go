package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/performance-control-loop/internal/domain/sample"
)

// RedisFeed is a bounded metrics feed shared across processes. Each unit is
// a list of JSON interactions, oldest first, trimmed to capacity on append.
type RedisFeed struct {
	client   redis.UniversalClient
	prefix   string
	capacity int
	logger   *zap.Logger
}

func NewRedisFeed(client redis.UniversalClient, prefix string, capacity int, logger *zap.Logger) *RedisFeed {
	if capacity <= 0 {
		capacity = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisFeed{client: client, prefix: prefix, capacity: capacity, logger: logger}
}

func (f *RedisFeed) unitsKey() string {
	return f.prefix + "feed:units"
}

func (f *RedisFeed) listKey(unit string) string {
	return f.prefix + "feed:unit:" + unit
}

// Append adds interactions for a unit in one round trip.
func (f *RedisFeed) Append(ctx context.Context, unit string, in ...sample.Interaction) error {
	if len(in) == 0 {
		return nil
	}
	values := make([]any, len(in))
	for i, it := range in {
		b, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("json marshal failed: %w", err)
		}
		values[i] = b
	}

	key := f.listKey(unit)
	_, err := f.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, f.unitsKey(), unit)
		p.RPush(ctx, key, values...)
		p.LTrim(ctx, key, int64(-f.capacity), -1)
		return nil
	})
	if err != nil {
		f.logger.Error("redis feed append failed", zap.String("unit", unit), zap.Error(err))
		return fmt.Errorf("redis feed append failed: %w", err)
	}
	return nil
}

func (f *RedisFeed) Units(ctx context.Context) ([]string, error) {
	units, err := f.client.SMembers(ctx, f.unitsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	sort.Strings(units)
	return units, nil
}

// Recent returns at most limit interactions for a unit, oldest first. A
// non-positive limit returns everything retained.
func (f *RedisFeed) Recent(ctx context.Context, unit string, limit int) ([]sample.Interaction, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := f.client.LRange(ctx, f.listKey(unit), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}

	out := make([]sample.Interaction, 0, len(raw))
	for _, r := range raw {
		var it sample.Interaction
		if err := json.Unmarshal([]byte(r), &it); err != nil {
			f.logger.Warn("skipping corrupt feed entry", zap.String("unit", unit), zap.Error(err))
			continue
		}
		out = append(out, it)
	}
	return out, nil
}
