package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"campusevents/internal/dto"
)

// StatsCache is a short-lived Redis cache in front of the attendance stats
// query. It is a read optimization only: the live registration count stays
// authoritative, so any cache failure degrades to a direct query.
type StatsCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zerolog.Logger
}

func NewStatsCache(client *redis.Client, ttl time.Duration, log *zerolog.Logger) *StatsCache {
	return &StatsCache{client: client, ttl: ttl, log: log}
}

func statsKey(eventID string) string {
	return fmt.Sprintf("attendance:stats:%s", eventID)
}

func (c *StatsCache) Get(ctx context.Context, eventID string) (*dto.AttendanceStatsResponse, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, statsKey(eventID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Str("event_id", eventID).Msg("stats cache read failed")
		}
		return nil, false
	}

	var stats dto.AttendanceStatsResponse
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		c.log.Warn().Err(err).Str("event_id", eventID).Msg("stats cache entry corrupt, dropping")
		c.Invalidate(ctx, eventID)
		return nil, false
	}
	return &stats, true
}

func (c *StatsCache) Set(ctx context.Context, eventID string, stats *dto.AttendanceStatsResponse) {
	if c == nil || c.client == nil {
		return
	}

	raw, err := json.Marshal(stats)
	if err != nil {
		c.log.Warn().Err(err).Str("event_id", eventID).Msg("failed to encode stats for cache")
		return
	}
	if err := c.client.Set(ctx, statsKey(eventID), raw, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("event_id", eventID).Msg("stats cache write failed")
	}
}

func (c *StatsCache) Invalidate(ctx context.Context, eventID string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, statsKey(eventID)).Err(); err != nil {
		c.log.Warn().Err(err).Str("event_id", eventID).Msg("stats cache invalidation failed")
	}
}
