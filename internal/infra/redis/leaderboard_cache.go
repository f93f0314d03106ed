package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/domain"
)

// LeaderboardCache holds short-lived leaderboard snapshots so a classroom of
// clients polling every few seconds shares one ranking computation. A miss
// is never an error; callers recompute and Set.
// Keys: SET board:{sessionID} {json}
type LeaderboardCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLeaderboardCache(client *redis.Client, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{client: client, ttl: ttl}
}

func (c *LeaderboardCache) Get(ctx context.Context, sessionID string) (domain.Leaderboard, bool, error) {
	raw, err := c.client.Get(ctx, boardKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Leaderboard{}, false, nil
	}
	if err != nil {
		return domain.Leaderboard{}, false, err
	}
	var lb domain.Leaderboard
	if err := json.Unmarshal([]byte(raw), &lb); err != nil {
		return domain.Leaderboard{}, false, err
	}
	return lb, true, nil
}

func (c *LeaderboardCache) Set(ctx context.Context, sessionID string, lb domain.Leaderboard) error {
	data, err := json.Marshal(lb)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, boardKey(sessionID), data, c.ttl).Err()
}

func (c *LeaderboardCache) Invalidate(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, boardKey(sessionID)).Err()
}

func boardKey(sessionID string) string {
	return "board:" + sessionID
}
