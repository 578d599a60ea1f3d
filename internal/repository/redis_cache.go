package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"RegimePull/internal/domain/models"
	domrepo "RegimePull/internal/domain/repository"
)

// RedisSnapshotCache implements SnapshotCache over Redis. Each instrument and
// timeframe pair maps to one key holding the latest snapshot as JSON.
type RedisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSnapshotCache(addr, password string, db int, ttl time.Duration) (*RedisSnapshotCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSnapshotCache{client: client, ttl: ttl}, nil
}

func snapshotKey(instrument string, tf domrepo.Timeframe) string {
	return "regimepull:snapshot:" + instrument + ":" + string(tf)
}

func (c *RedisSnapshotCache) Set(ctx context.Context, s *models.RegimeSnapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	key := snapshotKey(s.InstrumentID, domrepo.Timeframe(s.Timeframe))
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisSnapshotCache) Get(ctx context.Context, instrument string, tf domrepo.Timeframe) (*models.RegimeSnapshot, bool, error) {
	payload, err := c.client.Get(ctx, snapshotKey(instrument, tf)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var snap models.RegimeSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, true, nil
}

// Close closes the underlying Redis connection.
func (c *RedisSnapshotCache) Close() error {
	return c.client.Close()
}
