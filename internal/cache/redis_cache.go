package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kasirinaja/posledger/internal/domain"
)

const snapshotKeyPrefix = "posledger:sale-snapshot:"

func SnapshotKey(saleID string) string {
	return snapshotKeyPrefix + saleID
}

type RedisSaleSnapshotCache struct {
	client *redis.Client
}

func NewRedisSaleSnapshotCache(addr string, password string, db int) *RedisSaleSnapshotCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSaleSnapshotCache{client: client}
}

func (c *RedisSaleSnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSaleSnapshotCache) Close() error {
	return c.client.Close()
}

func (c *RedisSaleSnapshotCache) Get(ctx context.Context, saleID string) (*domain.SaleSnapshot, bool, error) {
	val, err := c.client.Get(ctx, SnapshotKey(saleID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var snapshot domain.SaleSnapshot
	if err := json.Unmarshal([]byte(val), &snapshot); err != nil {
		return nil, false, err
	}
	return &snapshot, true, nil
}

func (c *RedisSaleSnapshotCache) Set(ctx context.Context, snapshot *domain.SaleSnapshot, ttl time.Duration) error {
	if snapshot == nil {
		return nil
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, SnapshotKey(snapshot.Sale.ID), payload, ttl).Err()
}

func (c *RedisSaleSnapshotCache) Delete(ctx context.Context, saleID string) error {
	return c.client.Del(ctx, SnapshotKey(saleID)).Err()
}
