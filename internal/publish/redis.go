// Package publish mirrors the latest fresh snapshot per symbol into Redis
// so dashboards and bots can poll a key instead of hitting the engine API.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexflow/internal/market"
)

type RedisPublisher struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisPublisher connects and verifies the Redis backend.
func NewRedisPublisher(addr string, ttl time.Duration, logger *zap.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisPublisher{
		client: client,
		ttl:    ttl,
		logger: logger,
	}, nil
}

func snapshotKey(symbol string) string {
	return "gexflow:snapshot:" + symbol
}

// OnFresh implements the engine sink: SET the serialized snapshot under
// gexflow:snapshot:{symbol} with a TTL. Failures are logged, never fatal.
func (p *RedisPublisher) OnFresh(ctx context.Context, snap *market.Snapshot, _ []market.Alert) {
	payload, err := json.Marshal(snap)
	if err != nil {
		p.logger.Warn("snapshot marshal failed", zap.Error(err))
		return
	}
	if err := p.client.Set(ctx, snapshotKey(snap.Symbol), payload, p.ttl).Err(); err != nil {
		p.logger.Warn("redis publish failed",
			zap.String("symbol", snap.Symbol), zap.Error(err))
	}
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
