// Package bus publishes pipeline events on Redis pub/sub channels.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"polysentry/config"
)

const (
	// ChannelFailover carries data-source failover events.
	ChannelFailover = "data_source:failover"
	// ChannelAlerts carries persisted alert rows.
	ChannelAlerts = "polymarket:alerts"
)

// Publisher is the seam components broadcast through; tests substitute
// a recorder.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// FailoverEvent is the payload on ChannelFailover.
type FailoverEvent struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus is a Redis-backed Publisher. With no Redis configured it is a
// logged no-op so the pipeline runs without a broker.
type Bus struct {
	logger *zap.Logger
	rdb    *redis.Client
}

func New(logger *zap.Logger, cfg *config.Config) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bus{logger: logger}
	if cfg.Redis.Addr != "" {
		b.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	return b
}

// Publish marshals the payload to JSON and publishes it.
func (b *Bus) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", channel, err)
	}

	if b.rdb == nil {
		b.logger.Debug("bus disabled, dropping event",
			zap.String("channel", channel),
			zap.ByteString("payload", data),
		)
		return nil
	}

	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Close releases the Redis connection.
func (b *Bus) Close() error {
	if b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
