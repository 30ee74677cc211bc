// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/missionops/voicesync/internal/metrics"
)

// StreamBus publishes events to Redis Streams via XADD. Streams are capped
// to maxLen entries (approximate trimming) so an absent consumer cannot
// grow them without bound.
type StreamBus struct {
	client *redis.Client
	logger zerolog.Logger
	maxLen int64
}

// StreamConfig holds Redis Streams connection configuration.
type StreamConfig struct {
	Addr     string
	Password string
	DB       int
	MaxLen   int64 // entries kept per stream; defaults to 10000
}

// NewStreamBus creates a Redis Streams broadcaster and verifies connectivity.
func NewStreamBus(cfg StreamConfig, logger zerolog.Logger) (*StreamBus, error) {
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 10000
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis streams connection failed: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Msg("connected to Redis streams")

	return &StreamBus{client: client, logger: logger, maxLen: cfg.MaxLen}, nil
}

// newStreamBusFromClient wires an existing client; used by tests.
func newStreamBusFromClient(client *redis.Client, logger zerolog.Logger, maxLen int64) *StreamBus {
	return &StreamBus{client: client, logger: logger, maxLen: maxLen}
}

func (b *StreamBus) Publish(ctx context.Context, topic string, evt Event) error {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		metrics.RecordBusPublish(topic, "failure")
		return fmt.Errorf("marshal event data: %w", err)
	}

	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": evt.Type,
			"data": data,
			"ts":   evt.TS.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		metrics.RecordBusPublish(topic, "failure")
		return fmt.Errorf("xadd %s: %w", topic, err)
	}

	metrics.RecordBusPublish(topic, "success")
	return nil
}

func (b *StreamBus) Close() error {
	return b.client.Close()
}

var _ Bus = (*StreamBus)(nil)
