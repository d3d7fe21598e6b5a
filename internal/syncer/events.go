package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// EventOffersSynced is the channel a finished pass is announced on.
const EventOffersSynced = "EVENT_OFFERS_SYNCED"

// Publisher announces finished passes to downstream services.
type Publisher interface {
	Publish(ctx context.Context, stats *Stats) error
}

// RedisPublisher publishes pass stats as JSON on a Redis channel.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher returns a Publisher on channel, EventOffersSynced if empty.
func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = EventOffersSynced
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

// Publish sends stats on the channel.
func (p *RedisPublisher) Publish(ctx context.Context, stats *Stats) error {
	event, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal sync event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, event).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}
