package bus

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is a Bus backed by a Redis Pub/Sub channel, letting the event fan-out
// survive across multiple server processes sharing one Redis instance. Each
// logical bus (one per session, one per user) gets its own channel name.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger

	local *Local // tracks local Go-channel subscribers fed by the Redis subscription
}

// NewRedis starts relaying messages published on channel through client into
// local subscribers. The background relay goroutine exits when ctx is
// canceled.
func NewRedis(ctx context.Context, client *redis.Client, channel string, logger *zap.Logger) *Redis {
	r := &Redis{
		client:  client,
		channel: channel,
		logger:  logger,
		local:   NewLocal(),
	}

	sub := client.Subscribe(ctx, channel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				r.local.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					r.local.Close()
					return
				}
				r.local.Publish(ctx, msg.Payload)
			}
		}
	}()

	return r
}

func (r *Redis) Publish(ctx context.Context, msg string) {
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		r.logger.Warn("redis publish failed", zap.String("channel", r.channel), zap.Error(err))
	}
}

func (r *Redis) Subscribe(ctx context.Context) (<-chan string, func()) {
	return r.local.Subscribe(ctx)
}
