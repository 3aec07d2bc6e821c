package deadletter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"sagaflow/internal/contracts"
)

// RedisStreamClient is the minimal client surface used by RedisSink.
type RedisStreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisSink appends dead letters to a Redis stream for out-of-band inspection
// and replay.
type RedisSink struct {
	client RedisStreamClient
	stream string
	maxLen int64
	now    func() time.Time
}

// NewRedisSink constructs a Redis-backed sink.
func NewRedisSink(client RedisStreamClient, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = "saga_dead_letters"
	}
	return &RedisSink{
		client: client,
		stream: stream,
		maxLen: maxLen,
		now:    time.Now,
	}
}

func (s *RedisSink) Push(ctx context.Context, env contracts.Envelope, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"message_id": env.MessageID,
			"kind":       env.Kind,
			"order_id":   env.OrderID,
			"reason":     reason,
			"payload":    string(env.Payload),
			"at":         s.now().UTC().Format(time.RFC3339Nano),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	return s.client.XAdd(ctx, args).Err()
}

var _ Sink = (*RedisSink)(nil)
