package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"sagaflow/internal/contracts"
	"sagaflow/internal/reliability"
)

// KafkaPublisher writes envelopes to Kafka, one topic per message kind group.
// Keying by order id keeps each order's messages on one partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

// NewKafkaPublisher constructs a publisher for the given brokers.
func NewKafkaPublisher(brokers []string, log *zap.Logger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		log: log,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, env contracts.Envelope) error {
	msg, err := kafkaMessage(env)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s to %s: %w", env.MessageID, msg.Topic, err)
	}
	p.log.Debug("published",
		zap.String("topic", msg.Topic),
		zap.String("kind", env.Kind),
		zap.String("message_id", env.MessageID),
	)
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func kafkaMessage(env contracts.Envelope) (kafka.Message, error) {
	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode envelope %s: %w", env.MessageID, err)
	}
	return kafka.Message{
		Topic: contracts.TopicFor(env.Kind),
		Key:   []byte(env.OrderID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "message-id", Value: []byte(env.MessageID)},
			{Key: "kind", Value: []byte(env.Kind)},
		},
	}, nil
}

// KafkaConsumerConfig configures a KafkaConsumer.
type KafkaConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Workers int
	// RetryDelay paces redelivery attempts when the handler keeps failing.
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// KafkaConsumer runs a pool of group readers against one topic. Each worker
// owns its reader; offsets are committed only after the handler succeeds, so
// delivery is at least once.
type KafkaConsumer struct {
	cfg KafkaConsumerConfig
	log *zap.Logger
}

// NewKafkaConsumer constructs a consumer, applying defaults for unset fields.
func NewKafkaConsumer(cfg KafkaConsumerConfig) *KafkaConsumer {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaConsumer{cfg: cfg, log: log}
}

// Run consumes until the context ends. It returns the first worker error that
// is not a context cancellation.
func (c *KafkaConsumer) Run(ctx context.Context, handler Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, c.cfg.Workers)
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.runWorker(ctx, handler); err != nil {
				errCh <- err
				cancel()
			}
		}()
	}
	wg.Wait()
	close(errCh)
	return <-errCh
}

func (c *KafkaConsumer) runWorker(ctx context.Context, handler Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		Topic:    c.cfg.Topic,
		GroupID:  c.cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10 << 20,
	})
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch from %s: %w", c.cfg.Topic, err)
		}

		var env contracts.Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			// Skip the malformed record; the handler never saw it, so
			// there is nothing to redeliver.
			c.log.Warn("malformed envelope skipped",
				zap.String("topic", c.cfg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		} else {
			// Keep redelivering in place until the handler accepts; the
			// worker must not commit past a failed message.
			for {
				handleErr := handler(ctx, env)
				if handleErr == nil {
					break
				}
				c.log.Warn("handler failed, will redeliver",
					zap.String("message_id", env.MessageID),
					zap.String("kind", env.Kind),
					zap.Error(handleErr),
				)
				if err := reliability.SleepWithContext(ctx, c.cfg.RetryDelay); err != nil {
					return nil
				}
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}
