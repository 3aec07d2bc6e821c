package outbox

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"sagaflow/internal/contracts"
	"sagaflow/internal/observability"
	"sagaflow/internal/reliability"
	"sagaflow/internal/saga"
	"sagaflow/internal/transport"
)

// PublisherConfig configures a Publisher. Store and Transport are required.
type PublisherConfig struct {
	Store     saga.Store
	Transport transport.Publisher
	Guard     reliability.Guard
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	// Interval is the background scan period; the publisher also drains
	// immediately when kicked after a save.
	Interval  time.Duration
	BatchSize int
}

// Publisher drains undelivered outbox entries to the transport. It replays
// exactly what the engine decided; a crash between save and publish is
// recovered by the next scan. Entries are marked delivered only after the
// transport accepts them, so delivery is at least once and receivers dedup on
// the message id.
type Publisher struct {
	store     saga.Store
	transport transport.Publisher
	guard     reliability.Guard
	log       *zap.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	batch     int
	kick      chan struct{}
}

// NewPublisher constructs a Publisher, applying defaults for unset fields.
func NewPublisher(cfg PublisherConfig) *Publisher {
	p := &Publisher{
		store:     cfg.Store,
		transport: cfg.Transport,
		guard:     cfg.Guard,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		interval:  cfg.Interval,
		batch:     cfg.BatchSize,
		kick:      make(chan struct{}, 1),
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	if p.interval <= 0 {
		p.interval = time.Second
	}
	if p.batch < 1 {
		p.batch = 100
	}
	return p
}

// Kick requests an immediate drain. It never blocks; a pending kick coalesces.
func (p *Publisher) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run drains until the context ends.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.drain(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-p.kick:
		}
	}
}

// Drain publishes pending entries until the outbox is empty or an entry fails.
// Exported for callers that want a synchronous flush (tests, shutdown).
func (p *Publisher) Drain(ctx context.Context) {
	p.drain(ctx)
}

func (p *Publisher) drain(ctx context.Context) {
	for {
		entries, err := p.store.PendingOutbox(ctx, p.batch)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Error("outbox scan failed", zap.Error(err))
			}
			return
		}
		p.metrics.SetOutboxPending(int64(len(entries)))
		if len(entries) == 0 {
			return
		}

		for _, entry := range entries {
			if err := p.publish(ctx, entry); err != nil {
				if ctx.Err() == nil {
					p.metrics.AddOutboxError()
					p.log.Error("outbox publish failed",
						zap.String("message_id", entry.MessageID),
						zap.String("kind", entry.Kind),
						zap.Error(err),
					)
				}
				// Leave the entry pending; the next scan retries it.
				return
			}
		}

		if len(entries) < p.batch {
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, entry saga.OutboxEntry) error {
	env := contracts.Envelope{
		MessageID:  entry.MessageID,
		Kind:       entry.Kind,
		OrderID:    entry.CorrelationID,
		OccurredAt: entry.CreatedAt,
		Payload:    json.RawMessage(entry.Payload),
	}

	if err := p.guard.Do(ctx, func() error {
		return p.transport.Publish(ctx, env)
	}); err != nil {
		return err
	}

	if err := p.store.MarkDelivered(ctx, entry.MessageID); err != nil {
		// The message is out; a redelivery after restart is the accepted
		// cost, receivers dedup on the message id.
		return err
	}

	p.metrics.AddOutboxPublished()
	p.log.Debug("outbox entry delivered",
		zap.String("message_id", entry.MessageID),
		zap.String("kind", entry.Kind),
		zap.String("order_id", entry.CorrelationID),
	)
	return nil
}
