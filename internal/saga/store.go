package saga

import (
	"context"
	"time"
)

// OutboxEntry is an outbound message persisted in the same durable unit as the
// instance update that produced it. MessageID is the transport dedup token.
type OutboxEntry struct {
	MessageID        string
	CorrelationID    string
	Kind             string
	Payload          []byte
	CreatedAtVersion int64
	Delivered        bool
	CreatedAt        time.Time
}

// Store persists saga instances with optimistic versioning and their outbox.
//
// Save must write the instance and the new outbox entries atomically. An
// expectedVersion of zero means the instance is being created and must not
// already exist; otherwise the stored version must equal expectedVersion.
// Either violation is reported as ErrVersionConflict.
type Store interface {
	Load(ctx context.Context, correlationID string) (*Instance, error)
	Save(ctx context.Context, inst *Instance, expectedVersion int64, outbox []OutboxEntry) error
	PendingOutbox(ctx context.Context, limit int) ([]OutboxEntry, error)
	MarkDelivered(ctx context.Context, messageID string) error
}
