package transport

import (
	"context"

	"sagaflow/internal/contracts"
)

// Publisher hands an envelope to the transport. Delivery is at-least-once; the
// envelope's message id is the receiver's deduplication token.
type Publisher interface {
	Publish(ctx context.Context, env contracts.Envelope) error
}

// Handler processes one inbound envelope. Returning an error asks the
// transport to redeliver; returning nil acknowledges the message.
type Handler func(ctx context.Context, env contracts.Envelope) error

// Consumer pulls envelopes from the transport and feeds them to a handler
// until the context ends.
type Consumer interface {
	Run(ctx context.Context, handler Handler) error
}
