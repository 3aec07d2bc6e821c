package collab

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"sagaflow/internal/contracts"
	"sagaflow/internal/transport"
)

// OrderOutcome is the final word the order service records for an order.
type OrderOutcome struct {
	Status string
	Reason string
}

const (
	OrderStatusApproved  = "approved"
	OrderStatusRejected  = "rejected"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// OrderTracker plays the order service's consumer role: it records the
// lifecycle events the orchestrator publishes for each order.
type OrderTracker struct {
	log *zap.Logger

	mu       sync.Mutex
	outcomes map[string]OrderOutcome
}

// NewOrderTracker constructs an empty tracker.
func NewOrderTracker(log *zap.Logger) *OrderTracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderTracker{
		log:      log,
		outcomes: make(map[string]OrderOutcome),
	}
}

// Register subscribes the tracker to the order lifecycle topic.
func (t *OrderTracker) Register(bus *transport.MemoryBus) {
	bus.Subscribe(contracts.TopicOrderEvents, t.Handle)
}

// Handle records one lifecycle event.
func (t *OrderTracker) Handle(ctx context.Context, env contracts.Envelope) error {
	msg, err := env.Decode()
	if err != nil {
		return err
	}

	var (
		orderID string
		outcome OrderOutcome
	)
	switch ev := msg.(type) {
	case contracts.OrderApproved:
		orderID, outcome = ev.OrderID, OrderOutcome{Status: OrderStatusApproved}
	case contracts.OrderRejected:
		orderID, outcome = ev.OrderID, OrderOutcome{Status: OrderStatusRejected, Reason: ev.Reason}
	case contracts.OrderCompleted:
		orderID, outcome = ev.OrderID, OrderOutcome{Status: OrderStatusCompleted}
	case contracts.OrderCancelled:
		orderID, outcome = ev.OrderID, OrderOutcome{Status: OrderStatusCancelled, Reason: ev.Reason}
	default:
		// Other kinds on this topic are not ours to track.
		return nil
	}

	t.mu.Lock()
	t.outcomes[orderID] = outcome
	t.mu.Unlock()

	t.log.Info("order outcome recorded",
		zap.String("order_id", orderID),
		zap.String("status", outcome.Status),
	)
	return nil
}

// Outcome returns the recorded outcome for an order, if any.
func (t *OrderTracker) Outcome(orderID string) (OrderOutcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	outcome, ok := t.outcomes[orderID]
	return outcome, ok
}
