package saga

import (
	"time"

	"sagaflow/internal/contracts"
)

// State captures where an order saga is in its lifecycle.
type State string

const (
	// StateNew is the pre-creation state; no instance is ever persisted in it.
	StateNew                State = "new"
	StatePaymentProcessing  State = "payment_processing"
	StateInventoryReserving State = "inventory_reserving"
	StateAwaitingRefund     State = "awaiting_refund"
	StateCompleted          State = "completed"
	StatePaymentFailed      State = "payment_failed"
	StateRejected           State = "rejected"
	StateCancelled          State = "cancelled"
)

// Terminal reports whether the state accepts no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StatePaymentFailed, StateRejected, StateCancelled:
		return true
	}
	return false
}

// processedEventLimit bounds the per-instance replay-detection log. Ids falling
// off the window can only belong to transitions long past, which the state
// table rejects anyway.
const processedEventLimit = 256

// Instance is the durable saga aggregate, one per order. It is created only by
// an OrderCreated event and mutated only through the transition function; the
// order snapshot fields never change after creation.
type Instance struct {
	CorrelationID     string                `json:"correlation_id"`
	State             State                 `json:"state"`
	CustomerID        string                `json:"customer_id"`
	Amount            float64               `json:"amount"`
	Items             []contracts.OrderItem `json:"items"`
	PaymentID         string                `json:"payment_id,omitempty"`
	Version           int64                 `json:"version"`
	ProcessedEventIDs []string              `json:"processed_event_ids"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// NewInstance returns an unpersisted instance awaiting its OrderCreated event.
func NewInstance(correlationID string, now time.Time) *Instance {
	return &Instance{
		CorrelationID: correlationID,
		State:         StateNew,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}
}

// Terminal reports whether the instance accepts no further transitions.
func (i *Instance) Terminal() bool {
	return i.State.Terminal()
}

// HasProcessed reports whether the event id was already applied.
func (i *Instance) HasProcessed(eventID string) bool {
	for _, id := range i.ProcessedEventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// MarkProcessed records the event id, trimming the oldest entries past the window.
func (i *Instance) MarkProcessed(eventID string) {
	i.ProcessedEventIDs = append(i.ProcessedEventIDs, eventID)
	if overflow := len(i.ProcessedEventIDs) - processedEventLimit; overflow > 0 {
		i.ProcessedEventIDs = i.ProcessedEventIDs[overflow:]
	}
}

// Clone returns a deep copy so stores can hand out instances without aliasing.
func (i *Instance) Clone() *Instance {
	dup := *i
	dup.Items = append([]contracts.OrderItem(nil), i.Items...)
	dup.ProcessedEventIDs = append([]string(nil), i.ProcessedEventIDs...)
	return &dup
}
