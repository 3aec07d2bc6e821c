package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Topics the orchestrator publishes to and consumes from. Commands are routed
// per consuming service; order lifecycle events go to the order service topic;
// every inbound domain event arrives on the saga topic.
const (
	TopicSagaEvents        = "saga.events"
	TopicPaymentCommands   = "payments.commands"
	TopicInventoryCommands = "inventory.commands"
	TopicOrderEvents       = "orders.events"
)

// ErrUnknownKind signals an envelope whose kind has no registered contract.
var ErrUnknownKind = errors.New("unknown message kind")

// Envelope is the wire form of a message. MessageID doubles as the transport
// deduplication token; OrderID is the correlation key.
type Envelope struct {
	MessageID  string          `json:"message_id"`
	Kind       string          `json:"kind"`
	OrderID    string          `json:"order_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Wrap serializes a message into an envelope carrying the given id.
func Wrap(messageID string, occurredAt time.Time, msg Message) (Envelope, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	return Envelope{
		MessageID:  messageID,
		Kind:       msg.Kind(),
		OrderID:    msg.Correlation(),
		OccurredAt: occurredAt.UTC(),
		Payload:    payload,
	}, nil
}

// Decode deserializes the payload into the typed contract for the envelope kind.
func (e Envelope) Decode() (Message, error) {
	decode, ok := registry[e.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	msg, err := decode(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.Kind, err)
	}
	return msg, nil
}

// TopicFor maps a message kind to its destination topic.
func TopicFor(kind string) string {
	switch kind {
	case KindProcessPayment, KindRefundPayment:
		return TopicPaymentCommands
	case KindReserveInventory, KindReleaseInventory:
		return TopicInventoryCommands
	case KindOrderApproved, KindOrderRejected, KindOrderCompleted, KindOrderCancelled:
		return TopicOrderEvents
	default:
		return TopicSagaEvents
	}
}

var registry = map[string]func(json.RawMessage) (Message, error){
	KindOrderCreated:               decodeInto[OrderCreated],
	KindPaymentProcessed:           decodeInto[PaymentProcessed],
	KindPaymentFailed:              decodeInto[PaymentFailed],
	KindInventoryReserved:          decodeInto[InventoryReserved],
	KindInventoryReservationFailed: decodeInto[InventoryReservationFailed],
	KindPaymentRefunded:            decodeInto[PaymentRefunded],
	KindRefundFailed:               decodeInto[RefundFailed],
	KindProcessPayment:             decodeInto[ProcessPayment],
	KindRefundPayment:              decodeInto[RefundPayment],
	KindReserveInventory:           decodeInto[ReserveInventory],
	KindReleaseInventory:           decodeInto[ReleaseInventory],
	KindInventoryReleased:          decodeInto[InventoryReleased],
	KindOrderApproved:              decodeInto[OrderApproved],
	KindOrderRejected:              decodeInto[OrderRejected],
	KindOrderCompleted:             decodeInto[OrderCompleted],
	KindOrderCancelled:             decodeInto[OrderCancelled],
}

func decodeInto[T Message](raw json.RawMessage) (Message, error) {
	var msg T
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}
