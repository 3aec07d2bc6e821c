package saga

import (
	"fmt"

	"sagaflow/internal/contracts"
)

// Outcome is the result of applying one event: the next state, the commands and
// events to enqueue on the outbox, and whether the saga is finished.
type Outcome struct {
	State    State
	Commands []contracts.Message
	Terminal bool
}

// Transition is the pure saga transition function. It performs no I/O and is
// deterministic given the instance and the event. Rules may set instance data
// fields (the order snapshot on creation, the payment id after a successful
// charge); the dispatcher owns state, version, and timestamps.
//
// An event with no rule for the current state is an ErrInvalidTransition.
func Transition(inst *Instance, msg contracts.Message) (Outcome, error) {
	apply, ok := rules[ruleKey{state: inst.State, kind: msg.Kind()}]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s in state %q", ErrInvalidTransition, msg.Kind(), inst.State)
	}
	return apply(inst, msg), nil
}

type ruleKey struct {
	state State
	kind  string
}

type ruleFunc func(*Instance, contracts.Message) Outcome

var rules = map[ruleKey]ruleFunc{
	{StateNew, contracts.KindOrderCreated}:                             onOrderCreated,
	{StatePaymentProcessing, contracts.KindPaymentProcessed}:           onPaymentProcessed,
	{StatePaymentProcessing, contracts.KindPaymentFailed}:              onPaymentFailed,
	{StateInventoryReserving, contracts.KindInventoryReserved}:         onInventoryReserved,
	{StateInventoryReserving, contracts.KindInventoryReservationFailed}: onInventoryFailed,
	{StateAwaitingRefund, contracts.KindPaymentRefunded}:               onPaymentRefunded,
}

func onOrderCreated(inst *Instance, msg contracts.Message) Outcome {
	ev := msg.(contracts.OrderCreated)
	inst.CustomerID = ev.CustomerID
	inst.Amount = ev.Amount
	inst.Items = append([]contracts.OrderItem(nil), ev.Items...)
	return Outcome{
		State: StatePaymentProcessing,
		Commands: []contracts.Message{
			contracts.ProcessPayment{
				OrderID:    ev.OrderID,
				CustomerID: ev.CustomerID,
				Amount:     ev.Amount,
			},
		},
	}
}

func onPaymentProcessed(inst *Instance, msg contracts.Message) Outcome {
	ev := msg.(contracts.PaymentProcessed)
	inst.PaymentID = ev.PaymentID
	return Outcome{
		State: StateInventoryReserving,
		Commands: []contracts.Message{
			contracts.ReserveInventory{
				OrderID: inst.CorrelationID,
				Items:   contracts.ItemsForReservation(inst.Items),
			},
		},
	}
}

func onPaymentFailed(inst *Instance, msg contracts.Message) Outcome {
	return Outcome{
		State: StatePaymentFailed,
		Commands: []contracts.Message{
			contracts.OrderRejected{OrderID: inst.CorrelationID, Reason: "Payment failed"},
		},
		Terminal: true,
	}
}

func onInventoryReserved(inst *Instance, msg contracts.Message) Outcome {
	return Outcome{
		State: StateCompleted,
		Commands: []contracts.Message{
			contracts.OrderApproved{OrderID: inst.CorrelationID},
			contracts.OrderCompleted{OrderID: inst.CorrelationID},
		},
		Terminal: true,
	}
}

// onInventoryFailed branches on whether a payment was captured. The no-payment
// branch is reachable only if inventory reservation were ever requested ahead
// of payment; it is kept so a reservation failure can never strand a charge.
func onInventoryFailed(inst *Instance, msg contracts.Message) Outcome {
	if inst.PaymentID != "" {
		return Outcome{
			State: StateAwaitingRefund,
			Commands: []contracts.Message{
				contracts.RefundPayment{
					OrderID:   inst.CorrelationID,
					PaymentID: inst.PaymentID,
					Amount:    inst.Amount,
				},
			},
		}
	}
	return Outcome{
		State: StateRejected,
		Commands: []contracts.Message{
			contracts.OrderRejected{OrderID: inst.CorrelationID, Reason: "Inventory reservation failed"},
		},
		Terminal: true,
	}
}

func onPaymentRefunded(inst *Instance, msg contracts.Message) Outcome {
	return Outcome{
		State: StateCancelled,
		Commands: []contracts.Message{
			contracts.OrderCancelled{
				OrderID: inst.CorrelationID,
				Reason:  "Inventory reservation failed, payment refunded",
			},
		},
		Terminal: true,
	}
}
