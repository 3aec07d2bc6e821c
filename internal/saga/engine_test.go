package saga

import (
	"errors"
	"testing"
	"time"

	"sagaflow/internal/contracts"
)

func newTestInstance(state State) *Instance {
	inst := NewInstance("order-1", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	inst.State = state
	return inst
}

func TestTransition_OrderCreated(t *testing.T) {
	inst := newTestInstance(StateNew)

	out, err := Transition(inst, contracts.OrderCreated{
		OrderID:    "order-1",
		CustomerID: "cust-9",
		Amount:     42.50,
		Items: []contracts.OrderItem{
			{ProductID: "p1", ProductName: "Widget", Quantity: 2, Price: 21.25},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.State != StatePaymentProcessing {
		t.Fatalf("expected state %q, got %q", StatePaymentProcessing, out.State)
	}
	if out.Terminal {
		t.Fatalf("payment processing is not terminal")
	}
	if len(out.Commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(out.Commands))
	}
	cmd, ok := out.Commands[0].(contracts.ProcessPayment)
	if !ok {
		t.Fatalf("expected ProcessPayment, got %T", out.Commands[0])
	}
	if cmd.OrderID != "order-1" || cmd.CustomerID != "cust-9" || cmd.Amount != 42.50 {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	if inst.CustomerID != "cust-9" {
		t.Fatalf("expected order snapshot on the instance, got customer %q", inst.CustomerID)
	}
	if len(inst.Items) != 1 || inst.Items[0].ProductID != "p1" {
		t.Fatalf("expected items snapshot, got %+v", inst.Items)
	}
}

func TestTransition_PaymentProcessed(t *testing.T) {
	inst := newTestInstance(StatePaymentProcessing)
	inst.Items = []contracts.OrderItem{
		{ProductID: "p1", ProductName: "Widget", Quantity: 2, Price: 5},
		{ProductID: "p2", ProductName: "Gadget", Quantity: 1, Price: 7},
	}

	out, err := Transition(inst, contracts.PaymentProcessed{OrderID: "order-1", PaymentID: "pay-77", Amount: 17})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.State != StateInventoryReserving {
		t.Fatalf("expected state %q, got %q", StateInventoryReserving, out.State)
	}
	if inst.PaymentID != "pay-77" {
		t.Fatalf("expected payment id recorded, got %q", inst.PaymentID)
	}
	cmd, ok := out.Commands[0].(contracts.ReserveInventory)
	if !ok {
		t.Fatalf("expected ReserveInventory, got %T", out.Commands[0])
	}
	if len(cmd.Items) != 2 || cmd.Items[0].ProductID != "p1" || cmd.Items[0].Quantity != 2 {
		t.Fatalf("unexpected reservation items: %+v", cmd.Items)
	}
}

func TestTransition_PaymentFailed(t *testing.T) {
	inst := newTestInstance(StatePaymentProcessing)

	out, err := Transition(inst, contracts.PaymentFailed{OrderID: "order-1", Reason: "card declined"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.State != StatePaymentFailed || !out.Terminal {
		t.Fatalf("expected terminal %q, got %q terminal=%v", StatePaymentFailed, out.State, out.Terminal)
	}
	rejected, ok := out.Commands[0].(contracts.OrderRejected)
	if !ok {
		t.Fatalf("expected OrderRejected, got %T", out.Commands[0])
	}
	if rejected.Reason != "Payment failed" {
		t.Fatalf("unexpected reason %q", rejected.Reason)
	}
}

func TestTransition_InventoryReserved(t *testing.T) {
	inst := newTestInstance(StateInventoryReserving)
	inst.PaymentID = "pay-77"

	out, err := Transition(inst, contracts.InventoryReserved{OrderID: "order-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.State != StateCompleted || !out.Terminal {
		t.Fatalf("expected terminal %q, got %q terminal=%v", StateCompleted, out.State, out.Terminal)
	}
	if len(out.Commands) != 2 {
		t.Fatalf("expected approved and completed events, got %d commands", len(out.Commands))
	}
	if _, ok := out.Commands[0].(contracts.OrderApproved); !ok {
		t.Fatalf("expected OrderApproved first, got %T", out.Commands[0])
	}
	if _, ok := out.Commands[1].(contracts.OrderCompleted); !ok {
		t.Fatalf("expected OrderCompleted second, got %T", out.Commands[1])
	}
}

func TestTransition_InventoryFailed_AfterPayment(t *testing.T) {
	inst := newTestInstance(StateInventoryReserving)
	inst.PaymentID = "pay-77"
	inst.Amount = 42.50

	out, err := Transition(inst, contracts.InventoryReservationFailed{OrderID: "order-1", Reason: "out of stock"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.State != StateAwaitingRefund {
		t.Fatalf("expected state %q, got %q", StateAwaitingRefund, out.State)
	}
	if out.Terminal {
		t.Fatalf("awaiting refund is not terminal")
	}
	refund, ok := out.Commands[0].(contracts.RefundPayment)
	if !ok {
		t.Fatalf("expected RefundPayment, got %T", out.Commands[0])
	}
	if refund.PaymentID != "pay-77" || refund.Amount != 42.50 {
		t.Fatalf("unexpected refund command: %+v", refund)
	}
}

func TestTransition_InventoryFailed_WithoutPayment(t *testing.T) {
	inst := newTestInstance(StateInventoryReserving)

	out, err := Transition(inst, contracts.InventoryReservationFailed{OrderID: "order-1", Reason: "out of stock"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.State != StateRejected || !out.Terminal {
		t.Fatalf("expected terminal %q, got %q terminal=%v", StateRejected, out.State, out.Terminal)
	}
	for _, cmd := range out.Commands {
		if _, ok := cmd.(contracts.RefundPayment); ok {
			t.Fatalf("refund must never be issued without a captured payment")
		}
	}
}

func TestTransition_PaymentRefunded(t *testing.T) {
	inst := newTestInstance(StateAwaitingRefund)
	inst.PaymentID = "pay-77"

	out, err := Transition(inst, contracts.PaymentRefunded{OrderID: "order-1", PaymentID: "pay-77"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.State != StateCancelled || !out.Terminal {
		t.Fatalf("expected terminal %q, got %q terminal=%v", StateCancelled, out.State, out.Terminal)
	}
	cancelled, ok := out.Commands[0].(contracts.OrderCancelled)
	if !ok {
		t.Fatalf("expected OrderCancelled, got %T", out.Commands[0])
	}
	if cancelled.Reason == "" {
		t.Fatalf("expected a cancellation reason")
	}
}

func TestTransition_InvalidEventForState(t *testing.T) {
	cases := []struct {
		name  string
		state State
		msg   contracts.Message
	}{
		{"inventory before payment", StatePaymentProcessing, contracts.InventoryReserved{OrderID: "order-1"}},
		{"payment after reservation", StateInventoryReserving, contracts.PaymentProcessed{OrderID: "order-1", PaymentID: "p"}},
		{"refund without awaiting", StatePaymentProcessing, contracts.PaymentRefunded{OrderID: "order-1"}},
		{"created mid-flight", StateInventoryReserving, contracts.OrderCreated{OrderID: "order-1"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inst := newTestInstance(tc.state)
			if _, err := Transition(inst, tc.msg); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestTransition_FullHappyPath(t *testing.T) {
	inst := newTestInstance(StateNew)

	steps := []struct {
		msg  contracts.Message
		want State
	}{
		{contracts.OrderCreated{OrderID: "order-1", CustomerID: "c", Amount: 10, Items: []contracts.OrderItem{{ProductID: "p1", Quantity: 1, Price: 10}}}, StatePaymentProcessing},
		{contracts.PaymentProcessed{OrderID: "order-1", PaymentID: "pay-1", Amount: 10}, StateInventoryReserving},
		{contracts.InventoryReserved{OrderID: "order-1"}, StateCompleted},
	}

	for _, step := range steps {
		out, err := Transition(inst, step.msg)
		if err != nil {
			t.Fatalf("step %s: %v", step.msg.Kind(), err)
		}
		if out.State != step.want {
			t.Fatalf("step %s: expected %q, got %q", step.msg.Kind(), step.want, out.State)
		}
		inst.State = out.State
	}

	if !inst.Terminal() {
		t.Fatalf("expected terminal instance, got state %q", inst.State)
	}
}

func TestTransition_CompensationPath(t *testing.T) {
	inst := newTestInstance(StateNew)

	steps := []contracts.Message{
		contracts.OrderCreated{OrderID: "order-1", CustomerID: "c", Amount: 10, Items: []contracts.OrderItem{{ProductID: "p1", Quantity: 5, Price: 2}}},
		contracts.PaymentProcessed{OrderID: "order-1", PaymentID: "pay-1", Amount: 10},
		contracts.InventoryReservationFailed{OrderID: "order-1", Reason: "out of stock"},
		contracts.PaymentRefunded{OrderID: "order-1", PaymentID: "pay-1"},
	}

	var last Outcome
	for _, msg := range steps {
		out, err := Transition(inst, msg)
		if err != nil {
			t.Fatalf("step %s: %v", msg.Kind(), err)
		}
		inst.State = out.State
		last = out
	}

	if inst.State != StateCancelled || !last.Terminal {
		t.Fatalf("expected cancelled terminal saga, got %q", inst.State)
	}
}
