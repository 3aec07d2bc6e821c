package collab_test

import (
	"context"
	"testing"
	"time"

	"sagaflow/internal/collab"
	"sagaflow/internal/contracts"
	"sagaflow/internal/deadletter"
	"sagaflow/internal/outbox"
	"sagaflow/internal/saga"
	"sagaflow/internal/transport"
)

// pipeline wires the orchestrator against the in-process collaborator stubs,
// the way the demo binary does.
type pipeline struct {
	bus     *transport.MemoryBus
	store   *saga.MemoryStore
	sink    *deadletter.MemorySink
	tracker *collab.OrderTracker
}

func startPipeline(t *testing.T, payment collab.PaymentConfig, stock map[string]int) *pipeline {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := transport.NewMemoryBus()
	store := saga.NewMemoryStore()
	sink := deadletter.NewMemorySink()

	publisher := outbox.NewPublisher(outbox.PublisherConfig{
		Store:     store,
		Transport: bus,
		Interval:  5 * time.Millisecond,
	})

	dispatcher := saga.NewDispatcher(saga.DispatcherConfig{
		Store:      store,
		DeadLetter: sink,
		KickOutbox: publisher.Kick,
	})
	bus.Subscribe(contracts.TopicSagaEvents, dispatcher.Handle)

	collab.NewPaymentService(bus, nil, payment).Register(bus)
	collab.NewInventoryService(bus, nil, stock).Register(bus)

	tracker := collab.NewOrderTracker(nil)
	tracker.Register(bus)

	go publisher.Run(ctx)

	return &pipeline{bus: bus, store: store, sink: sink, tracker: tracker}
}

func (p *pipeline) submit(t *testing.T, messageID string, msg contracts.Message) {
	t.Helper()
	env, err := contracts.Wrap(messageID, time.Now(), msg)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if err := p.bus.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func (p *pipeline) awaitState(t *testing.T, orderID string, want saga.State) *saga.Instance {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		inst, err := p.store.Load(context.Background(), orderID)
		if err == nil && inst.State == want {
			return inst
		}
		time.Sleep(5 * time.Millisecond)
	}
	inst, err := p.store.Load(context.Background(), orderID)
	t.Fatalf("order %s never reached %q; last: %+v err=%v", orderID, want, inst, err)
	return nil
}

func newOrder(orderID string, quantity int) contracts.OrderCreated {
	return contracts.OrderCreated{
		OrderID:    orderID,
		CustomerID: "cust-9",
		Amount:     float64(quantity) * 10,
		Items:      []contracts.OrderItem{{ProductID: "widget", ProductName: "Widget", Quantity: quantity, Price: 10}},
	}
}

func TestSaga_HappyPath(t *testing.T) {
	p := startPipeline(t,
		collab.PaymentConfig{ChargeSuccessRate: 1, RefundSuccessRate: 1},
		map[string]int{"widget": 10},
	)

	p.submit(t, "m1", newOrder("order-1", 2))

	inst := p.awaitState(t, "order-1", saga.StateCompleted)
	if inst.PaymentID == "" {
		t.Fatalf("expected a captured payment id")
	}
	if inst.Version != 3 {
		t.Fatalf("expected 3 transitions, got version %d", inst.Version)
	}

	outcome, ok := p.tracker.Outcome("order-1")
	if !ok || outcome.Status != collab.OrderStatusCompleted {
		t.Fatalf("unexpected outcome: %+v ok=%v", outcome, ok)
	}
	if len(p.sink.Entries()) != 0 {
		t.Fatalf("unexpected dead letters: %+v", p.sink.Entries())
	}
}

func TestSaga_PaymentDeclined(t *testing.T) {
	p := startPipeline(t,
		collab.PaymentConfig{ChargeSuccessRate: 0, RefundSuccessRate: 1},
		map[string]int{"widget": 10},
	)

	p.submit(t, "m1", newOrder("order-1", 2))

	inst := p.awaitState(t, "order-1", saga.StatePaymentFailed)
	if inst.PaymentID != "" {
		t.Fatalf("no payment should exist, got %q", inst.PaymentID)
	}

	outcome, ok := p.tracker.Outcome("order-1")
	if !ok || outcome.Status != collab.OrderStatusRejected || outcome.Reason != "Payment failed" {
		t.Fatalf("unexpected outcome: %+v ok=%v", outcome, ok)
	}
}

func TestSaga_CompensationOnStockShortage(t *testing.T) {
	p := startPipeline(t,
		collab.PaymentConfig{ChargeSuccessRate: 1, RefundSuccessRate: 1},
		map[string]int{"widget": 1},
	)

	p.submit(t, "m1", newOrder("order-1", 5))

	inst := p.awaitState(t, "order-1", saga.StateCancelled)
	if inst.PaymentID == "" {
		t.Fatalf("the charge preceding the shortage must be recorded")
	}

	outcome, ok := p.tracker.Outcome("order-1")
	if !ok || outcome.Status != collab.OrderStatusCancelled {
		t.Fatalf("unexpected outcome: %+v ok=%v", outcome, ok)
	}

	// The full compensation chain ran: charge, failed reservation, refund.
	kinds := map[string]int{}
	for _, env := range p.bus.History() {
		kinds[env.Kind]++
	}
	for _, kind := range []string{
		contracts.KindProcessPayment,
		contracts.KindPaymentProcessed,
		contracts.KindReserveInventory,
		contracts.KindInventoryReservationFailed,
		contracts.KindRefundPayment,
		contracts.KindPaymentRefunded,
		contracts.KindOrderCancelled,
	} {
		if kinds[kind] != 1 {
			t.Fatalf("expected exactly one %s, got %d; history: %v", kind, kinds[kind], kinds)
		}
	}
}

func TestSaga_RedeliveredEventIsIdempotent(t *testing.T) {
	p := startPipeline(t,
		collab.PaymentConfig{ChargeSuccessRate: 1, RefundSuccessRate: 1},
		map[string]int{"widget": 10},
	)

	p.submit(t, "m1", newOrder("order-1", 2))
	p.awaitState(t, "order-1", saga.StateCompleted)

	// Redeliver the completed saga's creation event and a synthetic duplicate
	// of an inventory success; neither may change the instance.
	p.submit(t, "m1", newOrder("order-1", 2))
	p.submit(t, "m9", contracts.InventoryReserved{OrderID: "order-1"})

	time.Sleep(50 * time.Millisecond)

	inst, err := p.store.Load(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if inst.State != saga.StateCompleted || inst.Version != 3 {
		t.Fatalf("redelivery mutated the saga: %q v%d", inst.State, inst.Version)
	}
	if len(p.sink.Entries()) != 0 {
		t.Fatalf("duplicates are discarded, not dead-lettered: %+v", p.sink.Entries())
	}
}

func TestSaga_MultipleOrdersIndependent(t *testing.T) {
	p := startPipeline(t,
		collab.PaymentConfig{ChargeSuccessRate: 1, RefundSuccessRate: 1},
		map[string]int{"widget": 4},
	)

	p.submit(t, "m1", newOrder("order-1", 3))
	p.awaitState(t, "order-1", saga.StateCompleted)

	// The first order consumed 3 of 4 widgets, so this one is compensated.
	p.submit(t, "m2", newOrder("order-2", 3))
	p.awaitState(t, "order-2", saga.StateCancelled)

	first, _ := p.tracker.Outcome("order-1")
	second, _ := p.tracker.Outcome("order-2")
	if first.Status != collab.OrderStatusCompleted || second.Status != collab.OrderStatusCancelled {
		t.Fatalf("unexpected outcomes: %+v / %+v", first, second)
	}
}
