package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"sagaflow/internal/contracts"
)

func wrapCreated(t *testing.T, messageID, orderID string) contracts.Envelope {
	t.Helper()
	env, err := contracts.Wrap(messageID, time.Now(), contracts.OrderCreated{OrderID: orderID, CustomerID: "c", Amount: 1})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	return env
}

func TestMemoryBus_RoutesByTopic(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	var sagaEvents, paymentCommands int
	bus.Subscribe(contracts.TopicSagaEvents, func(ctx context.Context, env contracts.Envelope) error {
		sagaEvents++
		return nil
	})
	bus.Subscribe(contracts.TopicPaymentCommands, func(ctx context.Context, env contracts.Envelope) error {
		paymentCommands++
		return nil
	})

	if err := bus.Publish(ctx, wrapCreated(t, "m1", "order-1")); err != nil {
		t.Fatalf("publish created: %v", err)
	}

	cmd, err := contracts.Wrap("m2", time.Now(), contracts.ProcessPayment{OrderID: "order-1", Amount: 1})
	if err != nil {
		t.Fatalf("wrap command: %v", err)
	}
	if err := bus.Publish(ctx, cmd); err != nil {
		t.Fatalf("publish command: %v", err)
	}

	if sagaEvents != 1 || paymentCommands != 1 {
		t.Fatalf("expected one delivery per topic, got saga=%d payments=%d", sagaEvents, paymentCommands)
	}
	if len(bus.History()) != 2 {
		t.Fatalf("expected 2 envelopes in history, got %d", len(bus.History()))
	}
}

func TestMemoryBus_FirstHandlerErrorAborts(t *testing.T) {
	bus := NewMemoryBus()
	boom := errors.New("boom")
	secondCalled := false

	bus.Subscribe(contracts.TopicSagaEvents, func(ctx context.Context, env contracts.Envelope) error {
		return boom
	})
	bus.Subscribe(contracts.TopicSagaEvents, func(ctx context.Context, env contracts.Envelope) error {
		secondCalled = true
		return nil
	})

	err := bus.Publish(context.Background(), wrapCreated(t, "m1", "order-1"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if secondCalled {
		t.Fatalf("delivery must stop at the first failing handler")
	}
}

func TestMemoryBus_NoSubscribersIsFine(t *testing.T) {
	bus := NewMemoryBus()
	if err := bus.Publish(context.Background(), wrapCreated(t, "m1", "order-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
