package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sagaflow/internal/contracts"
	"sagaflow/internal/saga"
)

type capturingTransport struct {
	mu        sync.Mutex
	published []contracts.Envelope
	failures  int
}

func (t *capturingTransport) Publish(ctx context.Context, env contracts.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failures > 0 {
		t.failures--
		return errors.New("broker unavailable")
	}
	t.published = append(t.published, env)
	return nil
}

func (t *capturingTransport) envelopes() []contracts.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]contracts.Envelope(nil), t.published...)
}

func seedOutbox(t *testing.T, store *saga.MemoryStore, orderID string, entries ...saga.OutboxEntry) {
	t.Helper()
	inst := saga.NewInstance(orderID, time.Now())
	inst.Version = 1
	if err := store.Save(context.Background(), inst, 0, entries); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func entry(messageID, orderID, kind string) saga.OutboxEntry {
	return saga.OutboxEntry{
		MessageID:        messageID,
		CorrelationID:    orderID,
		Kind:             kind,
		Payload:          []byte(`{"order_id":"` + orderID + `"}`),
		CreatedAtVersion: 1,
		CreatedAt:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPublisher_DrainDeliversAndMarks(t *testing.T) {
	store := saga.NewMemoryStore()
	seedOutbox(t, store, "order-1",
		entry("o1", "order-1", contracts.KindProcessPayment),
		entry("o2", "order-1", contracts.KindReserveInventory),
	)

	sink := &capturingTransport{}
	p := NewPublisher(PublisherConfig{Store: store, Transport: sink})

	p.Drain(context.Background())

	got := sink.envelopes()
	if len(got) != 2 {
		t.Fatalf("expected 2 published envelopes, got %d", len(got))
	}
	if got[0].MessageID != "o1" || got[0].Kind != contracts.KindProcessPayment || got[0].OrderID != "order-1" {
		t.Fatalf("unexpected envelope: %+v", got[0])
	}

	pending, err := store.PendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty outbox, got %+v", pending)
	}
}

func TestPublisher_FailureLeavesEntryPending(t *testing.T) {
	store := saga.NewMemoryStore()
	seedOutbox(t, store, "order-1",
		entry("o1", "order-1", contracts.KindProcessPayment),
		entry("o2", "order-1", contracts.KindReserveInventory),
	)

	sink := &capturingTransport{failures: 1}
	p := NewPublisher(PublisherConfig{Store: store, Transport: sink})

	p.Drain(context.Background())

	// o1 failed, so the drain stopped before o2.
	pending, err := store.PendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected both entries still pending, got %d", len(pending))
	}

	// The next drain recovers.
	p.Drain(context.Background())
	pending, err = store.PendingOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected recovery on next drain, got %+v", pending)
	}
	if got := sink.envelopes(); len(got) != 2 {
		t.Fatalf("expected 2 deliveries after recovery, got %d", len(got))
	}
}

func TestPublisher_DrainLoopsPastBatchSize(t *testing.T) {
	store := saga.NewMemoryStore()
	entries := []saga.OutboxEntry{
		entry("o1", "order-1", contracts.KindProcessPayment),
		entry("o2", "order-1", contracts.KindProcessPayment),
		entry("o3", "order-1", contracts.KindProcessPayment),
	}
	seedOutbox(t, store, "order-1", entries...)

	sink := &capturingTransport{}
	p := NewPublisher(PublisherConfig{Store: store, Transport: sink, BatchSize: 2})

	p.Drain(context.Background())

	if got := sink.envelopes(); len(got) != 3 {
		t.Fatalf("expected all 3 entries drained across batches, got %d", len(got))
	}
}

func TestPublisher_KickTriggersImmediateDrain(t *testing.T) {
	store := saga.NewMemoryStore()
	sink := &capturingTransport{}
	p := NewPublisher(PublisherConfig{
		Store:     store,
		Transport: sink,
		Interval:  time.Hour, // only kicks can trigger a drain
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	seedOutbox(t, store, "order-1", entry("o1", "order-1", contracts.KindProcessPayment))
	p.Kick()

	deadline := time.After(2 * time.Second)
	for len(sink.envelopes()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("kick did not trigger a drain")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestPublisher_KickNeverBlocks(t *testing.T) {
	p := NewPublisher(PublisherConfig{Store: saga.NewMemoryStore(), Transport: &capturingTransport{}})
	for i := 0; i < 100; i++ {
		p.Kick()
	}
}
