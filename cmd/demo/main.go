package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"sagaflow/internal/collab"
	"sagaflow/internal/contracts"
	"sagaflow/internal/deadletter"
	"sagaflow/internal/observability"
	"sagaflow/internal/outbox"
	"sagaflow/internal/saga"
	"sagaflow/internal/transport"
)

// world wires a full in-memory pipeline: bus, store, dispatcher, outbox
// publisher, and the simulated payment/inventory/order services.
type world struct {
	bus     *transport.MemoryBus
	store   *saga.MemoryStore
	sink    *deadletter.MemorySink
	tracker *collab.OrderTracker
	cancel  context.CancelFunc
}

func buildWorld(payment collab.PaymentConfig, stock map[string]int, metrics *observability.Metrics) *world {
	ctx, cancel := context.WithCancel(context.Background())

	bus := transport.NewMemoryBus()
	store := saga.NewMemoryStore()
	sink := deadletter.NewMemorySink()

	publisher := outbox.NewPublisher(outbox.PublisherConfig{
		Store:     store,
		Transport: bus,
		Metrics:   metrics,
		Interval:  10 * time.Millisecond,
	})

	dispatcher := saga.NewDispatcher(saga.DispatcherConfig{
		Store:      store,
		DeadLetter: sink,
		Metrics:    metrics,
		KickOutbox: publisher.Kick,
	})
	bus.Subscribe(contracts.TopicSagaEvents, dispatcher.Handle)

	collab.NewPaymentService(bus, nil, payment).Register(bus)
	collab.NewInventoryService(bus, nil, stock).Register(bus)

	tracker := collab.NewOrderTracker(nil)
	tracker.Register(bus)

	go publisher.Run(ctx)

	return &world{bus: bus, store: store, sink: sink, tracker: tracker, cancel: cancel}
}

func (w *world) submit(order contracts.OrderCreated) error {
	env, err := contracts.Wrap(uuid.NewString(), time.Now(), order)
	if err != nil {
		return err
	}
	return w.bus.Publish(context.Background(), env)
}

func (w *world) awaitOutcome(orderID string) (collab.OrderOutcome, bool) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if outcome, ok := w.tracker.Outcome(orderID); ok {
			return outcome, true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return collab.OrderOutcome{}, false
}

func runCase(title string, payment collab.PaymentConfig, stock map[string]int, order contracts.OrderCreated, metrics *observability.Metrics) {
	fmt.Printf("\n%s\n%s\n", title, "================================================================================")

	w := buildWorld(payment, stock, metrics)
	defer w.cancel()

	if err := w.submit(order); err != nil {
		log.Printf("submit failed: %v", err)
		return
	}

	outcome, ok := w.awaitOutcome(order.OrderID)
	if !ok {
		fmt.Printf("- order %s: no outcome within deadline\n", order.OrderID)
		return
	}

	inst, err := w.store.Load(context.Background(), order.OrderID)
	if err != nil {
		log.Printf("load instance: %v", err)
		return
	}

	fmt.Printf("- order: %s\n", order.OrderID)
	fmt.Printf("- outcome: %s\n", outcome.Status)
	if outcome.Reason != "" {
		fmt.Printf("- reason: %s\n", outcome.Reason)
	}
	fmt.Printf("- final state: %s (version %d)\n", inst.State, inst.Version)
	fmt.Printf("- total_events: %d\n", len(w.bus.History()))
	fmt.Printf("- dead_letters: %d\n", len(w.sink.Entries()))
}

func order(id string, amount float64, items ...contracts.OrderItem) contracts.OrderCreated {
	return contracts.OrderCreated{
		OrderID:    id,
		CustomerID: "CUST-DEMO",
		Amount:     amount,
		Items:      items,
	}
}

func runScenarios(metrics *observability.Metrics) {
	alwaysPays := collab.PaymentConfig{ChargeSuccessRate: 1, RefundSuccessRate: 1}
	neverPays := collab.PaymentConfig{ChargeSuccessRate: 0, RefundSuccessRate: 1}
	plenty := map[string]int{"widget": 100, "gadget": 100}
	scarce := map[string]int{"widget": 1}

	runCase("SCENARIO 1: SUCCESS", alwaysPays, plenty,
		order("ORDER-OK", 199.90,
			contracts.OrderItem{ProductID: "widget", ProductName: "Widget", Quantity: 2, Price: 49.95},
			contracts.OrderItem{ProductID: "gadget", ProductName: "Gadget", Quantity: 1, Price: 100.00},
		), metrics)

	runCase("SCENARIO 2: PAYMENT DECLINED (no compensation)", neverPays, plenty,
		order("ORDER-PAY-FAIL", 59.90,
			contracts.OrderItem{ProductID: "widget", ProductName: "Widget", Quantity: 1, Price: 59.90},
		), metrics)

	runCase("SCENARIO 3: OUT OF STOCK (refund + cancel)", alwaysPays, scarce,
		order("ORDER-INV-FAIL", 149.85,
			contracts.OrderItem{ProductID: "widget", ProductName: "Widget", Quantity: 3, Price: 49.95},
		), metrics)
}

func startMetricsServer(metrics *observability.Metrics) {
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		addr = ":2112"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(metrics))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	go func() {
		log.Printf("metrics endpoint listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()
}

func main() {
	metrics := observability.NewMetrics()
	startMetricsServer(metrics)
	runScenarios(metrics)

	if os.Getenv("RUN_CONTINUOUS") == "true" {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			runScenarios(metrics)
		}
	}
}
