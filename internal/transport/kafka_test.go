package transport

import (
	"encoding/json"
	"testing"
	"time"

	"sagaflow/internal/contracts"
)

func TestKafkaMessage(t *testing.T) {
	env, err := contracts.Wrap("m1", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		contracts.ProcessPayment{OrderID: "order-1", CustomerID: "cust-9", Amount: 42.50})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	msg, err := kafkaMessage(env)
	if err != nil {
		t.Fatalf("kafkaMessage: %v", err)
	}

	if msg.Topic != contracts.TopicPaymentCommands {
		t.Fatalf("expected topic %q, got %q", contracts.TopicPaymentCommands, msg.Topic)
	}
	if string(msg.Key) != "order-1" {
		t.Fatalf("messages must be keyed by order id, got %q", msg.Key)
	}

	var decoded contracts.Envelope
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if decoded.MessageID != "m1" || decoded.Kind != contracts.KindProcessPayment {
		t.Fatalf("unexpected envelope: %+v", decoded)
	}

	if len(msg.Headers) != 2 {
		t.Fatalf("expected message-id and kind headers, got %d", len(msg.Headers))
	}
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["message-id"] != "m1" || headers["kind"] != contracts.KindProcessPayment {
		t.Fatalf("unexpected headers: %v", headers)
	}
}

func TestNewKafkaConsumer_Defaults(t *testing.T) {
	c := NewKafkaConsumer(KafkaConsumerConfig{Brokers: []string{"localhost:9092"}, Topic: contracts.TopicSagaEvents})
	if c.cfg.Workers != 1 {
		t.Fatalf("expected 1 worker by default, got %d", c.cfg.Workers)
	}
	if c.cfg.RetryDelay != time.Second {
		t.Fatalf("expected 1s retry delay default, got %v", c.cfg.RetryDelay)
	}
}
