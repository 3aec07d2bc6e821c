// Package collab holds in-process stand-ins for the collaborator services the
// orchestrator talks to over the bus: payment, inventory, and the order
// service's event consumer. They speak the real message contracts and are used
// by the demo binary and the end-to-end tests.
package collab

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sagaflow/internal/contracts"
	"sagaflow/internal/transport"
)

// PaymentConfig tunes the simulated gateway. Rates are success probabilities
// in [0, 1]; a rate of 1 makes the service deterministic.
type PaymentConfig struct {
	ChargeSuccessRate float64
	RefundSuccessRate float64
	Seed              int64
}

// PaymentService simulates the payment gateway: charges succeed or decline
// probabilistically, refunds likewise.
type PaymentService struct {
	bus        transport.Publisher
	log        *zap.Logger
	chargeRate float64
	refundRate float64

	mu       sync.Mutex
	rng      *rand.Rand
	payments map[string]float64
}

// NewPaymentService constructs the stub gateway.
func NewPaymentService(bus transport.Publisher, log *zap.Logger, cfg PaymentConfig) *PaymentService {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentService{
		bus:        bus,
		log:        log,
		chargeRate: cfg.ChargeSuccessRate,
		refundRate: cfg.RefundSuccessRate,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		payments:   make(map[string]float64),
	}
}

// Register subscribes the service to its command topic.
func (s *PaymentService) Register(bus *transport.MemoryBus) {
	bus.Subscribe(contracts.TopicPaymentCommands, s.Handle)
}

// Handle processes one payment command.
func (s *PaymentService) Handle(ctx context.Context, env contracts.Envelope) error {
	msg, err := env.Decode()
	if err != nil {
		return err
	}

	switch cmd := msg.(type) {
	case contracts.ProcessPayment:
		return s.charge(ctx, cmd)
	case contracts.RefundPayment:
		return s.refund(ctx, cmd)
	default:
		return fmt.Errorf("payment service: unexpected message %s", env.Kind)
	}
}

func (s *PaymentService) charge(ctx context.Context, cmd contracts.ProcessPayment) error {
	if s.roll(s.chargeRate) {
		paymentID := uuid.NewString()
		s.mu.Lock()
		s.payments[paymentID] = cmd.Amount
		s.mu.Unlock()
		s.log.Info("payment processed",
			zap.String("order_id", cmd.OrderID),
			zap.String("payment_id", paymentID),
			zap.Float64("amount", cmd.Amount),
		)
		return s.publish(ctx, contracts.PaymentProcessed{
			OrderID:   cmd.OrderID,
			PaymentID: paymentID,
			Amount:    cmd.Amount,
		})
	}

	s.log.Warn("payment declined",
		zap.String("order_id", cmd.OrderID),
		zap.String("customer_id", cmd.CustomerID),
	)
	return s.publish(ctx, contracts.PaymentFailed{OrderID: cmd.OrderID, Reason: "Payment declined"})
}

func (s *PaymentService) refund(ctx context.Context, cmd contracts.RefundPayment) error {
	if s.roll(s.refundRate) {
		s.log.Info("payment refunded",
			zap.String("order_id", cmd.OrderID),
			zap.String("payment_id", cmd.PaymentID),
		)
		return s.publish(ctx, contracts.PaymentRefunded{
			OrderID:   cmd.OrderID,
			PaymentID: cmd.PaymentID,
			Amount:    cmd.Amount,
		})
	}

	s.log.Warn("refund failed",
		zap.String("order_id", cmd.OrderID),
		zap.String("payment_id", cmd.PaymentID),
	)
	return s.publish(ctx, contracts.RefundFailed{
		OrderID:   cmd.OrderID,
		PaymentID: cmd.PaymentID,
		Reason:    "Refund declined",
	})
}

// Charged reports whether a payment id was captured (for tests/inspection).
func (s *PaymentService) Charged(paymentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.payments[paymentID]
	return ok
}

func (s *PaymentService) roll(rate float64) bool {
	if rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < rate
}

func (s *PaymentService) publish(ctx context.Context, msg contracts.Message) error {
	env, err := contracts.Wrap(uuid.NewString(), time.Now(), msg)
	if err != nil {
		return err
	}
	return s.bus.Publish(ctx, env)
}
