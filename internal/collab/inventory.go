package collab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sagaflow/internal/contracts"
	"sagaflow/internal/transport"
)

// InventoryService simulates the inventory system: per-product stock with
// all-or-nothing reservations and release on compensation.
type InventoryService struct {
	bus transport.Publisher
	log *zap.Logger

	mu           sync.Mutex
	stock        map[string]int
	reservations map[string][]contracts.InventoryItem
}

// NewInventoryService constructs the stub with the given initial stock.
func NewInventoryService(bus transport.Publisher, log *zap.Logger, stock map[string]int) *InventoryService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &InventoryService{
		bus:          bus,
		log:          log,
		stock:        make(map[string]int, len(stock)),
		reservations: make(map[string][]contracts.InventoryItem),
	}
	for productID, qty := range stock {
		s.stock[productID] = qty
	}
	return s
}

// Register subscribes the service to its command topic.
func (s *InventoryService) Register(bus *transport.MemoryBus) {
	bus.Subscribe(contracts.TopicInventoryCommands, s.Handle)
}

// Handle processes one inventory command.
func (s *InventoryService) Handle(ctx context.Context, env contracts.Envelope) error {
	msg, err := env.Decode()
	if err != nil {
		return err
	}

	switch cmd := msg.(type) {
	case contracts.ReserveInventory:
		return s.reserve(ctx, cmd)
	case contracts.ReleaseInventory:
		return s.release(ctx, cmd)
	default:
		return fmt.Errorf("inventory service: unexpected message %s", env.Kind)
	}
}

func (s *InventoryService) reserve(ctx context.Context, cmd contracts.ReserveInventory) error {
	s.mu.Lock()
	short := ""
	for _, item := range cmd.Items {
		if s.stock[item.ProductID] < item.Quantity {
			short = item.ProductID
			break
		}
	}
	if short == "" {
		for _, item := range cmd.Items {
			s.stock[item.ProductID] -= item.Quantity
		}
		s.reservations[cmd.OrderID] = append([]contracts.InventoryItem(nil), cmd.Items...)
	}
	s.mu.Unlock()

	if short != "" {
		s.log.Warn("reservation failed",
			zap.String("order_id", cmd.OrderID),
			zap.String("product_id", short),
		)
		return s.publish(ctx, contracts.InventoryReservationFailed{
			OrderID: cmd.OrderID,
			Reason:  fmt.Sprintf("Insufficient stock for product %s", short),
		})
	}

	s.log.Info("inventory reserved",
		zap.String("order_id", cmd.OrderID),
		zap.Int("items", len(cmd.Items)),
	)
	return s.publish(ctx, contracts.InventoryReserved{OrderID: cmd.OrderID, Items: cmd.Items})
}

func (s *InventoryService) release(ctx context.Context, cmd contracts.ReleaseInventory) error {
	s.mu.Lock()
	items, ok := s.reservations[cmd.OrderID]
	if ok {
		for _, item := range items {
			s.stock[item.ProductID] += item.Quantity
		}
		delete(s.reservations, cmd.OrderID)
	}
	s.mu.Unlock()

	s.log.Info("inventory released",
		zap.String("order_id", cmd.OrderID),
		zap.Bool("had_reservation", ok),
	)
	return s.publish(ctx, contracts.InventoryReleased{OrderID: cmd.OrderID, Items: items})
}

// Stock returns the available quantity for a product (for tests/inspection).
func (s *InventoryService) Stock(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[productID]
}

func (s *InventoryService) publish(ctx context.Context, msg contracts.Message) error {
	env, err := contracts.Wrap(uuid.NewString(), time.Now(), msg)
	if err != nil {
		return err
	}
	return s.bus.Publish(ctx, env)
}
