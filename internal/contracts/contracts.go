package contracts

// Message kinds carried in the envelope. Inbound events are produced by the
// collaborator services; outbound commands and lifecycle events are produced
// by the orchestrator.
const (
	KindOrderCreated               = "order.created"
	KindPaymentProcessed           = "payment.processed"
	KindPaymentFailed              = "payment.failed"
	KindInventoryReserved          = "inventory.reserved"
	KindInventoryReservationFailed = "inventory.reserve.failed"
	KindPaymentRefunded            = "payment.refunded"

	KindProcessPayment   = "payment.process"
	KindRefundPayment    = "payment.refund"
	KindReserveInventory = "inventory.reserve"
	KindReleaseInventory = "inventory.release"

	KindOrderApproved  = "order.approved"
	KindOrderRejected  = "order.rejected"
	KindOrderCompleted = "order.completed"
	KindOrderCancelled = "order.cancelled"

	KindInventoryReleased = "inventory.released"
	KindRefundFailed      = "payment.refund.failed"
)

// Message is any event or command exchanged over the bus. Correlation returns
// the order id owning the message; every contract carries it.
type Message interface {
	Kind() string
	Correlation() string
}

// OrderItem is the order-line snapshot captured when a saga starts.
type OrderItem struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

// InventoryItem is the reduced line sent to the inventory service.
type InventoryItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// OrderCreated starts a saga.
type OrderCreated struct {
	OrderID    string      `json:"order_id"`
	CustomerID string      `json:"customer_id"`
	Amount     float64     `json:"amount"`
	Items      []OrderItem `json:"items"`
}

func (m OrderCreated) Kind() string        { return KindOrderCreated }
func (m OrderCreated) Correlation() string { return m.OrderID }

// PaymentProcessed reports a successful charge.
type PaymentProcessed struct {
	OrderID   string  `json:"order_id"`
	PaymentID string  `json:"payment_id"`
	Amount    float64 `json:"amount"`
}

func (m PaymentProcessed) Kind() string        { return KindPaymentProcessed }
func (m PaymentProcessed) Correlation() string { return m.OrderID }

// PaymentFailed reports a declined charge.
type PaymentFailed struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

func (m PaymentFailed) Kind() string        { return KindPaymentFailed }
func (m PaymentFailed) Correlation() string { return m.OrderID }

// InventoryReserved reports a successful reservation.
type InventoryReserved struct {
	OrderID string          `json:"order_id"`
	Items   []InventoryItem `json:"items"`
}

func (m InventoryReserved) Kind() string        { return KindInventoryReserved }
func (m InventoryReserved) Correlation() string { return m.OrderID }

// InventoryReservationFailed reports a failed reservation.
type InventoryReservationFailed struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

func (m InventoryReservationFailed) Kind() string        { return KindInventoryReservationFailed }
func (m InventoryReservationFailed) Correlation() string { return m.OrderID }

// PaymentRefunded reports a completed compensation refund.
type PaymentRefunded struct {
	OrderID   string  `json:"order_id"`
	PaymentID string  `json:"payment_id"`
	Amount    float64 `json:"amount"`
}

func (m PaymentRefunded) Kind() string        { return KindPaymentRefunded }
func (m PaymentRefunded) Correlation() string { return m.OrderID }

// RefundFailed reports a failed compensation refund. The orchestrator does not
// consume it; it exists so the payment collaborator can speak its full protocol.
type RefundFailed struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
}

func (m RefundFailed) Kind() string        { return KindRefundFailed }
func (m RefundFailed) Correlation() string { return m.OrderID }

// ProcessPayment asks the payment service to charge the customer.
type ProcessPayment struct {
	OrderID    string  `json:"order_id"`
	CustomerID string  `json:"customer_id"`
	Amount     float64 `json:"amount"`
}

func (m ProcessPayment) Kind() string        { return KindProcessPayment }
func (m ProcessPayment) Correlation() string { return m.OrderID }

// RefundPayment asks the payment service to undo an earlier charge.
type RefundPayment struct {
	OrderID   string  `json:"order_id"`
	PaymentID string  `json:"payment_id"`
	Amount    float64 `json:"amount"`
}

func (m RefundPayment) Kind() string        { return KindRefundPayment }
func (m RefundPayment) Correlation() string { return m.OrderID }

// ReserveInventory asks the inventory service to hold stock for the order.
type ReserveInventory struct {
	OrderID string          `json:"order_id"`
	Items   []InventoryItem `json:"items"`
}

func (m ReserveInventory) Kind() string        { return KindReserveInventory }
func (m ReserveInventory) Correlation() string { return m.OrderID }

// ReleaseInventory asks the inventory service to return held stock.
type ReleaseInventory struct {
	OrderID string          `json:"order_id"`
	Items   []InventoryItem `json:"items"`
}

func (m ReleaseInventory) Kind() string        { return KindReleaseInventory }
func (m ReleaseInventory) Correlation() string { return m.OrderID }

// InventoryReleased confirms returned stock.
type InventoryReleased struct {
	OrderID string          `json:"order_id"`
	Items   []InventoryItem `json:"items"`
}

func (m InventoryReleased) Kind() string        { return KindInventoryReleased }
func (m InventoryReleased) Correlation() string { return m.OrderID }

// OrderApproved tells the order service the order passed payment and inventory.
type OrderApproved struct {
	OrderID string `json:"order_id"`
}

func (m OrderApproved) Kind() string        { return KindOrderApproved }
func (m OrderApproved) Correlation() string { return m.OrderID }

// OrderRejected tells the order service the order was turned down.
type OrderRejected struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

func (m OrderRejected) Kind() string        { return KindOrderRejected }
func (m OrderRejected) Correlation() string { return m.OrderID }

// OrderCompleted tells the order service the saga finished successfully.
type OrderCompleted struct {
	OrderID string `json:"order_id"`
}

func (m OrderCompleted) Kind() string        { return KindOrderCompleted }
func (m OrderCompleted) Correlation() string { return m.OrderID }

// OrderCancelled tells the order service the order was undone after compensation.
type OrderCancelled struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

func (m OrderCancelled) Kind() string        { return KindOrderCancelled }
func (m OrderCancelled) Correlation() string { return m.OrderID }

// ItemsForReservation reduces order lines to the fields the inventory service needs.
func ItemsForReservation(items []OrderItem) []InventoryItem {
	out := make([]InventoryItem, 0, len(items))
	for _, item := range items {
		out = append(out, InventoryItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}
