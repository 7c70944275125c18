package orders

import "time"

const (
	ActionOrderCreated      = "ORDER_CREATED"
	ActionOrderCancelled    = "ORDER_CANCELLED"
	ActionOrderStatusChange = "ORDER_UPDATED_STATUS"
	ActionCouponDecrement   = "COUPON_DECREMENT"
	ActionCouponRestored    = "COUPON_RESTORED"
	ActionPaymentConfirmed  = "PAYMENT_CONFIRMED"
)

// Event is what the notification sink receives. Transient, never persisted.
type Event struct {
	Type       string    `json:"type"` // "order" | "coupon" | "payment"
	Action     string    `json:"action"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"timestamp"`
}

type OrderCreatedEvent struct {
	OrderID   int64  `json:"order_id"`
	OrderCode string `json:"order_code"`
}

type CouponDecrementedEvent struct {
	CouponID  int64        `json:"coupon_id"`
	Code      string       `json:"code"`
	Quantity  int          `json:"quantity"`
	Status    CouponStatus `json:"status"`
	OrderID   int64        `json:"order_id"`
	OrderCode string       `json:"order_code"`
}

type CouponRestoredEvent struct {
	CouponID int64        `json:"coupon_id"`
	Code     string       `json:"code"`
	Quantity int          `json:"quantity"`
	Status   CouponStatus `json:"status"`
}

type OrderCancelledEvent struct {
	OrderID   int64  `json:"order_id"`
	OrderCode string `json:"order_code"`
	Actor     string `json:"actor"`
}

type OrderStatusChangedEvent struct {
	OrderID   int64  `json:"order_id"`
	OrderCode string `json:"order_code"`
	Status    Status `json:"status"`
}

type PaymentConfirmedEvent struct {
	OrderID         int64  `json:"order_id"`
	OrderCode       string `json:"order_code"`
	TransactionCode string `json:"transaction_code"`
	Amount          int64  `json:"amount"`
}

func NewEvent(typ, action string, payload any) Event {
	return Event{Type: typ, Action: action, Payload: payload, OccurredAt: time.Now().UTC()}
}
