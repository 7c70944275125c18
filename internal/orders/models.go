package orders

import "time"

// Monetary values are VND (integer, no minor unit).

type User struct {
	ID    int64
	Email string
	Role  Role
}

type PaymentMethodKind string

const (
	MethodCash   PaymentMethodKind = "CASH"
	MethodOnline PaymentMethodKind = "ONLINE"
)

type PaymentMethod struct {
	ID   int64
	Name string
	Kind PaymentMethodKind
}

type ProductVariant struct {
	ID        int64
	SKU       string
	SellPrice int64
	Quantity  int
}

// PromotionTerms is the slice of a promotion that pricing needs.
type PromotionTerms struct {
	Code    string
	Name    string
	Percent float64
}

type Order struct {
	ID              int64
	OrderCode       string
	UserID          int64
	PaymentMethodID int64
	Online          bool // true = online delivery, false = at the counter
	Status          Status
	TotalMoney      int64 // merchandise subtotal
	ShippingFee     int64
	CouponDiscount  int64
	FinalPrice      int64
	CouponID        *int64
	CouponSnapshot  *CouponSnapshot
	Fullname        string
	PhoneNumber     string
	Address         string
	Note            string
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CouponSnapshot freezes the coupon terms at order time; the live coupon may
// change afterwards.
type CouponSnapshot struct {
	Code       string
	Name       string
	Percentage bool
	Value      float64
	ValueLimit int64
}

type OrderItem struct {
	ID                int64
	OrderID           int64
	VariantID         int64
	Quantity          int
	Price             int64 // unit price before promotion
	PromotionCode     string
	PromotionName     string
	PromotionValue    float64
	PromotionDiscount int64 // per unit
	LineTotal         int64
}

type TimelineEntry struct {
	ID          int64
	OrderID     int64
	UserID      int64
	Type        string
	Description string
	CreatedAt   time.Time
}

type TxStatus string

const (
	TxPending   TxStatus = "PENDING"
	TxSuccess   TxStatus = "SUCCESS"
	TxFailed    TxStatus = "FAILED"
	TxCancelled TxStatus = "CANCELLED"
	TxExpired   TxStatus = "EXPIRED"
)

// Terminal reports whether the status is final. Once terminal a transaction
// is never mutated again.
func (s TxStatus) Terminal() bool { return s != TxPending }

type Transaction struct {
	ID          int64
	OrderID     int64
	Code        string // reference code correlating gateway request and callback
	Amount      int64
	Status      TxStatus
	Note        string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// CallbackRecord keeps a verified gateway callback for audit. Write-once.
type CallbackRecord struct {
	ID                int64
	TransactionID     int64
	TxnRef            string
	GatewayTxnNo      string
	BankCode          string
	CardType          string
	PayDate           string
	OrderInfo         string
	ResponseCode      string
	TransactionStatus string
	RawQuery          string
	SecureHash        string
	CreatedAt         time.Time
}
