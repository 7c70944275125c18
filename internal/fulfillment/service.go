// Package fulfillment orchestrates order creation and cancellation: it holds
// the ledgers together inside one unit of work and defers notification to the
// event bus after commit.
package fulfillment

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/shoozy/fulfillment/internal/orders"
	"github.com/shoozy/fulfillment/internal/txn"
)

type InventoryLedger interface {
	Reserve(ctx context.Context, variantID int64, qty int) (remaining int, err error)
	Restore(ctx context.Context, variantID int64, qty int) error
}

type CouponLedger interface {
	ValidateForOrder(ctx context.Context, code string, userID int64, orderValue int64) (*orders.Coupon, error)
	ReserveOne(ctx context.Context, couponID int64) (remaining int, status orders.CouponStatus, err error)
	ReleaseOne(ctx context.Context, couponID int64) (*orders.Coupon, error)
}

type Catalog interface {
	GetUser(ctx context.Context, id int64) (*orders.User, error)
	GetPaymentMethod(ctx context.Context, id int64) (*orders.PaymentMethod, error)
	GetVariant(ctx context.Context, id int64) (*orders.ProductVariant, error)
	PromotionFor(ctx context.Context, promotionID, variantID int64) (*orders.PromotionTerms, error)
}

type OrderStore interface {
	Insert(ctx context.Context, o *orders.Order, items []orders.OrderItem) error
	ExistsByCode(ctx context.Context, code string) (bool, error)
	GetByID(ctx context.Context, id int64) (*orders.Order, error)
	GetByCode(ctx context.Context, code string) (*orders.Order, error)
	Items(ctx context.Context, orderID int64) ([]orders.OrderItem, error)
	UpdateStatus(ctx context.Context, id int64, status orders.Status) error
	MarkCancelled(ctx context.Context, id int64) error
	AddTimeline(ctx context.Context, e *orders.TimelineEntry) error
}

// PaymentLedger is the slice of the transaction ledger the fulfillment side
// needs; both calls join the ambient unit of work.
type PaymentLedger interface {
	CancelPending(ctx context.Context, orderID int64) (int64, error)
	ConfirmCODPending(ctx context.Context, orderID int64, at time.Time) (int64, error)
}

type EventSink interface {
	Enqueue(e orders.Event) bool
}

type Service struct {
	Tx        txn.Manager
	Inventory InventoryLedger
	Coupons   CouponLedger
	Catalog   Catalog
	Orders    OrderStore
	Payments  PaymentLedger
	Bus       EventSink
}

type LineRequest struct {
	VariantID   int64  `json:"variant_id"`
	Quantity    int    `json:"quantity"`
	PromotionID *int64 `json:"promotion_id,omitempty"`
}

type CreateOrderRequest struct {
	UserID          int64         `json:"user_id"`
	PaymentMethodID int64         `json:"payment_method_id"`
	Online          bool          `json:"online"`
	CouponCode      string        `json:"coupon_code,omitempty"`
	ShippingFee     int64         `json:"shipping_fee"`
	Lines           []LineRequest `json:"lines"`
	Fullname        string        `json:"fullname"`
	PhoneNumber     string        `json:"phone_number"`
	Address         string        `json:"address"`
	Note            string        `json:"note,omitempty"`
}

// Actor identifies who performs an operation; auth happens upstream.
type Actor struct {
	UserID int64
	Role   orders.Role
}

// CreateOrder reserves stock and coupon allotment, prices the lines and
// persists the order — all in one unit of work. Any failure rolls everything
// back; nothing is compensated by hand.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*orders.Order, error) {
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("%w: order has no lines", orders.ErrInvalidInput)
	}
	for _, l := range req.Lines {
		if l.VariantID <= 0 || l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: bad line (variant=%d qty=%d)", orders.ErrInvalidInput, l.VariantID, l.Quantity)
		}
	}

	var created *orders.Order
	err := s.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		user, err := s.Catalog.GetUser(ctx, req.UserID)
		if err != nil {
			return err
		}
		if _, err := s.Catalog.GetPaymentMethod(ctx, req.PaymentMethodID); err != nil {
			return err
		}

		code, err := s.uniqueOrderCode(ctx)
		if err != nil {
			return err
		}

		var subtotal int64
		items := make([]orders.OrderItem, 0, len(req.Lines))
		for _, l := range req.Lines {
			variant, err := s.Catalog.GetVariant(ctx, l.VariantID)
			if err != nil {
				return err
			}
			if _, err := s.Inventory.Reserve(ctx, l.VariantID, l.Quantity); err != nil {
				return err
			}

			item := orders.OrderItem{
				VariantID: l.VariantID,
				Quantity:  l.Quantity,
				Price:     variant.SellPrice,
			}
			var percent float64
			if l.PromotionID != nil {
				terms, err := s.Catalog.PromotionFor(ctx, *l.PromotionID, l.VariantID)
				if err != nil {
					return err
				}
				if terms != nil {
					percent = terms.Percent
					item.PromotionCode = terms.Code
					item.PromotionName = terms.Name
					item.PromotionValue = terms.Percent
				}
			}
			item.PromotionDiscount, item.LineTotal = orders.PriceLine(variant.SellPrice, percent, l.Quantity)
			subtotal += item.LineTotal
			items = append(items, item)
		}

		o := &orders.Order{
			OrderCode:       code,
			UserID:          req.UserID,
			PaymentMethodID: req.PaymentMethodID,
			Online:          req.Online,
			Status:          orders.StatusPending,
			TotalMoney:      subtotal,
			ShippingFee:     req.ShippingFee,
			Fullname:        req.Fullname,
			PhoneNumber:     req.PhoneNumber,
			Address:         req.Address,
			Note:            req.Note,
			Active:          true,
		}
		if o.ShippingFee < 0 {
			o.ShippingFee = 0
		}

		var couponEvent *orders.CouponDecrementedEvent
		if strings.TrimSpace(req.CouponCode) != "" {
			coupon, err := s.Coupons.ValidateForOrder(ctx, req.CouponCode, req.UserID, subtotal)
			if err != nil {
				return err
			}
			remaining, status, err := s.Coupons.ReserveOne(ctx, coupon.ID)
			if err != nil {
				return err
			}
			o.CouponID = &coupon.ID
			o.CouponSnapshot = coupon.Snapshot()
			o.CouponDiscount = coupon.Discount(subtotal)
			couponEvent = &orders.CouponDecrementedEvent{
				CouponID: coupon.ID,
				Code:     coupon.Code,
				Quantity: remaining,
				Status:   status,
			}
		}

		net := subtotal - o.CouponDiscount
		if net < 0 {
			net = 0
		}
		o.FinalPrice = net + o.ShippingFee

		if err := s.Orders.Insert(ctx, o, items); err != nil {
			return err
		}

		if err := s.Orders.AddTimeline(ctx, &orders.TimelineEntry{
			OrderID:     o.ID,
			UserID:      user.ID,
			Type:        orders.ActionOrderCreated,
			Description: fmt.Sprintf("Order %s created by %s.", o.OrderCode, strings.ToLower(string(user.Role))),
		}); err != nil {
			return err
		}

		txn.AfterCommit(ctx, func() {
			s.Bus.Enqueue(orders.NewEvent("order", orders.ActionOrderCreated,
				orders.OrderCreatedEvent{OrderID: o.ID, OrderCode: o.OrderCode}))
			if couponEvent != nil {
				couponEvent.OrderID = o.ID
				couponEvent.OrderCode = o.OrderCode
				s.Bus.Enqueue(orders.NewEvent("coupon", orders.ActionCouponDecrement, *couponEvent))
			}
		})

		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Cancel compensates a created order: stock back, coupon back, pending
// transactions cancelled, soft-delete. Permission comes from the cancel
// table, not from scattered role checks.
func (s *Service) Cancel(ctx context.Context, orderID int64, actor Actor) error {
	return s.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.Orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if !orders.AllowedCancel(actor.Role, o.Status) {
			return orders.Conflict("order %s cannot be cancelled from status %s by %s", o.OrderCode, o.Status, actor.Role)
		}

		if err := s.Orders.MarkCancelled(ctx, orderID); err != nil {
			return err
		}

		items, err := s.Orders.Items(ctx, orderID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := s.Inventory.Restore(ctx, it.VariantID, it.Quantity); err != nil {
				return err
			}
		}

		var restored *orders.Coupon
		if o.CouponID != nil {
			restored, err = s.Coupons.ReleaseOne(ctx, *o.CouponID)
			if err != nil {
				return err
			}
		}

		if _, err := s.Payments.CancelPending(ctx, orderID); err != nil {
			return err
		}

		if err := s.Orders.AddTimeline(ctx, &orders.TimelineEntry{
			OrderID:     orderID,
			UserID:      actor.UserID,
			Type:        orders.ActionOrderCancelled,
			Description: fmt.Sprintf("Order %s cancelled by %s.", o.OrderCode, strings.ToLower(string(actor.Role))),
		}); err != nil {
			return err
		}

		txn.AfterCommit(ctx, func() {
			s.Bus.Enqueue(orders.NewEvent("order", orders.ActionOrderCancelled,
				orders.OrderCancelledEvent{OrderID: o.ID, OrderCode: o.OrderCode, Actor: string(actor.Role)}))
			if restored != nil {
				s.Bus.Enqueue(orders.NewEvent("coupon", orders.ActionCouponRestored,
					orders.CouponRestoredEvent{CouponID: restored.ID, Code: restored.Code,
						Quantity: restored.Quantity, Status: restored.Status}))
			}
		})
		return nil
	})
}

// UpdateStatus moves an order along its lifecycle. On DELIVERED, a COD
// order's pending collect-on-delivery transaction becomes SUCCESS.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, status orders.Status) (*orders.Order, error) {
	var out *orders.Order
	err := s.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.Orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if !orders.CanTransition(o.Status, status) {
			return orders.Conflict("order %s: cannot go %s -> %s", o.OrderCode, o.Status, status)
		}
		if err := s.Orders.UpdateStatus(ctx, orderID, status); err != nil {
			return err
		}

		if status == orders.StatusDelivered && o.Online {
			pm, err := s.Catalog.GetPaymentMethod(ctx, o.PaymentMethodID)
			if err != nil {
				return err
			}
			if pm.Kind == orders.MethodCash {
				if _, err := s.Payments.ConfirmCODPending(ctx, orderID, time.Now()); err != nil {
					return err
				}
			}
		}

		o.Status = status
		txn.AfterCommit(ctx, func() {
			s.Bus.Enqueue(orders.NewEvent("order", orders.ActionOrderStatusChange,
				orders.OrderStatusChangedEvent{OrderID: o.ID, OrderCode: o.OrderCode, Status: status}))
		})
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (*orders.Order, []orders.OrderItem, error) {
	o, err := s.Orders.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.Orders.Items(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return o, items, nil
}

// uniqueOrderCode draws HD<yymmdd><3 digits> codes until one is free.
func (s *Service) uniqueOrderCode(ctx context.Context) (string, error) {
	for i := 0; i < 20; i++ {
		code := fmt.Sprintf("HD%s%03d", time.Now().Format("060102"), rand.Intn(1000))
		exists, err := s.Orders.ExistsByCode(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	// the daily space is only 1000 codes, fall back to something longer
	return fmt.Sprintf("HD%s%06d", time.Now().Format("060102"), rand.Intn(1_000_000)), nil
}
