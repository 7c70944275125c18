package orders

import (
	"errors"
	"fmt"
)

var ErrInvalidInput = errors.New("invalid input")

type NotFoundError struct {
	Resource string
	Key      any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %v", e.Resource, e.Key)
}

type OutOfStockError struct {
	Requested int `json:"requestedQuantity"`
	Allowed   int `json:"allowedQuantity"`
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("out of stock: requested %d, allowed %d", e.Requested, e.Allowed)
}

type CouponReason string

const (
	CouponNotFound      CouponReason = "NOT_FOUND"
	CouponDeleted       CouponReason = "DELETED"
	CouponExpiredReason CouponReason = "EXPIRED"
	CouponNotYetActive  CouponReason = "NOT_YET_ACTIVE"
	CouponAlreadyUsed   CouponReason = "ALREADY_USED"
	CouponMinimumNotMet CouponReason = "MINIMUM_NOT_MET"
	CouponExhausted     CouponReason = "EXHAUSTED"
)

type CouponError struct {
	Reason CouponReason
	Code   string
}

func (e *CouponError) Error() string {
	return fmt.Sprintf("coupon %s: %s", e.Code, e.Reason)
}

// ConflictError marks an illegal state transition (cancel a shipped order,
// retry a paid transaction, ...).
type ConflictError struct{ Msg string }

func (e *ConflictError) Error() string { return e.Msg }

func Conflict(format string, args ...any) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}
