package payments

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/shoozy/fulfillment/internal/gateway"
	"github.com/shoozy/fulfillment/internal/orders"
	"github.com/shoozy/fulfillment/internal/txn"
)

// Reconciliation sentinels. These never reach the gateway as errors; the
// handler folds them into acknowledgement codes because a rejected
// notification just gets retried.
var (
	ErrInvalidSignature = errors.New("invalid callback signature")
	ErrAlreadyConfirmed = errors.New("transaction already confirmed")
	ErrAmountMismatch   = errors.New("callback amount does not match transaction")
)

// Ack is the small structured acknowledgement the gateway reads to decide
// whether to retry a notification.
type Ack struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

var (
	ackConfirmed   = Ack{"00", "Confirm Success"}
	ackInvalidSig  = Ack{"97", "Invalid signature"}
	ackNotFound    = Ack{"01", "Order/Tx not found"}
	ackBadAmount   = Ack{"02", "Invalid amount"}
	ackAlreadyDone = Ack{"04", "Order already confirmed"}
	ackFailed      = Ack{"99", "Confirm Fail"}
	ackUnknown     = Ack{"99", "Unknown error"}
)

// RedirectDecision tells the HTTP layer where to send the customer's browser
// after the synchronous return.
type RedirectDecision struct {
	Success   bool
	OrderCode string
	Code      string
	Message   string
}

type Reconciler struct {
	Tx      txn.Manager
	Store   TransactionStore
	Orders  OrderReader
	Gateway *gateway.Adapter
	Bus     EventSink

	now func() time.Time
}

func NewReconciler(tx txn.Manager, store TransactionStore, ord OrderReader, gw *gateway.Adapter, bus EventSink) *Reconciler {
	return &Reconciler{Tx: tx, Store: store, Orders: ord, Gateway: gw, Bus: bus, now: time.Now}
}

// HandleIPN processes the gateway's server-to-server notification. This path
// is authoritative: every state change reachable from here.
func (r *Reconciler) HandleIPN(ctx context.Context, params map[string]string, rawQuery string) Ack {
	if !r.Gateway.VerifyCallback(params) {
		return ackInvalidSig
	}

	confirmed, err := r.apply(ctx, params, rawQuery)
	switch {
	case err == nil && confirmed:
		return ackConfirmed
	case err == nil:
		return ackFailed // gateway reported a declined payment
	case errors.Is(err, ErrAlreadyConfirmed):
		return ackAlreadyDone
	case errors.Is(err, ErrAmountMismatch):
		log.Printf("reconcile: amount mismatch on %s: %v", params[gateway.ParamTxnRef], err)
		return ackBadAmount
	default:
		var nf *orders.NotFoundError
		if errors.As(err, &nf) {
			return ackNotFound
		}
		log.Printf("reconcile: ipn %s: %v", params[gateway.ParamTxnRef], err)
		return ackUnknown
	}
}

// HandleReturn processes the browser redirect. Advisory only: it decides the
// user-facing redirect and, on a success code, attempts the same transition
// as the IPN, swallowing any error — the idempotency check makes the race
// with the IPN benign.
func (r *Reconciler) HandleReturn(ctx context.Context, params map[string]string, rawQuery string) RedirectDecision {
	ref := params[gateway.ParamTxnRef]
	orderCode := ref
	if t, err := r.Store.FindByCode(ctx, ref); err == nil {
		if o, err := r.Orders.GetByID(ctx, t.OrderID); err == nil {
			orderCode = o.OrderCode
		}
	}

	if !r.Gateway.VerifyCallback(params) {
		return RedirectDecision{OrderCode: orderCode, Code: "97", Message: "Invalid signature"}
	}

	resp := params[gateway.ParamResponseCode]
	status := params[gateway.ParamTxnStatus]
	if resp == gateway.CodeSuccess && status == gateway.CodeSuccess {
		if _, err := r.apply(ctx, params, rawQuery); err != nil && !errors.Is(err, ErrAlreadyConfirmed) {
			log.Printf("reconcile: return fallback for %s: %v", ref, err)
		}
		return RedirectDecision{Success: true, OrderCode: orderCode, Code: gateway.CodeSuccess}
	}

	var reason string
	switch resp {
	case "24":
		reason = "Payment was cancelled by the customer."
	case "09":
		reason = "Transaction is still processing."
	case "51":
		reason = "Insufficient funds."
	default:
		reason = "Payment did not complete."
	}
	if resp == "" {
		resp = "99"
	}
	return RedirectDecision{OrderCode: orderCode, Code: resp, Message: reason}
}

// apply runs the callback against the ledger in one unit of work. Returns
// whether the gateway reported success.
func (r *Reconciler) apply(ctx context.Context, params map[string]string, rawQuery string) (bool, error) {
	var confirmed bool
	err := r.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		ref := params[gateway.ParamTxnRef]
		t, err := r.Store.FindByCode(ctx, ref)
		if err != nil {
			return err
		}

		// Duplicate or replayed notification: nothing to do, never undo.
		if t.Status.Terminal() {
			return ErrAlreadyConfirmed
		}

		if err := r.Store.InsertCallback(ctx, &orders.CallbackRecord{
			TransactionID:     t.ID,
			TxnRef:            ref,
			GatewayTxnNo:      params[gateway.ParamTxnNo],
			BankCode:          params[gateway.ParamBankCode],
			CardType:          params[gateway.ParamCardType],
			PayDate:           params[gateway.ParamPayDate],
			OrderInfo:         params[gateway.ParamOrderInfo],
			ResponseCode:      params[gateway.ParamResponseCode],
			TransactionStatus: params[gateway.ParamTxnStatus],
			RawQuery:          rawQuery,
			SecureHash:        params[gateway.ParamSecureHash],
		}); err != nil {
			return err
		}

		reported, err := strconv.ParseInt(params[gateway.ParamAmount], 10, 64)
		if err != nil {
			return ErrAmountMismatch
		}
		if reported != t.Amount*100 { // gateway reports x100
			return ErrAmountMismatch
		}

		resp := params[gateway.ParamResponseCode]
		status := params[gateway.ParamTxnStatus]
		if resp != gateway.CodeSuccess || status != gateway.CodeSuccess {
			return r.Store.SetStatus(ctx, t.ID, orders.TxFailed, nil, "")
		}

		now := r.now()
		if err := r.Store.SetStatus(ctx, t.ID, orders.TxSuccess, &now, ""); err != nil {
			return err
		}

		o, err := r.Orders.GetByID(ctx, t.OrderID)
		if err != nil {
			return err
		}
		// An online order still has to be fulfilled after payment; a
		// counter sale is done the moment the money clears.
		next := orders.StatusCompleted
		if o.Online {
			next = orders.StatusPending
		}
		if err := r.Orders.UpdateStatus(ctx, o.ID, next); err != nil {
			return err
		}

		txn.AfterCommit(ctx, func() {
			r.Bus.Enqueue(orders.NewEvent("payment", orders.ActionPaymentConfirmed,
				orders.PaymentConfirmedEvent{
					OrderID:         o.ID,
					OrderCode:       o.OrderCode,
					TransactionCode: t.Code,
					Amount:          t.Amount,
				}))
		})
		confirmed = true
		return nil
	})
	return confirmed, err
}
