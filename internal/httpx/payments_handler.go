package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shoozy/fulfillment/internal/fulfillment"
	"github.com/shoozy/fulfillment/internal/payments"
)

type PaymentsHandler struct {
	Orders     *fulfillment.Service
	Ledger     *payments.Ledger
	Reconciler *payments.Reconciler

	FrontendURL string
	BackendURL  string
}

func (h *PaymentsHandler) Register(r *chi.Mux) {
	r.Post("/payments/create-gateway", h.createGatewayPayment)
	r.Post("/payments/retry/{orderCode}", h.retry)
	r.Get("/payments/gateway-return", h.gatewayReturn)
	r.Get("/payments/gateway-ipn", h.gatewayIPN)
}

func (h *PaymentsHandler) returnURL() string {
	return h.BackendURL + "/payments/gateway-return"
}

// createGatewayPayment places the order and opens a PENDING gateway
// transaction, answering with the signed payment URL.
func (h *PaymentsHandler) createGatewayPayment(w http.ResponseWriter, r *http.Request) {
	var req fulfillment.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	req.Online = true // gateway payments are always online deliveries

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.CreateOrder(ctx, req)
	if err != nil {
		writeErr(w, err)
		return
	}
	t, err := h.Ledger.CreateOrRenewGatewayTransaction(ctx, o.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	payURL, err := h.Ledger.PaymentURLFor(t, clientIP(r), h.returnURL())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"order_id":    o.ID,
		"order_code":  o.OrderCode,
		"final_price": o.FinalPrice,
		"payment_url": payURL,
	})
}

func (h *PaymentsHandler) retry(w http.ResponseWriter, r *http.Request) {
	orderCode := chi.URLParam(r, "orderCode")
	if orderCode == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing order code"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	payURL, err := h.Ledger.RetryGatewayTransaction(ctx, orderCode, clientIP(r), h.returnURL())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payment_url": payURL})
}

// gatewayReturn is the browser redirect leg: advisory only, it decides where
// the customer lands.
func (h *PaymentsHandler) gatewayReturn(w http.ResponseWriter, r *http.Request) {
	params := queryParams(r)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	d := h.Reconciler.HandleReturn(ctx, params, r.URL.RawQuery)

	var target string
	if d.Success {
		target = h.FrontendURL + "/orders/success?orderCode=" + url.QueryEscape(d.OrderCode)
	} else {
		target = h.FrontendURL + "/orders/failed?orderCode=" + url.QueryEscape(d.OrderCode) +
			"&code=" + url.QueryEscape(d.Code) + "&msg=" + url.QueryEscape(d.Message)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// gatewayIPN is the authoritative server-to-server leg. Always answers 200
// with an acknowledgement code; the gateway retries anything but "00"/"04"
// (and crashes here would just mean another retry).
func (h *PaymentsHandler) gatewayIPN(w http.ResponseWriter, r *http.Request) {
	params := queryParams(r)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	ack := h.Reconciler.HandleIPN(ctx, params, r.URL.RawQuery)
	writeJSON(w, http.StatusOK, ack)
}

func queryParams(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.URL.Query()))
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

// clientIP: middleware.RealIP already rewrote RemoteAddr from
// X-Forwarded-For / X-Real-IP when present.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 && !strings.HasSuffix(addr, "]") {
		addr = addr[:i]
	}
	return strings.Trim(addr, "[]")
}
