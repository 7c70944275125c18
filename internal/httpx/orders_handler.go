package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/shoozy/fulfillment/internal/fulfillment"
	"github.com/shoozy/fulfillment/internal/orders"
	"github.com/shoozy/fulfillment/internal/payments"
	"github.com/shoozy/fulfillment/internal/redisx"
)

type OrdersHandler struct {
	Orders   *fulfillment.Service
	Payments *payments.Ledger
	Redis    *redis.Client
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Delete("/orders/{id}", h.cancelOrder)
	r.Put("/orders/{id}/status", h.updateStatus)
}

type createOrderResp struct {
	OrderID    int64  `json:"order_id"`
	OrderCode  string `json:"order_code"`
	TotalMoney int64  `json:"total_money"`
	FinalPrice int64  `json:"final_price"`
	Status     string `json:"status"`
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req fulfillment.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.CreateOrder(ctx, req)
	if err != nil {
		writeErr(w, err)
		return
	}

	// cash / counter payments get their tracking record right away;
	// gateway orders go through /payments/create-gateway instead
	if _, err := h.Payments.EnsureInitialTransaction(ctx, o.ID); err != nil {
		writeErr(w, err)
		return
	}

	h.cacheStatus(ctx, o.ID, o.Status)
	writeJSON(w, http.StatusCreated, createOrderResp{
		OrderID:    o.ID,
		OrderCode:  o.OrderCode,
		TotalMoney: o.TotalMoney,
		FinalPrice: o.FinalPrice,
		Status:     string(o.Status),
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// cache first, DB stays the source of truth
	key := fmt.Sprintf(redisx.KeyOrderStatus, id)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	o, items, err := h.Orders.GetOrder(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	txs, err := h.Payments.TransactionsFor(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}

	body := map[string]any{
		"order_id":        o.ID,
		"order_code":      o.OrderCode,
		"status":          o.Status,
		"total_money":     o.TotalMoney,
		"shipping_fee":    o.ShippingFee,
		"coupon_discount": o.CouponDiscount,
		"final_price":     o.FinalPrice,
		"active":          o.Active,
		"items":           items,
		"transactions":    txs,
	}
	if b, err := json.Marshal(body); err == nil {
		_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Orders.Cancel(ctx, id, actorFrom(r)); err != nil {
		writeErr(w, err)
		return
	}
	h.invalidateStatus(ctx, id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "CANCELLED"})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing status"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.UpdateStatus(ctx, id, orders.Status(req.Status))
	if err != nil {
		writeErr(w, err)
		return
	}
	h.invalidateStatus(ctx, id)
	writeJSON(w, http.StatusOK, map[string]any{"order_code": o.OrderCode, "status": o.Status})
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, orderID int64, status orders.Status) {
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = h.Redis.Set(ctx, key, fmt.Sprintf(`{"status":%q}`, status), redisx.TTLStatusCache).Err()
}

func (h *OrdersHandler) invalidateStatus(ctx context.Context, orderID int64) {
	_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyOrderStatus, orderID)).Err()
}

// actorFrom trusts upstream auth middleware (out of scope here) to supply
// identity headers.
func actorFrom(r *http.Request) fulfillment.Actor {
	uid, _ := strconv.ParseInt(r.Header.Get("X-User-Id"), 10, 64)
	role := orders.Role(r.Header.Get("X-User-Role"))
	if role == "" {
		role = orders.RoleCustomer
	}
	return fulfillment.Actor{UserID: uid, Role: role}
}
