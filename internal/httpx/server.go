package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shoozy/fulfillment/internal/orders"
)

func NewRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps domain errors onto client-facing payloads.
func writeErr(w http.ResponseWriter, err error) {
	var oos *orders.OutOfStockError
	if errors.As(err, &oos) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":             "out of stock",
			"requestedQuantity": oos.Requested,
			"allowedQuantity":   oos.Allowed,
		})
		return
	}
	var ce *orders.CouponError
	if errors.As(err, &ce) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "coupon rejected",
			"reason": ce.Reason,
		})
		return
	}
	var nf *orders.NotFoundError
	if errors.As(err, &nf) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": nf.Error()})
		return
	}
	var conflict *orders.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": conflict.Error()})
		return
	}
	if errors.Is(err, orders.ErrInvalidInput) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
