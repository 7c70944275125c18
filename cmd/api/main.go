package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shoozy/fulfillment/internal/config"
	"github.com/shoozy/fulfillment/internal/eventbus"
	"github.com/shoozy/fulfillment/internal/fulfillment"
	"github.com/shoozy/fulfillment/internal/gateway"
	"github.com/shoozy/fulfillment/internal/httpx"
	kafkax "github.com/shoozy/fulfillment/internal/kafka"
	"github.com/shoozy/fulfillment/internal/orders"
	"github.com/shoozy/fulfillment/internal/payments"
	"github.com/shoozy/fulfillment/internal/postgres"
	"github.com/shoozy/fulfillment/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka notifier behind the event bus
	notifier := kafkax.NewNotifier(cfg.KafkaBrokers, kafkax.TopicNotifications, cfg.ServiceName)
	bus := eventbus.New(cfg.EventBusCapacity, notifier)
	bus.Start(ctx)

	// Payment gateway adapter
	gw, err := gateway.New(cfg.GatewayPayURL, cfg.GatewayTmnCode, cfg.GatewaySecret, cfg.GatewayTimezone)
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}

	// Repos & services
	txm := &postgres.TxManager{Pool: db}
	catalog := &orders.CatalogRepo{DB: db}
	orderRepo := &orders.OrderRepo{DB: db}
	inventory := &orders.InventoryRepo{DB: db}
	coupons := &orders.CouponRepo{DB: db}
	txRepo := &payments.TransactionRepo{DB: db}

	ledger := payments.NewLedger(txm, txRepo, orderRepo, catalog, gw)
	reconciler := payments.NewReconciler(txm, txRepo, orderRepo, gw, bus)

	svc := &fulfillment.Service{
		Tx:        txm,
		Inventory: inventory,
		Coupons:   coupons,
		Catalog:   catalog,
		Orders:    orderRepo,
		Payments:  ledger,
		Bus:       bus,
	}

	// Router & handlers
	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Orders:   svc,
		Payments: ledger,
		Redis:    rdb,
	}
	oh.Register(router)
	ph := &httpx.PaymentsHandler{
		Orders:      svc,
		Ledger:      ledger,
		Reconciler:  reconciler,
		FrontendURL: cfg.FrontendURL,
		BackendURL:  cfg.BackendURL,
	}
	ph.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	bus.Close() // tutup inbox -> flush remaining events
	cancel()
	bus.WaitClosed()
	_ = notifier.Close()
}
