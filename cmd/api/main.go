package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/sporehub/marketplace/internal/config"
	"github.com/sporehub/marketplace/internal/delivery"
	"github.com/sporehub/marketplace/internal/httpx"
	"github.com/sporehub/marketplace/internal/inventory"
	kafkax "github.com/sporehub/marketplace/internal/kafka"
	"github.com/sporehub/marketplace/internal/money"
	"github.com/sporehub/marketplace/internal/notify"
	"github.com/sporehub/marketplace/internal/orders"
	"github.com/sporehub/marketplace/internal/payments"
	"github.com/sporehub/marketplace/internal/postgres"
	"github.com/sporehub/marketplace/internal/redisx"
	"github.com/sporehub/marketplace/internal/wallet"
)

func main() {
	_ = godotenv.Load()
	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		logrus.WithError(err).Fatal("migrate")
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logrus.WithError(err).Fatal("db connect")
	}
	defer db.Close()
	runner := &postgres.TxRunner{Pool: db}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers: notifications and audit trail
	notifProd := kafkax.NewProducer(cfg.KafkaBrokers, notify.TopicNotifications, 1024)
	notifProd.Start(ctx)
	auditProd := kafkax.NewProducer(cfg.KafkaBrokers, notify.TopicAudit, 1024)
	auditProd.Start(ctx)

	// Payment gateway (optional; orders submit without payment when unset)
	var gateway payments.Gateway
	if cfg.PaymentBaseURL != "" {
		gateway = payments.NewClient(cfg.PaymentBaseURL)
	}

	// Repos & services
	invRepo := &inventory.Repo{}
	slotRepo := &delivery.Repo{Limits: delivery.Limits{
		MaxSlotsPerDay: cfg.DailySlotLimit,
		MaxUnitsPerDay: cfg.DailyCapacityLimit,
	}}
	walletSvc := &wallet.Service{
		Store: &wallet.Repo{},
		Tx:    runner,
		Calc:  money.NewCalculator(cfg.FeePercent),
		NewID: uuid.NewString,
	}
	orderSvc := &orders.Service{
		Store:    &orders.Repo{},
		Catalog:  invRepo,
		Stock:    invRepo,
		Slots:    slotRepo,
		Ledger:   walletSvc,
		Gateway:  gateway,
		Notifier: &notify.Notifier{Producer: notifProd, Service: cfg.ServiceName},
		Auditor:  &notify.Auditor{Producer: auditProd, Service: cfg.ServiceName},
		Tx:       runner,
		HoldTTL:  cfg.HoldTTL,
		Currency: cfg.Currency,
		NewID:    uuid.NewString,
	}

	// Handlers
	router := httpx.NewRouter()
	(&httpx.OrdersHandler{Service: orderSvc, Reaper: slotRepo, Runner: runner, Redis: rdb}).Register(router)
	(&httpx.SlotsHandler{Delivery: slotRepo, Inventory: invRepo, Runner: runner, Pool: db}).Register(router)
	(&httpx.WalletsHandler{Service: walletSvc}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		logrus.WithField("addr", cfg.HTTPAddr).Info("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("listen")
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logrus.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	notifProd.Close()
	auditProd.Close()
	cancel()
	notifProd.WaitClosed()
	auditProd.WaitClosed()
}
