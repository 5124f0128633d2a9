package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/sporehub/marketplace/internal/config"
	"github.com/sporehub/marketplace/internal/delivery"
	"github.com/sporehub/marketplace/internal/postgres"
)

// The reaper cancels TEMPORARY booking holds past their TTL, returning slot
// capacity and stock. The release itself is transactional and idempotent, so
// running several reapers at once is safe, just wasteful.
func main() {
	_ = godotenv.Load()
	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logrus.WithError(err).Fatal("db connect")
	}
	defer db.Close()
	runner := &postgres.TxRunner{Pool: db}

	repo := &delivery.Repo{Limits: delivery.Limits{
		MaxSlotsPerDay: cfg.DailySlotLimit,
		MaxUnitsPerDay: cfg.DailyCapacityLimit,
	}}
	log := logrus.WithField("component", "reaper")

	interval := cfg.HoldTTL / 3
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	log.WithField("interval", interval.String()).Info("reaper started")
	for {
		select {
		case <-ticker.C:
			n, err := repo.ReleaseExpired(ctx, runner, time.Now().UTC())
			if err != nil {
				log.WithError(err).Error("release expired holds")
				continue
			}
			if n > 0 {
				log.WithField("released", n).Info("expired holds released")
			}
		case <-sig:
			log.Info("shutting down reaper")
			return
		}
	}
}
