package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/sporehub/marketplace/internal/config"
	kafkax "github.com/sporehub/marketplace/internal/kafka"
	"github.com/sporehub/marketplace/internal/notify"
	"github.com/sporehub/marketplace/internal/redisx"
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

// deliverer consumes notification events, dedups by event id, and hands them
// to the delivery channel (stdout here; swap in email or push later).
type deliverer struct {
	redis   *redis.Client
	service string
	log     *logrus.Entry
}

func (d *deliverer) handle(ctx context.Context, m kafkago.Message) error {
	var ev notify.Envelope
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		d.log.WithError(err).Warn("malformed envelope, skipping")
		return nil // commit: retrying cannot fix a broken payload
	}

	// at-least-once delivery from Kafka; dedup makes it effectively-once
	dedupKey := fmt.Sprintf(redisx.KeyDedup, d.service, ev.EventID)
	set, err := d.redis.SetNX(ctx, dedupKey, 1, redisx.TTLDedup).Result()
	if err != nil {
		return err
	}
	if !set {
		return nil
	}

	p, err := kafkax.UnwrapPayload[notify.NotificationPayload](ev.Payload)
	if err != nil {
		d.log.WithError(err).WithField("event_id", ev.EventID).Warn("bad payload, skipping")
		return nil
	}
	d.log.WithFields(logrus.Fields{
		"event_id": ev.EventID,
		"user_id":  p.UserID,
		"type":     p.Type,
	}).Info("notification delivered")
	return nil
}

func main() {
	_ = godotenv.Load()
	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	d := &deliverer{
		redis:   rdb,
		service: cfg.ServiceName + "-notifier",
		log:     logrus.WithField("component", "notifier"),
	}

	group := getenv("NOTIFIER_GROUP", "notifier-svc")
	workers := mustAtoi(os.Getenv("NOTIFIER_WORKERS"), "4")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, notify.TopicNotifications, workers)

	go func() {
		d.log.WithFields(logrus.Fields{"group": group, "topic": notify.TopicNotifications, "workers": workers}).
			Info("notifier consumer started")
		if err := cons.Start(ctx, d.handle); err != nil {
			d.log.WithError(err).Error("consumer exit")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logrus.Info("shutting down notifier...")
	cancel()
	time.Sleep(500 * time.Millisecond)
}
