// Command eventtail follows the order event topic and logs every event.
package main

import (
	"context"
	"github.com/RaikyD/shop-orders-service/internal/config"
	"github.com/RaikyD/shop-orders-service/internal/kafka"
	"github.com/RaikyD/shop-orders-service/internal/logger"
	"github.com/joho/godotenv"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(false, envOr("LOG_LEVEL", "info"))
	if err != nil {
		logger.Boot().Errorw("logger init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.LoadKafka()
	if err != nil {
		log.Errorw("config load failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = kafka.Consume(ctx, kafka.ConsumerConfig{
		Brokers: cfg.Brokers(),
		Topic:   cfg.KAFKA_TOPIC,
		GroupID: cfg.KAFKA_GROUP_ID,
	}, log, func(_ context.Context, env kafka.Envelope, headers map[string]string) error {
		if kafka.Expired(headers, time.Now()) {
			log.Debugw("expired event skipped", "event_id", env.EventID, "expires_at", headers[kafka.HeaderExpiresAt])
			return nil
		}
		log.Infow("order event",
			"event_type", env.EventType,
			"event_id", env.EventID,
			"order_id", env.Data.OrderID,
			"order_number", env.Data.OrderNumber,
			"customer_id", env.Data.CustomerID,
			"previous_status", env.Data.PreviousStatus,
			"new_status", env.Data.NewStatus,
			"total", env.Data.TotalAmount.String()+" "+env.Data.Currency,
		)
		return nil
	})
	if err != nil {
		log.Errorw("consumer stopped", "err", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
