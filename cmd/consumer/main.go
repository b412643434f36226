package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/config"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/logger"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/storage"
)

const groupID = "library-order-events-consumer"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "").Fatal("Invalid configuration", zap.Error(err))
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()

	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		GroupID:        groupID,
		Topic:          cfg.OrdersTopic,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        3 * time.Second,
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Error("Error closing Kafka reader", zap.Error(err))
		}
	}()

	log.Info("Consumer connected",
		zap.String("topic", cfg.OrdersTopic),
		zap.Strings("brokers", cfg.KafkaBrokers),
	)

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				log.Info("Shutdown signal received, stopping consumer")
				return
			}
			log.Error("Error reading message", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		event, err := storage.DecodeOrderEvent(m.Value)
		if err != nil {
			log.Warn("Skipping malformed order event",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
			continue
		}

		log.Info("Order event",
			zap.String("type", string(event.Type)),
			zap.Int64("order_id", event.OrderID),
			zap.Int64("book_id", event.BookID),
			zap.Int64("user_id", event.UserID),
			zap.Int("quantity", event.Quantity),
			zap.String("status", event.Status),
			zap.Time("occurred_at", event.OccurredAt),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
		)
	}
}
