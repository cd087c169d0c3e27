package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/physiobook/booking-engine/internal/config"
	"github.com/physiobook/booking-engine/internal/logging"
	"github.com/physiobook/booking-engine/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.AMQPURL == "" {
		logger.Fatal("AMQP_URL is required for the notify worker")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, ch, err := notify.Open(cfg.AMQPURL, cfg.NotifyQueue)
	if err != nil {
		logger.Fatal("rabbitmq connection error", zap.Error(err))
	}
	defer func() {
		_ = ch.Close()
		_ = conn.Close()
	}()

	logger.Info("notify-worker consuming", zap.String("queue", cfg.NotifyQueue))

	// Delivery to email/SMS providers is out of scope; every message is
	// recorded so the audit trail shows what a user would have received.
	err = notify.Consume(rootCtx, ch, cfg.NotifyQueue, logger, func(_ context.Context, m notify.Message) error {
		logger.Info("notification delivered",
			zap.String("id", m.ID.String()),
			zap.String("user_id", m.UserID.String()),
			zap.String("kind", string(m.Kind)),
			zap.Any("payload", m.Payload),
		)
		return nil
	})
	if err != nil {
		logger.Error("consumer stopped", zap.Error(err))
	}

	logger.Info("notify-worker stopped")
}
