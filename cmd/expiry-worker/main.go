package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/physiobook/booking-engine/internal/booking"
	"github.com/physiobook/booking-engine/internal/config"
	"github.com/physiobook/booking-engine/internal/db"
	"github.com/physiobook/booking-engine/internal/logging"
	"github.com/physiobook/booking-engine/internal/notify"
	"github.com/physiobook/booking-engine/internal/payment"
	redisclient "github.com/physiobook/booking-engine/internal/redis"
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

	logger.Info("expiry-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("pending_ttl", cfg.PendingTTL),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	var gateway payment.Gateway
	if cfg.PaymentRequired() {
		gateway = payment.NewStripeGateway(cfg.StripeSecretKey, logger)
	}

	var emitter notify.Emitter = notify.NewLogEmitter(logger)
	if cfg.AMQPURL != "" {
		amqpEmitter, err := notify.NewAMQPEmitter(cfg.AMQPURL, cfg.NotifyQueue, logger)
		if err != nil {
			logger.Fatal("rabbitmq connection error", zap.Error(err))
		}
		defer func() { _ = amqpEmitter.Close() }()
		emitter = amqpEmitter
	}

	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
	svc := booking.NewService(repo, locker, gateway, emitter, cfg, logger)

	// Run once at startup
	runOnce(rootCtx, svc, cfg.PendingTTL, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, cfg.PendingTTL, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, ttl time.Duration, logger *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	expired, err := svc.ExpirePendingBookings(runCtx, start.Add(-ttl))
	if err != nil {
		logger.Error("expiry run error", zap.Error(err))
		return
	}
	logger.Info("expiry run complete",
		zap.Int("expired", expired),
		zap.Duration("took", time.Since(start)),
	)
}
