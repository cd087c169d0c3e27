package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/physiobook/booking-engine/internal/api"
	"github.com/physiobook/booking-engine/internal/availability"
	"github.com/physiobook/booking-engine/internal/booking"
	"github.com/physiobook/booking-engine/internal/config"
	"github.com/physiobook/booking-engine/internal/db"
	"github.com/physiobook/booking-engine/internal/logging"
	"github.com/physiobook/booking-engine/internal/metrics"
	"github.com/physiobook/booking-engine/internal/notify"
	"github.com/physiobook/booking-engine/internal/payment"
	redisclient "github.com/physiobook/booking-engine/internal/redis"
)

var version = "dev"

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

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.Bool("payment_required", cfg.PaymentRequired()),
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

	if cfg.MigrateOnStart {
		applied, err := db.Migrate(rootCtx, pgPool, logger)
		if err != nil {
			logger.Fatal("migration error", zap.Error(err))
		}
		logger.Info("migrations complete", zap.Int("applied", applied))
	}

	// Connect Redis
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
		logger.Info("connected to RabbitMQ", zap.String("queue", cfg.NotifyQueue))
	}

	m := metrics.New()
	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
	svc := booking.NewService(repo, locker, gateway, emitter, cfg, logger, booking.WithMetrics(m))

	handler := api.NewRouter(api.RouterConfig{
		Service:  svc,
		Schedule: availability.NewSchedule(repo, logger),
		Metrics:  m,
		Logger:   logger,
		Postgres: pgPool,
		Redis:    api.RedisPinger{Client: rdb},
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	logger.Info("api-server stopped")
}
