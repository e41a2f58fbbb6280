package main

import (
	"context"
	"errors"
	"github.com/RaikyD/shop-orders-service/internal/application"
	"github.com/RaikyD/shop-orders-service/internal/auth"
	"github.com/RaikyD/shop-orders-service/internal/cache"
	"github.com/RaikyD/shop-orders-service/internal/config"
	"github.com/RaikyD/shop-orders-service/internal/kafka"
	"github.com/RaikyD/shop-orders-service/internal/logger"
	"github.com/RaikyD/shop-orders-service/internal/migrate"
	"github.com/RaikyD/shop-orders-service/internal/presentation"
	"github.com/RaikyD/shop-orders-service/internal/repository"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Boot().Errorw("config load failed", "err", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		logger.Boot().Errorw("logger init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Errorw("service stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DB pool
	pool, err := repository.OpenPool(ctx, cfg.DB_STRING, cfg.DBMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = pool.Ping(pingCtx)
	cancel()
	if err != nil {
		return err
	}
	log.Infow("db connected")

	if cfg.MigrateOnStart {
		if err := migrate.Up(cfg.DB_STRING); err != nil {
			return err
		}
		log.Infow("migrations applied")
	}

	prod := kafka.NewProducer(cfg.Kafka.Brokers(), cfg.Kafka.KAFKA_TOPIC)
	defer func() {
		if err := prod.Close(); err != nil {
			log.Warnw("kafka producer close failed", "err", err)
		}
	}()

	opts := []application.Option{application.WithPublishTimeout(cfg.Kafka.PublishTimeout)}
	if cfg.RedisAddr != "" {
		rc, err := cache.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			// create keeps working without replay protection
			log.Warnw("redis unavailable, idempotency keys disabled", "addr", cfg.RedisAddr, "err", err)
		} else {
			defer func() { _ = rc.Close() }()
			opts = append(opts, application.WithIdempotency(cache.NewIdempotencyStore(rc, "orders-service"), cfg.IdempotencyTTL))
			log.Infow("idempotency store connected", "addr", cfg.RedisAddr)
		}
	}

	// Wiring
	repo := repository.NewOrderRepository(pool)
	svc := application.NewOrdersService(repo, prod, log, opts...)
	h := presentation.NewOrdersHandler(svc, log, cfg.IsProduction())

	router := presentation.NewRouter(presentation.RouterConfig{
		Handler:        h,
		Auth:           auth.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer),
		Limiter:        presentation.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		RequestTimeout: cfg.RequestTimeout,
		AccessLog:      true,
		Log:            log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP_PORT,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("starting http", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http shutdown incomplete", "err", err)
	}
	if err := svc.Drain(shutdownCtx); err != nil {
		log.Warnw("pending order events dropped", "err", err)
	}
	return nil
}
