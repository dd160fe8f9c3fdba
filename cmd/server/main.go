package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/ticket-pool/internal/config"
	"github.com/iliyamo/ticket-pool/internal/database"
	"github.com/iliyamo/ticket-pool/internal/fraud"
	"github.com/iliyamo/ticket-pool/internal/handler"
	"github.com/iliyamo/ticket-pool/internal/middleware"
	"github.com/iliyamo/ticket-pool/internal/queue"
	"github.com/iliyamo/ticket-pool/internal/repository"
	"github.com/iliyamo/ticket-pool/internal/router"
	"github.com/iliyamo/ticket-pool/internal/service"
	"github.com/iliyamo/ticket-pool/internal/store"
)

func main() {
	if err := config.LoadEnvFile(); err != nil {
		log.WithError(err).Fatal("load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	logger, err := config.SetupLogging(cfg)
	if err != nil {
		log.WithError(err).Fatal("setup logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis serves the rate limiter whatever the store backend is, so it is
	// optional unless it is also the store.
	var rdb *redis.Client
	if c, err := config.NewRedisClient(cfg.Redis); err != nil {
		if cfg.StoreBackend == config.BackendRedis {
			logger.WithError(err).Fatal("redis store unavailable")
		}
		logger.WithError(err).Warn("redis unavailable, rate limiting disabled")
	} else {
		rdb = c
		defer rdb.Close()
	}

	kv, closeStore, err := openStore(ctx, cfg, rdb)
	if err != nil {
		logger.WithError(err).Fatal("open store")
	}
	defer closeStore()

	catalog := repository.NewCatalogRepo(kv, logger)
	screen := fraud.NewPipeline(
		fraud.WithRounds(cfg.FraudRounds),
		fraud.WithWidth(cfg.FraudWidth),
		fraud.WithLogger(logger),
	)
	mode, err := service.ParseMode(cfg.ReserveMode)
	if err != nil {
		logger.WithError(err).Fatal("reserve mode")
	}
	opts := []service.ReservationOption{
		service.WithMode(mode),
		service.WithMaxAttempts(cfg.ReserveMaxAttempts),
		service.WithLogger(logger),
	}
	if cfg.EventsEnabled {
		opts = append(opts, service.WithPublisher(service.NewAMQPPublisher(cfg.RabbitMQURL, logger)))
		go func() {
			if err := queue.StartReservationConsumer(ctx, cfg.RabbitMQURL, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("reservation consumer stopped")
			}
		}()
	}
	reservations := service.NewReservationService(catalog, screen, opts...)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestLogger(logger))

	routeOpts := router.Options{JWTSecret: cfg.JWTSecret}
	if rdb != nil {
		routeOpts.ReserveLimiter = middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logger)
	}
	router.RegisterRoutes(e, handler.NewTicketHandler(catalog, reservations, logger), routeOpts)

	if !cfg.AdminAuthEnabled() {
		logger.Warn("JWT_SECRET not set, catalog admin routes are unauthenticated")
	}

	go func() {
		addr := ":" + cfg.Port
		logger.WithFields(log.Fields{
			"addr":    addr,
			"backend": cfg.StoreBackend,
			"mode":    string(reservations.Mode()),
		}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
	}
	logger.Info("server stopped")
}

// openStore builds the configured record store and returns a function
// releasing its resources.
func openStore(ctx context.Context, cfg config.Config, rdb *redis.Client) (store.Store, func(), error) {
	opts := store.Options{Namespace: cfg.StoreNamespace, TTL: cfg.StoreTTL}
	switch cfg.StoreBackend {
	case config.BackendRedis:
		return store.NewRedisStore(rdb, opts), func() {}, nil
	case config.BackendMySQL:
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return nil, nil, err
		}
		s := store.NewMySQLStore(db, opts)
		if err := s.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, func() { _ = db.Close() }, nil
	default:
		return store.NewMemoryStore(opts), func() {}, nil
	}
}
