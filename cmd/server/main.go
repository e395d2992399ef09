package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/bookingcom"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/etg"
	"github.com/example/ride-dispatch/internal/events"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/offers"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/sweeper"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("ride-dispatch", cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func loadPricing(path string) (*pricing.Table, error) {
	if path == "" {
		return pricing.Default(), nil
	}
	p, err := config.LoadPricing(path)
	if err != nil {
		return nil, err
	}
	return pricing.FromConfig(p)
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.RunMigrations {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("migrations applied", "driver", cfg.DBDriver)
	}

	table, err := loadPricing(cfg.PricingFile)
	if err != nil {
		return err
	}

	var cache offers.Cache = offers.NewMemoryCache(cfg.OfferCacheSize)
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			return err
		}
		cache = offers.NewRedisCache(rc, cfg.RedisOfferKey, cfg.OfferCacheSize)
		logger.Info("offer cache on redis", "addr", cfg.RedisAddr)
	}

	ws := dispatch.NewWSRegistry(logger)
	publishers := events.Multi{dispatch.NewFanout(ws, logger)}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publishers = append(publishers, kp)
		logger.Info("publishing events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret, auth.DefaultTTL)
	if err != nil {
		return err
	}

	engine := lifecycle.New(db, publishers, logger)
	etgSvc := etg.NewService(db, engine, cache, table, logger)
	booking := bookingcom.NewService(db, engine, bookingcom.NewClient(), table, logger)

	var wg sync.WaitGroup
	background := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	background(sweeper.New(engine, cfg.SweepInterval, cfg.CriticalWindow, logger).Run)
	if cfg.BookingPollInterval > 0 {
		background(bookingcom.NewPoller(booking, cfg.BookingPollInterval, logger).Run)
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewServer(httpapi.Deps{
			DB:      db,
			Engine:  engine,
			ETG:     etgSvc,
			Booking: booking,
			Auth:    issuer,
			WS:      ws,
			ETGAuth: httpapi.ETGCredentials{Username: cfg.ETGUsername, Password: cfg.ETGPassword, APIKey: cfg.ETGAPIKey},
			Logger:  logger,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stop()
		wg.Wait()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	wg.Wait()
	return err
}
