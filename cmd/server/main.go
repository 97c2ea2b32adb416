package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/example/washer-matching/internal/booking"
	"github.com/example/washer-matching/internal/config"
	"github.com/example/washer-matching/internal/dispatch"
	"github.com/example/washer-matching/internal/geo"
	"github.com/example/washer-matching/internal/geocode"
	httpapi "github.com/example/washer-matching/internal/http"
	"github.com/example/washer-matching/internal/ingest"
	"github.com/example/washer-matching/internal/logging"
	"github.com/example/washer-matching/internal/matcher"
	"github.com/example/washer-matching/internal/payments"
	"github.com/example/washer-matching/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pool geo.Pool
	if cfg.RedisAddr != "" {
		rg := geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		defer rg.Close()
		if err := rg.Client().Ping(ctx).Err(); err != nil {
			logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		pool = rg
	} else {
		logger.Warn("REDIS_ADDR not set, using in-memory washer pool")
		pool = geo.NewIndex()
	}

	var store storage.BookingStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer ps.Close()
		if cfg.RunMigrations {
			applied, err := ps.Migrate(ctx, cfg.MigrationsDir)
			if err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied", "files", applied)
		}
		store = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory booking store")
		store = storage.NewMemoryStore()
	}

	wsreg := dispatch.NewWSRegistry()
	m := &matcher.Service{
		Pool:            pool,
		History:         store,
		DefaultSpeedMps: cfg.DefaultSpeedMps,
		TopN:            cfg.MatcherTopN,
		Logger:          logger,
	}
	bookings := &booking.Service{
		Matcher:  m,
		Pool:     pool,
		Store:    store,
		Dispatch: dispatch.NewPushDispatcher(cfg.PushEndpoint, wsreg),
		Logger:   logger,
	}
	if cfg.StripeAPIKey != "" {
		bookings.Payments = payments.NewStripeClient(cfg.StripeAPIKey, cfg.PaymentCurrency, cfg.PlatformFeePercent)
	}
	if cfg.GoogleMapsAPIKey != "" {
		gc, err := geocode.NewGoogleGeocoder(cfg.GoogleMapsAPIKey, cfg.GeocodeRegion)
		if err != nil {
			logger.Error("geocoder setup failed", "error", err)
			os.Exit(1)
		}
		bookings.Geocoder = gc
	}

	deps := httpapi.Deps{
		Pool:     pool,
		Catalog:  store,
		Matcher:  m,
		Bookings: bookings,
		WSReg:    wsreg,
		Logger:   logger,
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		deps.Locations = kp
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(deps),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("washer-matching listening", "addr", cfg.HTTPAddr, "redis", cfg.RedisAddr != "", "postgres", cfg.PGDSN != "", "kafka", len(cfg.KafkaBrokers) > 0)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}
