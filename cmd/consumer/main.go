package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/washer-matching/internal/config"
	"github.com/example/washer-matching/internal/geo"
	"github.com/example/washer-matching/internal/logging"
	"github.com/example/washer-matching/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total washer location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid or unroutable messages received",
	})
	poolUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_pool_updates_total",
		Help: "Total successful washer pool updates",
	})
	poolErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_pool_errors_total",
		Help: "Total washer pool update failures after retries",
	})
)

var (
	errInvalidMessage = errors.New("invalid location message")
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, poolUpdates, poolErrors)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}
	cfg, err := config.LoadConsumerConfig()
	logger := logging.NewLoggerTo(os.Stdout, cfg.LogLevel, "consumer")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// allow overriding the metrics address for local runs
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve prometheus metrics on")
	flag.Parse()

	pool := geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := pool.Client().Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = pool.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff.String())
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		u, err := decodeLocation(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}
		switch err := applyWithRetry(ctx, pool, u, cfg.RetryAttempts, cfg.RetryDelay); {
		case err == nil:
			poolUpdates.Inc()
		case errors.Is(err, geo.ErrUnknownWasher):
			msgsInvalid.Inc()
			logger.Warn("location for unknown washer dropped", "washer_id", u.WasherID)
		default:
			poolErrors.Inc()
			logger.Error("pool update failed", "washer_id", u.WasherID, "error", err)
		}
	}
}

func decodeLocation(b []byte) (models.LocationUpdate, error) {
	var u models.LocationUpdate
	if err := json.Unmarshal(b, &u); err != nil {
		return u, fmt.Errorf("%w: %v", errInvalidMessage, err)
	}
	if u.WasherID == "" {
		return u, fmt.Errorf("%w: missing washer_id", errInvalidMessage)
	}
	if u.Point == nil && u.Available == nil {
		return u, fmt.Errorf("%w: nothing to apply", errInvalidMessage)
	}
	if u.Point != nil {
		if err := u.Point.Validate(); err != nil {
			return u, fmt.Errorf("%w: %v", errInvalidMessage, err)
		}
	}
	return u, nil
}

// applyWithRetry applies u to the pooled washer, retrying pool errors with backoff.
func applyWithRetry(ctx context.Context, pool geo.Pool, u models.LocationUpdate, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = pool.UpdateLocation(ctx, u); err == nil || errors.Is(err, geo.ErrUnknownWasher) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
