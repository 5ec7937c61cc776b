// Command ingestion accepts articles over HTTP, archives them in PostgreSQL
// and publishes them to the Kafka ingest topic that every matcher consumes.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/archive"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingestion service", "port", cfg.Server.Port)

	if !cfg.Postgres.Enabled() && !cfg.Kafka.Enabled() {
		slog.Error("ingestion needs an archive, an ingest stream, or both")
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Port, reg)
		go func() {
			if err := metrics.Serve(ctx, srv); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	checker := health.NewChecker()
	var arc publisher.Archive
	if cfg.Postgres.Enabled() {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store := archive.NewStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare archive schema", "error", err)
			os.Exit(1)
		}
		checker.Register("archive", health.Ping(store, false))
		arc = store
		slog.Info("connected to archive")
	}

	var events publisher.EventPublisher
	var breaker *resilience.CircuitBreaker
	if cfg.Kafka.Enabled() {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ArticleIngest)
		defer producer.Close()
		events = producer
		breaker = resilience.NewCircuitBreaker("kafka-producer", resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     10 * time.Second,
			OnStateChange: func(name string, s resilience.State) {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(s))
			},
		})
		checker.Register("ingest-stream", health.Ping(breaker, arc != nil))
		slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.ArticleIngest)
	}

	h := handler.New(publisher.New(arc, events, breaker), cfg.Matcher.MaxTextBytes)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/articles", h.Ingest)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if cfg.Server.RateLimit > 0 {
		limiter := ratelimit.New(cfg.Server.RateLimit, time.Minute)
		go limiter.Run(ctx, 5*time.Minute)
		chain = middleware.RateLimit(limiter, 60, cfg.Server.TrustedProxyPrefixes())(chain)
	}
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		checker.Drain()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
