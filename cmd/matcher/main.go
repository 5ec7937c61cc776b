// Command matcher serves article matching over HTTP.
//
// It holds the full shingle index in memory. At start-up the index is rebuilt
// by replaying the PostgreSQL archive; afterwards new articles arrive from the
// Kafka ingest topic or through POST /api/v1/articles. Match results are
// cached in Redis when it is enabled.
//
// Usage:
//
//	go run ./cmd/matcher [-config configs/development.yaml]
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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/archive"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/articlematch/pkg/redis"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("matcher stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("matcher stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting matcher",
		"port", cfg.Server.Port,
		"shingle_width", cfg.Matcher.ShingleWidth,
		"hashed", cfg.Matcher.HashShingles,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Port, reg)
		go func() {
			if err := metrics.Serve(ctx, srv); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	engine, err := indexer.NewEngine(cfg.Matcher, m)
	if err != nil {
		return err
	}
	checker := health.NewChecker()
	checker.Register("index", health.Ping(engine, false))

	var store *archive.Store
	if cfg.Postgres.Enabled() {
		store, err = connectArchive(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer store.Close()
		checker.Register("archive", health.Ping(store, true))
		if cfg.Matcher.ReplayOnStart {
			if _, err := engine.Replay(ctx, store); err != nil {
				return fmt.Errorf("rebuilding index: %w", err)
			}
		}
	} else {
		slog.Warn("archive disabled: index starts empty and verification is unavailable")
	}

	matchCache := connectCache(ctx, cfg, m, checker)

	deps := handler.Deps{
		Engine:        engine,
		Cache:         matchCache,
		Metrics:       m,
		MaxTextBytes:  cfg.Matcher.MaxTextBytes,
		MaxBatchBytes: cfg.Matcher.MaxBatchBytes,
	}
	if store != nil {
		deps.Executor = executor.New(engine, store, cfg.Matcher.TopK, cfg.Matcher.VerifyTimeout)
		deps.Archive = store
	} else {
		deps.Executor = executor.New(engine, nil, cfg.Matcher.TopK, cfg.Matcher.VerifyTimeout)
	}
	h := handler.New(deps)

	var chain http.Handler = h.Routes(checker)
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

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Kafka.Enabled() {
		var invalidator consumer.Invalidator
		if matchCache != nil {
			invalidator = matchCache
		}
		kc := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ArticleIngest, consumer.HandleMessage(engine, invalidator))
		checker.Register("ingest-stream", health.Ping(kc, true))
		ic := consumer.New(kc)
		g.Go(func() error { return ic.Start(gctx) })
		slog.Info("consuming article stream", "topic", cfg.Kafka.Topics.ArticleIngest)
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		checker.Drain()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		slog.Info("matcher listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return g.Wait()
}

// connectArchive opens the archive database, retrying while it comes up.
func connectArchive(ctx context.Context, cfg config.PostgresConfig) (*archive.Store, error) {
	var client *postgres.Client
	err := resilience.Retry(ctx, "postgres-connect", resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
	}, func() error {
		var err error
		client, err = postgres.New(ctx, cfg)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to archive: %w", err)
	}
	store := archive.NewStore(client)
	if err := store.EnsureSchema(ctx); err != nil {
		client.Close()
		return nil, err
	}
	slog.Info("archive connected", "host", cfg.Host, "database", cfg.Database)
	return store, nil
}

// connectCache returns nil when Redis is disabled or unreachable; matching
// works without it.
func connectCache(ctx context.Context, cfg *config.Config, m *metrics.Metrics, checker *health.Checker) *cache.MatchCache {
	if !cfg.Redis.Enabled {
		return nil
	}
	client, err := pkgredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, match caching disabled", "error", err)
		return nil
	}
	context.AfterFunc(ctx, func() { client.Close() })
	checker.Register("redis", health.Ping(client, true))
	breaker := resilience.NewCircuitBreaker("redis", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     15 * time.Second,
		OnStateChange: func(name string, s resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(s))
		},
	})
	slog.Info("match cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	return cache.New(client, cache.Options{
		TTL:          cfg.Redis.CacheTTL,
		ShingleWidth: cfg.Matcher.ShingleWidth,
		Hashed:       cfg.Matcher.HashShingles,
		IsMiss:       pkgredis.IsNilError,
		Breaker:      breaker,
		Metrics:      m,
	})
}
