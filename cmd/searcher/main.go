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

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/trieindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/trieindex/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "data_dir", cfg.Index.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	live, err := openLive(ctx, cfg, searcher.WithMetrics(m))
	if err != nil {
		slog.Error("failed to open index", "error", err)
		os.Exit(1)
	}
	defer live.Close()
	slog.Info("index opened", "version", live.Version())

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, search caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		queryCache = cache.New(redisClient, cfg.Redis, cache.WithMetrics(m))
		slog.Info("search cache enabled",
			"addr", cfg.Redis.Addr,
			"ttl", cfg.Redis.CacheTTL,
		)
	}

	go watchVersions(ctx, cfg, live)

	checker := health.NewChecker()
	checker.Register("index", health.VersionCheck(live.Version))
	if redisClient != nil {
		checker.Register("redis", health.PingCheck(redisClient.Ping, true))
	} else {
		checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		})
	}

	h := handler.New(live, queryCache, cfg.Search.DefaultLimit, cfg.Search.MaxResults)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Trace(tracing.NewTracer(cfg.Tracing))(chain)
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}

// openLive waits for the first committed version to appear.
func openLive(ctx context.Context, cfg *config.Config, opts ...searcher.Option) (*searcher.Live, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		live, err := searcher.NewLive(cfg, opts...)
		if err == nil {
			return live, nil
		}
		if !errors.Is(err, apperrors.ErrNoCommittedVersion) {
			return nil, err
		}
		slog.Info("waiting for a committed index version", "data_dir", cfg.Index.DataDir)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// watchVersions reloads the searcher on every index-complete event and, as a
// fallback, on a fixed interval.
func watchVersions(ctx context.Context, cfg *config.Config, live *searcher.Live) {
	reload := func(reason string) {
		if _, err := live.Reload(); err != nil {
			slog.Error("searcher reload failed", "reason", reason, "error", err)
		}
	}

	kafkaCfg := cfg.Kafka
	kafkaCfg.ConsumerGroup = cfg.Kafka.ConsumerGroup + "-searcher"
	events := kafka.NewConsumer(kafkaCfg, cfg.Kafka.Topics.IndexComplete, func(ctx context.Context, msg kafka.Message) error {
		if msg.Type != "" && msg.Type != indexer.EventIndexComplete {
			return nil
		}
		event, err := kafka.DecodeJSON[indexer.IndexCompleteEvent](msg.Value)
		if err != nil {
			slog.Warn("dropping malformed index-complete event", "error", err)
			return nil
		}
		if event.Version > live.Version() {
			reload("index-complete")
		}
		return nil
	})
	go func() {
		if err := events.Start(ctx); err != nil {
			slog.Error("index-complete consumer error", "error", err)
		}
	}()

	interval := cfg.Index.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reload("poll")
		}
	}
}
