package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	input := flag.String("input", "", "index a JSON lines file in one transaction and exit (- for stdin)")
	gc := flag.Bool("gc", false, "remove files of abandoned versions and exit")
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
	if err := os.MkdirAll(cfg.Index.DataDir, 0755); err != nil {
		slog.Error("failed to create index directory", "dir", cfg.Index.DataDir, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	analyzer := tokenizer.FromConfig(cfg.Index)

	switch {
	case *gc:
		removed, err := indexer.CollectGarbage(cfg.Index.DataDir)
		if err != nil {
			slog.Error("garbage collection failed", "error", err)
			os.Exit(1)
		}
		slog.Info("garbage collection finished", "removed", len(removed))
		return
	case *input != "":
		if err := indexFile(ctx, cfg, analyzer, *input); err != nil {
			slog.Error("indexing failed", "input", *input, "error", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("starting indexer service", "data_dir", cfg.Index.DataDir, "workers", cfg.Index.BuilderWorkers)

	checker := health.NewChecker()
	checker.Register("index_dir", dirCheck(cfg.Index.DataDir))

	opts := []consumer.Option{}

	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, segment registry disabled", "error", err)
	} else {
		defer db.Close()
		schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := db.EnsureSchema(schemaCtx)
		cancel()
		if err != nil {
			slog.Warn("segment registry schema setup failed, registry disabled", "error", err)
		} else {
			opts = append(opts, consumer.WithRecorder(db))
			checker.Register("postgres", health.PingCheck(db.Ping, true))
		}
	}

	if cfg.Metrics.Enabled {
		m := metrics.New()
		opts = append(opts, consumer.WithMetrics(m))
		shutdown := metrics.StartServer(cfg.Metrics.Port,
			metrics.Route{Pattern: "GET /health/live", Handler: checker.LiveHandler()},
			metrics.Route{Pattern: "GET /health/ready", Handler: checker.ReadyHandler()},
		)
		defer shutdown(context.Background())
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
	defer producer.Close()
	opts = append(opts, consumer.WithPublisher(producer))

	kafkaConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest, nil)

	indexConsumer := consumer.New(cfg.Index, analyzer, opts...)

	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.DocumentIngest,
		"group", cfg.Kafka.ConsumerGroup,
	)

	if err := indexConsumer.Start(ctx, kafkaConsumer); err != nil && ctx.Err() == nil {
		slog.Error("consumer error", "error", err)
		os.Exit(1)
	}

	slog.Info("indexer service stopped")
}

func indexFile(ctx context.Context, cfg *config.Config, analyzer *tokenizer.Analyzer, path string) error {
	in := os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	start := time.Now()
	version, err := indexer.Upsert(ctx, cfg.Index, analyzer, indexer.ReadJSONLines(in))
	if err != nil {
		return err
	}
	slog.Info("index version committed",
		"version", version,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// dirCheck reports down when the index directory cannot be listed.
func dirCheck(dir string) health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		if _, err := os.ReadDir(dir); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	}
}
