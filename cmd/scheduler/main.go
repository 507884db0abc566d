package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-pooling/internal/config"
	"github.com/example/ride-pooling/internal/geo"
	"github.com/example/ride-pooling/internal/logging"
	"github.com/example/ride-pooling/internal/notify"
	"github.com/example/ride-pooling/internal/pooling"
	"github.com/example/ride-pooling/internal/storage"
)

func main() {
	cfg, err := config.LoadSchedulerConfig()
	if err != nil {
		logging.NewLogger("error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var store storage.Store
	var pg *storage.PostgresStore
	if cfg.PGDSN != "" {
		pg, err = storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		store = pg
	} else {
		logger.Warn("PG_DSN not set, using in-memory store (single-instance demo only)")
		store = storage.NewMemoryStore()
	}

	var index *geo.RedisIndex
	if cfg.RedisAddr != "" {
		index = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		defer index.Close()
	}

	var notifier pooling.Notifier
	if len(cfg.KafkaBrokers) > 0 {
		events := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer events.Close()
		notifier = events
	} else {
		notifier = &notify.LogNotifier{Logger: logger}
	}

	finder := &pooling.Finder{
		Store:  store,
		Index:  index,
		Limit:  cfg.Pooling.CandidateLimit,
		Logger: logging.ForComponent(logger, "finder"),
	}
	local := &pooling.DetourEvaluator{DetourCeiling: cfg.Pooling.DetourCeiling}
	var evaluator pooling.Evaluator = local
	if cfg.EvaluatorURL != "" {
		evaluator = pooling.NewRemoteEvaluator(cfg.EvaluatorURL, local, logging.ForComponent(logger, "evaluator"))
	}
	finalizer := pooling.NewFinalizer(store, logging.ForComponent(logger, "finalizer"))

	sched := &pooling.Scheduler{
		Store:         store,
		Finder:        finder,
		Evaluator:     evaluator,
		Finalizer:     finalizer,
		Notifier:      notifier,
		Policy:        pooling.NewRadiusPolicy(cfg.Pooling),
		Interval:      cfg.Pooling.TickInterval,
		MaxConcurrent: cfg.Pooling.MaxConcurrent,
		Logger:        logging.ForComponent(logger, "scheduler"),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go serveMetrics(ctx, cfg.MetricsAddr, pg, logger)

	logger.Info("pooling scheduler started",
		"tick_interval", cfg.Pooling.TickInterval,
		"search_timeout", cfg.Pooling.SearchTimeout,
		"candidate_limit", cfg.Pooling.CandidateLimit)
	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("pooling scheduler stopped")
}

func serveMetrics(ctx context.Context, addr string, pg *storage.PostgresStore, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if pg != nil {
			if err := pg.Ping(r.Context()); err != nil {
				http.Error(w, "store not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(200)
		w.Write([]byte("ready"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	logger.Info("metrics/health listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server stopped", "error", err)
	}
}
