package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-pooling/internal/config"
	"github.com/example/ride-pooling/internal/geo"
	httpapi "github.com/example/ride-pooling/internal/http"
	"github.com/example/ride-pooling/internal/logging"
	"github.com/example/ride-pooling/internal/notify"
	"github.com/example/ride-pooling/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var store storage.Store
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			runMigrations(cfg.PGDSN, logger)
		}
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer ps.Close()
		store = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	var index *geo.RedisIndex
	if cfg.RedisAddr != "" {
		index = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		defer index.Close()
	}

	var events *notify.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		events = notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer events.Close()
	}

	hub := notify.NewHub(logger)
	api := httpapi.NewServer(store, index, events, hub, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(cfg.KafkaBrokers) > 0 {
		go relayRiderEvents(ctx, cfg, hub, logger)
	} else {
		logger.Warn("KAFKA_BROKERS not set, rider websocket pushes disabled")
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("intake api listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("intake api stopped")
}

// relayRiderEvents consumes the lifecycle topic and pushes pool.timeout and
// pool.formed onto connected rider websockets. Each instance reads with its
// own group id so every instance sees every event; riders connected to
// another instance are simply absent from this hub.
func relayRiderEvents(ctx context.Context, cfg config.ServerConfig, hub *notify.Hub, logger *slog.Logger) {
	group := os.Getenv("KAFKA_PUSH_GROUP")
	if group == "" {
		group = "ride-pooling-rider-push-" + uuid.NewString()
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		GroupID: group,
		Dialer:  kafka.DefaultDialer,
	})
	defer r.Close()

	logger.Info("rider push relay listening", "topic", cfg.KafkaTopic, "group", group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		var evt notify.Event
		if err := json.Unmarshal(m.Value, &evt); err != nil {
			logger.Warn("invalid event", "error", err)
			continue
		}
		notify.Deliver(ctx, hub, evt)
	}
}

func runMigrations(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	path := filepath.Join("migrations", "001_create_pooling.sql")
	b, err := os.ReadFile(path)
	if err != nil {
		logger.Error("migration read error", "path", path, "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
		return
	}
	logger.Info("migration applied", "path", path)
}
