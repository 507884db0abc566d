package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-pooling/internal/config"
	"github.com/example/ride-pooling/internal/geo"
	"github.com/example/ride-pooling/internal/logging"
	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/notify"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total pooling lifecycle events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid events received",
	})
	indexUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_index_updates_total",
		Help: "Total successful geo index updates",
	})
	indexErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_index_errors_total",
		Help: "Total geo index errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, indexUpdates, indexErrors)
}

// The consumer keeps the Redis pickup geo index in step with the lifecycle
// topic, so scheduler instances can prefilter candidates spatially without
// hitting Postgres for every seed.
func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2113", "address to serve prometheus metrics on")
	flag.Parse()

	cfg, err := config.LoadSchedulerConfig()
	if err != nil {
		logging.NewLogger("error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	brokers := cfg.KafkaBrokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "ride-pooling-index"
	}
	redisAddr := cfg.RedisAddr
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	rc := redis.NewClient(&redis.Options{Addr: redisAddr, Password: cfg.RedisPassword})
	index := geo.NewRedisIndexFromClient(rc, cfg.RedisGeoKey)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: cfg.KafkaTopic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", brokers, "group", group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
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

		msgsConsumed.Inc()

		var evt notify.Event
		if err := json.Unmarshal(m.Value, &evt); err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid event", "error", err)
			continue
		}

		if err := applyEventWithRetry(ctx, index, evt, 3, 200*time.Millisecond); err != nil {
			indexErrors.Inc()
			logger.Warn("geo index update failed", "type", evt.Type, "request_id", evt.RequestID, "error", err)
			continue
		}
		indexUpdates.Inc()
	}
}

// PickupIndexer is the subset of geo index operations the consumer needs,
// kept small for tests.
type PickupIndexer interface {
	Add(ctx context.Context, requestID string, pickup models.Coord) error
	Remove(ctx context.Context, requestID string) error
}

// applyEvent maps one lifecycle event onto the geo index. Unknown event
// types are ignored so the topic can grow without breaking old consumers.
func applyEvent(ctx context.Context, idx PickupIndexer, evt notify.Event) error {
	switch evt.Type {
	case notify.EventRequestCreated:
		if evt.RequestID == "" || evt.Pickup == nil {
			return fmt.Errorf("request.created missing id or pickup")
		}
		return idx.Add(ctx, evt.RequestID, *evt.Pickup)
	case notify.EventRequestCancelled, notify.EventPoolTimeout:
		if evt.RequestID == "" {
			return fmt.Errorf("%s missing request id", evt.Type)
		}
		return idx.Remove(ctx, evt.RequestID)
	case notify.EventPoolFormed:
		for _, id := range evt.RequestIDs {
			if err := idx.Remove(ctx, id); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

// applyEventWithRetry retries transient index failures with exponential
// backoff before giving up on the event.
func applyEventWithRetry(ctx context.Context, idx PickupIndexer, evt notify.Event, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = applyEvent(ctx, idx, evt); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		time.Sleep(delay)
		delay *= 2
	}
	return err
}
