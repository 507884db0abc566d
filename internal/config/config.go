package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RadiusStep says: once elapsed search time passes After, widen the pickup
// search to RadiusMeters.
type RadiusStep struct {
	After        time.Duration
	RadiusMeters float64
}

// PoolingConfig captures the matching policy knobs. Values are read once at
// startup and stay fixed for the process lifetime.
type PoolingConfig struct {
	TickInterval   time.Duration
	SearchTimeout  time.Duration
	BaseRadiusM    float64 // before the first step kicks in
	RadiusSteps    []RadiusStep
	MaxRadiusM     float64
	CandidateLimit int
	DetourCeiling  float64 // fractional, 0.10 = 10%
	MaxConcurrent  int     // evaluations in flight per tick
}

// ServerConfig captures all tunable parameters for the intake API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	LogLevel      string
	RunMigrations bool
}

// SchedulerConfig wraps the pooling policy with the scheduler daemon's
// infrastructure settings.
type SchedulerConfig struct {
	Pooling PoolingConfig

	MetricsAddr string

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	EvaluatorURL string // optional external scoring service

	LogLevel string
}

func defaultPoolingConfig() PoolingConfig {
	return PoolingConfig{
		TickInterval:  10 * time.Second,
		SearchTimeout: 90 * time.Second,
		BaseRadiusM:   100,
		RadiusSteps: []RadiusStep{
			{After: 15 * time.Second, RadiusMeters: 200},
			{After: 30 * time.Second, RadiusMeters: 400},
			{After: 45 * time.Second, RadiusMeters: 700},
			{After: 60 * time.Second, RadiusMeters: 1000},
			{After: 75 * time.Second, RadiusMeters: 1500},
		},
		MaxRadiusM:     1500,
		CandidateLimit: 10,
		DetourCeiling:  0.10,
		MaxConcurrent:  4,
	}
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "pool_pickups_geo",
		KafkaTopic:      "ride-pooling-events",
		LogLevel:        "info",
	}
}

func defaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Pooling:     defaultPoolingConfig(),
		MetricsAddr: ":2112",
		RedisGeoKey: "pool_pickups_geo",
		KafkaTopic:  "ride-pooling-events",
		LogLevel:    "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	return cfg, errors.Join(errs...)
}

func LoadSchedulerConfig() (SchedulerConfig, error) {
	cfg := defaultSchedulerConfig()
	var errs []error

	setDurationFromEnv(&cfg.Pooling.TickInterval, "TICK_INTERVAL", &errs)
	setDurationFromEnv(&cfg.Pooling.SearchTimeout, "SEARCH_TIMEOUT", &errs)
	setFloatFromEnv(&cfg.Pooling.BaseRadiusM, "BASE_RADIUS_M", &errs)
	setFloatFromEnv(&cfg.Pooling.MaxRadiusM, "MAX_RADIUS_M", &errs)
	setIntFromEnv(&cfg.Pooling.CandidateLimit, "CANDIDATE_LIMIT", &errs)
	setFloatFromEnv(&cfg.Pooling.DetourCeiling, "DETOUR_CEILING", &errs)
	setIntFromEnv(&cfg.Pooling.MaxConcurrent, "MAX_CONCURRENT_EVALUATIONS", &errs)

	if v := os.Getenv("RADIUS_STEPS"); v != "" {
		steps, err := ParseRadiusSteps(v)
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg.Pooling.RadiusSteps = steps
		}
	}

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	setStringFromEnv(&cfg.EvaluatorURL, "EVALUATOR_URL")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.Pooling.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("TICK_INTERVAL must be > 0"))
	}
	if cfg.Pooling.SearchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SEARCH_TIMEOUT must be > 0"))
	}
	if cfg.Pooling.CandidateLimit <= 0 {
		errs = append(errs, fmt.Errorf("CANDIDATE_LIMIT must be > 0"))
	}
	if cfg.Pooling.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_EVALUATIONS must be > 0"))
	}
	if cfg.Pooling.DetourCeiling < 0 {
		errs = append(errs, fmt.Errorf("DETOUR_CEILING must be >= 0"))
	}

	return cfg, errors.Join(errs...)
}

// ParseRadiusSteps parses "15s:200,30s:400,..." into an ordered step table.
// Thresholds may also be bare seconds ("15:200").
func ParseRadiusSteps(v string) ([]RadiusStep, error) {
	parts := splitAndTrim(v)
	if len(parts) == 0 {
		return nil, fmt.Errorf("RADIUS_STEPS is empty")
	}
	steps := make([]RadiusStep, 0, len(parts))
	for _, p := range parts {
		thr, rad, ok := strings.Cut(p, ":")
		if !ok {
			return nil, fmt.Errorf("invalid RADIUS_STEPS entry %q", p)
		}
		after, err := time.ParseDuration(thr)
		if err != nil {
			secs, serr := strconv.Atoi(thr)
			if serr != nil {
				return nil, fmt.Errorf("invalid RADIUS_STEPS threshold %q", thr)
			}
			after = time.Duration(secs) * time.Second
		}
		r, err := strconv.ParseFloat(rad, 64)
		if err != nil || r <= 0 {
			return nil, fmt.Errorf("invalid RADIUS_STEPS radius %q", rad)
		}
		steps = append(steps, RadiusStep{After: after, RadiusMeters: r})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].After < steps[j].After })
	for i := 1; i < len(steps); i++ {
		if steps[i].RadiusMeters < steps[i-1].RadiusMeters {
			return nil, fmt.Errorf("RADIUS_STEPS radii must be non-decreasing")
		}
	}
	return steps, nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
