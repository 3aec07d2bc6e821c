package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// KafkaConfig holds transport connection settings.
type KafkaConfig struct {
	Brokers    []string
	GroupID    string
	Workers    int
	RetryDelay time.Duration
}

// StoreConfig selects the saga store backend. When both are empty the
// orchestrator runs on the in-memory store.
type StoreConfig struct {
	PostgresDSN string
	SQLitePath  string
}

// DeadLetterConfig holds the Redis dead-letter stream settings. An empty URL
// selects the in-memory sink.
type DeadLetterConfig struct {
	RedisURL string
	Stream   string
	MaxLen   int64
}

// OutboxConfig paces the outbox publisher.
type OutboxConfig struct {
	Interval         time.Duration
	BatchSize        int
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	BreakerMaxFails  int
	BreakerReset     time.Duration
}

// DispatcherConfig holds event-application settings.
type DispatcherConfig struct {
	MaxConflictRetries int
	StoreRetryAttempts int
	StoreRetryDelay    time.Duration
}

// ObservabilityConfig holds the HTTP address for metrics and the live feed.
type ObservabilityConfig struct {
	Addr string
}

// HealthConfig holds the gRPC health server address.
type HealthConfig struct {
	Addr string
}

// LoadKafka reads transport settings from env.
func LoadKafka() (KafkaConfig, error) {
	brokers, err := requiredString("KAFKA_BROKERS")
	if err != nil {
		return KafkaConfig{}, err
	}
	cfg := KafkaConfig{
		GroupID: stringOr("KAFKA_GROUP_ID", "saga-orchestrator"),
	}
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			cfg.Brokers = append(cfg.Brokers, broker)
		}
	}
	if cfg.Workers, err = intOr("KAFKA_WORKERS", 4); err != nil {
		return cfg, err
	}
	if cfg.RetryDelay, err = durationOr("KAFKA_RETRY_DELAY", time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadStore reads store selection from env.
func LoadStore() StoreConfig {
	return StoreConfig{
		PostgresDSN: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:  strings.TrimSpace(os.Getenv("SQLITE_PATH")),
	}
}

// LoadDeadLetter reads dead-letter sink settings from env.
func LoadDeadLetter() (DeadLetterConfig, error) {
	cfg := DeadLetterConfig{
		RedisURL: strings.TrimSpace(os.Getenv("REDIS_URL")),
		Stream:   stringOr("DLQ_STREAM", "saga_dead_letters"),
	}
	var err error
	if cfg.MaxLen, err = int64Or("DLQ_STREAM_MAXLEN", 10000); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadOutbox reads outbox publisher settings from env.
func LoadOutbox() (OutboxConfig, error) {
	cfg := OutboxConfig{}
	var err error
	if cfg.Interval, err = durationOr("OUTBOX_INTERVAL", time.Second); err != nil {
		return cfg, err
	}
	if cfg.BatchSize, err = intOr("OUTBOX_BATCH_SIZE", 100); err != nil {
		return cfg, err
	}
	if cfg.RetryMaxAttempts, err = intOr("OUTBOX_RETRY_MAX_ATTEMPTS", 3); err != nil {
		return cfg, err
	}
	if cfg.RetryBaseDelay, err = durationOr("OUTBOX_RETRY_BASE_DELAY", 100*time.Millisecond); err != nil {
		return cfg, err
	}
	if cfg.RetryMaxDelay, err = durationOr("OUTBOX_RETRY_MAX_DELAY", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.BreakerMaxFails, err = intOr("OUTBOX_BREAKER_MAX_FAILURES", 5); err != nil {
		return cfg, err
	}
	if cfg.BreakerReset, err = durationOr("OUTBOX_BREAKER_RESET_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDispatcher reads dispatcher settings from env.
func LoadDispatcher() (DispatcherConfig, error) {
	cfg := DispatcherConfig{}
	var err error
	if cfg.MaxConflictRetries, err = intOr("SAGA_CONFLICT_RETRIES", 3); err != nil {
		return cfg, err
	}
	if cfg.StoreRetryAttempts, err = intOr("SAGA_STORE_RETRY_ATTEMPTS", 3); err != nil {
		return cfg, err
	}
	if cfg.StoreRetryDelay, err = durationOr("SAGA_STORE_RETRY_DELAY", 50*time.Millisecond); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadObservability reads the metrics HTTP address from env.
func LoadObservability() ObservabilityConfig {
	return ObservabilityConfig{Addr: stringOr("OBS_ADDR", ":8081")}
}

// LoadHealth reads the gRPC health address from env.
func LoadHealth() HealthConfig {
	return HealthConfig{Addr: stringOr("HEALTH_ADDR", ":50051")}
}

func requiredString(name string) (string, error) {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return val, nil
}

func stringOr(name, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		return val
	}
	return fallback
}

func intOr(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func int64Or(name string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func durationOr(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}
