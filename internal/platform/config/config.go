package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process level configuration.
type Server struct {
	Addr     string
	LogLevel string
	// LogFormat is "json" or "text".
	LogFormat string
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Lifecycle LifecycleConfig
	Alerting  AlertingConfig
	Notify    NotifyConfig
}

// DatabaseConfig selects the PostgreSQL engine. An empty URL selects the
// in-memory engine.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	TxTimeout       time.Duration
}

// RedisConfig configures alert deduplication. An empty URL selects the
// in-memory deduper.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the notification sink. No brokers selects the log sink.
type KafkaConfig struct {
	Brokers     []string
	NotifyTopic string
	ClientID    string
	Partitions  int32
	Replication int16
}

// LifecycleConfig holds business limits applied by the core.
type LifecycleConfig struct {
	PermanenceLimit       time.Duration
	EmergencyReasonMinLen int
	// MaxEntryRejections caps the reject/correct cycle; zero is unbounded.
	MaxEntryRejections int
}

// AlertingConfig drives the background scans.
type AlertingConfig struct {
	Schedule     string
	ClearanceSLA time.Duration
	DedupeWindow time.Duration
}

type NotifyConfig struct {
	Buffer      int
	SendTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	var errs []string
	duration := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	integer := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	cfg := Server{
		Addr:      envString("MORTUARY_ADDR", ":8080"),
		LogLevel:  envString("LOG_LEVEL", "info"),
		LogFormat: envString("LOG_FORMAT", "json"),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    integer("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    integer("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: duration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			TxTimeout:       duration("TX_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:     envList("KAFKA_BROKERS"),
			NotifyTopic: envString("KAFKA_NOTIFY_TOPIC", "mortuary.notifications"),
			ClientID:    envString("KAFKA_CLIENT_ID", "mortuary"),
			Partitions:  int32(integer("KAFKA_NOTIFY_PARTITIONS", 3)),
			Replication: int16(integer("KAFKA_NOTIFY_REPLICATION", 1)),
		},
		Lifecycle: LifecycleConfig{
			PermanenceLimit:       duration("PERMANENCE_LIMIT", 48*time.Hour),
			EmergencyReasonMinLen: integer("EMERGENCY_REASON_MIN_LEN", 20),
			MaxEntryRejections:    integer("MAX_ENTRY_REJECTIONS", 0),
		},
		Alerting: AlertingConfig{
			Schedule:     envString("ALERT_SCHEDULE", "@every 5m"),
			ClearanceSLA: duration("CLEARANCE_SLA", 24*time.Hour),
			DedupeWindow: duration("ALERT_DEDUPE_WINDOW", 6*time.Hour),
		},
		Notify: NotifyConfig{
			Buffer:      integer("NOTIFY_BUFFER", 256),
			SendTimeout: duration("NOTIFY_SEND_TIMEOUT", 5*time.Second),
		},
	}
	if len(errs) > 0 {
		return Server{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}
