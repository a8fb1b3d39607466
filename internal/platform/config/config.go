package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures service level configuration.
type Server struct {
	Addr        string
	Environment string

	PostgresURL  string
	RedisURL     string
	KafkaBrokers string
	AuditTopic   string

	// RecordReadTimeout bounds the single customer-store read performed
	// during data retrieval. Timeouts surface as retryable unavailable
	// errors, never as released data.
	RecordReadTimeout time.Duration

	// SingleUseConsents switches the access gate to consume-on-read:
	// a consent backs exactly one successful retrieval.
	SingleUseConsents bool

	// IdempotencyTTL is the retention window for consent-creation
	// idempotency keys.
	IdempotencyTTL time.Duration

	// SeedSampleData loads the demo customer records at startup.
	SeedSampleData bool
}

const (
	defaultAddr              = ":3001"
	defaultRecordReadTimeout = 5 * time.Second
	defaultIdempotencyTTL    = 24 * time.Hour
)

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:              defaultAddr,
		Environment:       "development",
		AuditTopic:        "datashare.audit",
		RecordReadTimeout: defaultRecordReadTimeout,
		IdempotencyTTL:    defaultIdempotencyTTL,
	}

	if addr := os.Getenv("DATASHARE_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if env := os.Getenv("DATASHARE_ENV"); env != "" {
		cfg.Environment = env
	}
	cfg.PostgresURL = os.Getenv("DATASHARE_POSTGRES_URL")
	cfg.RedisURL = os.Getenv("DATASHARE_REDIS_URL")
	cfg.KafkaBrokers = os.Getenv("DATASHARE_KAFKA_BROKERS")
	if topic := os.Getenv("DATASHARE_AUDIT_TOPIC"); topic != "" {
		cfg.AuditTopic = topic
	}
	if v := os.Getenv("DATASHARE_RECORD_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RecordReadTimeout = d
		}
	}
	if v := os.Getenv("DATASHARE_SINGLE_USE_CONSENTS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SingleUseConsents = b
		}
	}
	if v := os.Getenv("DATASHARE_IDEMPOTENCY_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.IdempotencyTTL = d
		}
	}
	cfg.SeedSampleData = os.Getenv("DATASHARE_SEED_SAMPLE_DATA") == "true"

	return cfg
}
