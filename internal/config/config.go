package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/akylbek/intl-payments/internal/money"
	"github.com/akylbek/intl-payments/internal/validation"
)

type Config struct {
	DatabaseURL  string
	RedisURL     string
	KafkaBrokers []string
	NatsURL      string
	Port         string

	FeeBasisPoints      int64
	MaxAmount           decimal.Decimal
	SupportedCurrencies []string
	AccountMinDigits    int
	AccountMaxDigits    int
	MaxReferenceLength  int

	VelocityLimit  int64
	VelocityWindow time.Duration
	IdempotencyTTL time.Duration

	RelayInterval   time.Duration
	RelayBatch      int
	SettlementTopic string
	StatusSubject   string

	ShutdownTimeout time.Duration
}

const (
	defaultPort            = "8081"
	defaultNatsURL         = "nats://localhost:4222"
	defaultFeeBasisPoints  = 200
	defaultMaxAmount       = "50000"
	defaultVelocityLimit   = 20
	defaultVelocityWindow  = time.Hour
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultRelayInterval   = time.Second
	defaultRelayBatch      = 100
	defaultSettlementTopic = "payment.pending"
	defaultStatusSubject   = "settlement.status"
	defaultShutdownTimeout = 5 * time.Second
)

// Load reads configuration from environment variables, applying defaults.
// Malformed values are errors rather than silently replaced.
func Load() (*Config, error) {
	rules := validation.DefaultRules()

	cfg := &Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		KafkaBrokers:        splitList(os.Getenv("KAFKA_BROKERS")),
		NatsURL:             valueOrDefault("NATS_URL", defaultNatsURL),
		Port:                valueOrDefault("PORT", defaultPort),
		SupportedCurrencies: money.DefaultCurrencies,
		SettlementTopic:     valueOrDefault("SETTLEMENT_TOPIC", defaultSettlementTopic),
		StatusSubject:       valueOrDefault("STATUS_SUBJECT", defaultStatusSubject),
	}

	if v := os.Getenv("SUPPORTED_CURRENCIES"); v != "" {
		cfg.SupportedCurrencies = splitList(strings.ToUpper(v))
	}

	maxAmount, err := decimal.NewFromString(valueOrDefault("MAX_AMOUNT", defaultMaxAmount))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_AMOUNT: %w", err)
	}
	cfg.MaxAmount = maxAmount

	ints := []struct {
		key      string
		fallback int
		dst      *int
	}{
		{"ACCOUNT_MIN_DIGITS", rules.AccountMinDigits, &cfg.AccountMinDigits},
		{"ACCOUNT_MAX_DIGITS", rules.AccountMaxDigits, &cfg.AccountMaxDigits},
		{"REFERENCE_MAX_LENGTH", rules.MaxReferenceLength, &cfg.MaxReferenceLength},
		{"RELAY_BATCH_SIZE", defaultRelayBatch, &cfg.RelayBatch},
	}
	for _, f := range ints {
		if *f.dst, err = parseInt(f.key, f.fallback); err != nil {
			return nil, err
		}
	}

	if cfg.FeeBasisPoints, err = parseInt64("FEE_BASIS_POINTS", defaultFeeBasisPoints); err != nil {
		return nil, err
	}
	if cfg.VelocityLimit, err = parseInt64("VELOCITY_LIMIT", defaultVelocityLimit); err != nil {
		return nil, err
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"VELOCITY_WINDOW", defaultVelocityWindow, &cfg.VelocityWindow},
		{"IDEMPOTENCY_TTL", defaultIdempotencyTTL, &cfg.IdempotencyTTL},
		{"RELAY_INTERVAL", defaultRelayInterval, &cfg.RelayInterval},
		{"SHUTDOWN_TIMEOUT", defaultShutdownTimeout, &cfg.ShutdownTimeout},
	}
	for _, f := range durations {
		if *f.dst, err = parseDuration(f.key, f.fallback); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// ValidationRules returns the input rules for validation.NewValidator.
func (c *Config) ValidationRules() validation.Rules {
	return validation.Rules{
		MaxAmount:          c.MaxAmount,
		Currencies:         c.SupportedCurrencies,
		AccountMinDigits:   c.AccountMinDigits,
		AccountMaxDigits:   c.AccountMaxDigits,
		MaxReferenceLength: c.MaxReferenceLength,
	}
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		return n, nil
	}
	return fallback, nil
}

func parseInt64(key string, fallback int64) (int64, error) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		return n, nil
	}
	return fallback, nil
}

func parseDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}
