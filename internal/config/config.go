// Package config loads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/convertcredits/backend/internal/repository"
)

const minSecretLen = 16

type Config struct {
	DatabaseURL string
	Port        string
	LogLevel    slog.Level

	// Optional infrastructure. Empty disables the Redis fast paths and the NATS bus.
	RedisAddr string
	NatsURL   string

	JWTSecret   string
	TokenTTL    time.Duration
	CORSOrigins []string

	ConverterURL string
	PolicyFile   string

	LockTimeout time.Duration
	TxTimeout   time.Duration

	AutoRefund       bool
	RefundWindow     time.Duration
	AutoRefundWindow time.Duration

	SweepInterval time.Duration
	SweepGrace    time.Duration
	SweepBatch    int

	AdjustmentApprovalThreshold int64

	RateLimitPerMinute int
	RateLimitBurst     int

	MercadoPagoWebhookSecret string
	MercadoPagoAccessToken   string
	MercadoPagoAPIURL        string
	StripeWebhookSecret      string
}

// New loads and validates configuration from environment variables.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnvLevel("LOG_LEVEL", slog.LevelInfo),

		RedisAddr: os.Getenv("REDIS_ADDR"),
		NatsURL:   os.Getenv("NATS_URL"),

		JWTSecret:   os.Getenv("JWT_SECRET"),
		TokenTTL:    getEnvDuration("JWT_TTL", 24*time.Hour),
		CORSOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		ConverterURL: getEnv("CONVERTER_URL", "http://localhost:9000"),
		PolicyFile:   os.Getenv("POLICY_FILE"),

		LockTimeout: getEnvDuration("DB_LOCK_TIMEOUT", 5*time.Second),
		TxTimeout:   getEnvDuration("DB_TX_TIMEOUT", 10*time.Second),

		AutoRefund:       getEnvBool("AUTO_REFUND_ENABLED", true),
		RefundWindow:     time.Duration(getEnvInt("REFUND_WINDOW_DAYS", 30)) * 24 * time.Hour,
		AutoRefundWindow: getEnvDuration("AUTO_REFUND_WINDOW", 24*time.Hour),

		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 2*time.Minute),
		SweepGrace:    getEnvDuration("SWEEP_GRACE", 5*time.Minute),
		SweepBatch:    getEnvInt("SWEEP_BATCH", 100),

		AdjustmentApprovalThreshold: int64(getEnvInt("ADJUSTMENT_APPROVAL_THRESHOLD", 100)),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 10),

		MercadoPagoWebhookSecret: os.Getenv("MERCADOPAGO_WEBHOOK_SECRET"),
		MercadoPagoAccessToken:   os.Getenv("MERCADOPAGO_ACCESS_TOKEN"),
		MercadoPagoAPIURL:        os.Getenv("MERCADOPAGO_API_URL"),
		StripeWebhookSecret:      os.Getenv("STRIPE_WEBHOOK_SECRET"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("missing required env: DATABASE_URL"))
	}
	if len(c.JWTSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters", minSecretLen))
	}
	if c.SweepBatch <= 0 {
		errs = append(errs, errors.New("SWEEP_BATCH must be positive"))
	}
	if c.SweepInterval <= 0 || c.SweepGrace <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL and SWEEP_GRACE must be positive"))
	}
	if c.AdjustmentApprovalThreshold <= 0 {
		errs = append(errs, errors.New("ADJUSTMENT_APPROVAL_THRESHOLD must be positive"))
	}
	if c.RefundWindow < c.AutoRefundWindow {
		errs = append(errs, errors.New("REFUND_WINDOW_DAYS must cover AUTO_REFUND_WINDOW"))
	}
	return errors.Join(errs...)
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// Tx bounds every unit of work.
func (c *Config) Tx() repository.TxOptions {
	return repository.TxOptions{LockTimeout: c.LockTimeout, Timeout: c.TxTimeout}
}

// WebhooksEnabled reports which providers have a signing secret configured.
func (c *Config) WebhooksEnabled() (mercadoPago, stripe bool) {
	return c.MercadoPagoWebhookSecret != "", c.StripeWebhookSecret != ""
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvLevel(key string, defaultVal slog.Level) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(os.Getenv(key))); err != nil {
		return defaultVal
	}
	return l
}
