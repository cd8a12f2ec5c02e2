package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application-level settings.
type Config struct {
	// Server
	ServerAddr string
	Env        string // "development" or "production"

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Database
	DBDriver string // postgres | mysql | sqlite
	DBDSN    string

	// Billing
	Currency      string          // ISO currency code for topups and payouts
	FeePercent    decimal.Decimal // platform share of session earnings, e.g. 0.30
	MinTopup      decimal.Decimal
	MaxTopup      decimal.Decimal
	MinimumPayout decimal.Decimal // providers below this are skipped by payout runs

	// Sessions
	SessionFloorMinutes   int           // client must afford this many minutes to start
	CreatedSessionTimeout time.Duration // created sessions older than this are swept
	SweepInterval         time.Duration

	// Rate limits
	SessionStartLimit  int // session starts per client per window
	SessionStartWindow time.Duration
	TopupLimit         int // topup intents per client per window
	TopupWindow        time.Duration

	// Payout runs
	PayoutLockTTL time.Duration // redis lock held while a batch runs

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string

	// Admin Authentication
	AdminToken string // Bearer token for admin API access
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		ServerAddr:            envOr("SERVER_ADDR", ":8080"),
		Env:                   envOr("APP_ENV", "development"),
		RedisAddr:             envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:         envOr("REDIS_PASSWORD", ""),
		RedisDB:               envIntOr("REDIS_DB", 0),
		DBDriver:              envOr("DB_DRIVER", "postgres"),
		DBDSN:                 envOr("DB_DSN", "host=localhost user=postgres password=postgres dbname=lunaria port=5432 sslmode=disable"),
		Currency:              envOr("CURRENCY", "usd"),
		FeePercent:            envDecimalOr("FEE_PERCENT", "0.30"),
		MinTopup:              envDecimalOr("MIN_TOPUP", "5.00"),
		MaxTopup:              envDecimalOr("MAX_TOPUP", "500.00"),
		MinimumPayout:         envDecimalOr("MINIMUM_PAYOUT", "15.00"),
		SessionFloorMinutes:   envIntOr("SESSION_FLOOR_MINUTES", 2),
		CreatedSessionTimeout: envDurationOr("SESSION_CREATED_TIMEOUT", 2*time.Minute),
		SweepInterval:         envDurationOr("SESSION_SWEEP_INTERVAL", 30*time.Second),
		SessionStartLimit:     envIntOr("SESSION_START_LIMIT", 10),
		SessionStartWindow:    envDurationOr("SESSION_START_WINDOW", time.Minute),
		TopupLimit:            envIntOr("TOPUP_LIMIT", 20),
		TopupWindow:           envDurationOr("TOPUP_WINDOW", time.Hour),
		PayoutLockTTL:         envDurationOr("PAYOUT_LOCK_TTL", 10*time.Minute),
		StripeSecretKey:       envOr("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:   envOr("STRIPE_WEBHOOK_SECRET", ""),
		AdminToken:            envOr("ADMIN_TOKEN", ""),
	}
}

// IsProd reports whether the service runs with production settings.
func (c *Config) IsProd() bool {
	return c.Env == "production"
}

// ─── helpers ───

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envDecimalOr(key, fallback string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(fallback)
}
