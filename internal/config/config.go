package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Logger LoggerConfig

	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	Sweep     SweepConfig
}

type LoggerConfig struct {
	Level string
}

// GatewayConfig configures the external payment gateway collaborator.
type GatewayConfig struct {
	Provider      string
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RetryPaymentRate  float64
	RetryPaymentBurst int
	WebhookRate       float64
	WebhookBurst      int
	SweepLockTTLSecs  int
}

// SweepConfig controls the membership housekeeping sweep.
type SweepConfig struct {
	Enabled          bool
	IntervalSeconds  int
	PendingMaxAgeHrs int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "homecare"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: environment,
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "homecare"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Logger: LoggerConfig{
			Level: getenv("LOG_LEVEL", "info"),
		},

		Gateway: GatewayConfig{
			Provider:      strings.ToLower(getenv("PAYMENT_PROVIDER", "stripe")),
			APIKey:        strings.TrimSpace(getenv("PAYMENT_API_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("PAYMENT_WEBHOOK_SECRET", "")),
			SuccessURL:    getenv("PAYMENT_SUCCESS_URL", "http://localhost:3000/membership/payment-success"),
			CancelURL:     getenv("PAYMENT_CANCEL_URL", "http://localhost:3000/membership/payment-cancelled"),
		},

		RateLimit: RateLimitConfig{
			Enabled:           getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
			RedisPassword:     getenv("REDIS_PASSWORD", ""),
			RedisDB:           getenvInt("REDIS_DB", 0),
			RetryPaymentRate:  getenvFloat("RATE_LIMIT_RETRY_PAYMENT_RATE", 1),
			RetryPaymentBurst: getenvInt("RATE_LIMIT_RETRY_PAYMENT_BURST", 5),
			WebhookRate:       getenvFloat("RATE_LIMIT_WEBHOOK_RATE", 20),
			WebhookBurst:      getenvInt("RATE_LIMIT_WEBHOOK_BURST", 40),
			SweepLockTTLSecs:  getenvInt("SWEEP_LOCK_TTL_SECONDS", 120),
		},

		Sweep: SweepConfig{
			Enabled:          getenvBool("SWEEP_ENABLED", true),
			IntervalSeconds:  getenvInt("SWEEP_INTERVAL_SECONDS", 300),
			PendingMaxAgeHrs: getenvInt("SWEEP_PENDING_MAX_AGE_HOURS", 72),
		},
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
