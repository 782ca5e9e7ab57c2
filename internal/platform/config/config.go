// Package config centralizes the environment variables both binaries read.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config aggregates every parameter the API and the SMS worker need.
type Config struct {
	HTTPAddress string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OutboxKeyPrefix  string
	CounterKeyPrefix string

	TwilioAccountSID      string
	TwilioAuthToken       string
	TwilioVerifyServiceID string
	TwilioFromNumber      string

	SessionSecret string
	AppURL        string

	// Opt-in throttle on /api/sendCode; the OTP provider remains the primary
	// protection, so this defaults off.
	SendCodeRateEnabled       bool
	SendCodeRateMax           int
	SendCodeRateWindowSeconds int
	SendCodeRatePrefix        string

	AutoMigrate bool

	WorkerMetricsAddress string
}

func Load() (Config, error) {
	// Defaults favor local runs; everything can be overridden in Docker/K8s.
	cfg := Config{
		PostgresHost:              getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:              getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:              getEnv("POSTGRES_USER", "makethetake"),
		PostgresPassword:          getEnv("POSTGRES_PASSWORD", "makethetake"),
		PostgresDB:                getEnv("POSTGRES_DB", "makethetake"),
		PostgresSSLMode:           getEnv("POSTGRES_SSLMODE", "disable"),
		RedisAddr:                 getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		OutboxKeyPrefix:           getEnv("REDIS_OUTBOX_PREFIX", "outbox:sms"),
		CounterKeyPrefix:          getEnv("REDIS_COUNTER_PREFIX", "tally"),
		TwilioAccountSID:          os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:           os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioVerifyServiceID:     os.Getenv("TWILIO_VERIFY_SERVICE_SID"),
		TwilioFromNumber:          os.Getenv("TWILIO_FROM_NUMBER"),
		SessionSecret:             getEnv("SESSION_SECRET", "CHANGE_THIS_BEFORE_PRODUCTION"),
		AppURL:                    strings.TrimRight(getEnv("APP_URL", "http://localhost:3000"), "/"),
		SendCodeRateEnabled:       getEnvAsBool("SEND_CODE_RATE_ENABLED", false),
		SendCodeRateMax:           getEnvAsInt("SEND_CODE_RATE_MAX", 5),
		SendCodeRateWindowSeconds: getEnvAsInt("SEND_CODE_RATE_WINDOW", 300),
		SendCodeRatePrefix:        getEnv("SEND_CODE_RATE_PREFIX", "ratelimit"),
		AutoMigrate:               getEnvAsBool("DB_AUTO_MIGRATE", true),
		WorkerMetricsAddress:      getEnv("WORKER_METRICS_ADDRESS", ":9090"),
	}

	cfg.HTTPAddress = ":" + getEnv("PORT", "3000")

	dbStr := getEnv("REDIS_DB", "0")
	dbInt, err := strconv.Atoi(dbStr)
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = dbInt

	return cfg, nil
}

func (c Config) PostgresDSN() string {
	// DSN format stays compatible with GORM and migration tooling.
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.PostgresUser,
		c.PostgresPassword,
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDB,
		c.PostgresSSLMode,
	)
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvAsInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func getEnvAsBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	switch value {
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return true
	}
}
