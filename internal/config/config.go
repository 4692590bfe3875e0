package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Booking  BookingConfig
	Payment  PaymentConfig
	Auth     AuthConfig
	Notify   NotifyConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type BookingConfig struct {
	// PendingTTL is the abandonment window for unpaid bookings.
	PendingTTL time.Duration

	// SweepInterval is how often the housekeeping scheduler runs.
	SweepInterval time.Duration

	CodeTTL time.Duration
}

type GatewayConfig struct {
	BaseURL string
	Key     string // HMAC key or API token, per provider
	ID      string // merchant/partner id where the provider needs one
}

type PaymentConfig struct {
	Currency      string
	ReturnURL     string
	VerifyTimeout time.Duration
	SwiftPay      GatewayConfig
	TransPay      GatewayConfig
}

type AuthConfig struct {
	JWTSecret string
}

type NotifyConfig struct {
	WebhookURL string
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverPort, err := envInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	pgPort, err := envInt("POSTGRES_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	pgUser, err := envRequired("POSTGRES_USER")
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	pgPassword, err := envRequired("POSTGRES_PASSWORD")
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	pgDB, err := envRequired("POSTGRES_DB")
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	jwtSecret, err := envRequired("JWT_SECRET")
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	pendingTTL, err := envDuration("BOOKING_PENDING_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	sweepInterval, err := envDuration("SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	codeTTL, err := envDuration("VERIFICATION_CODE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	verifyTimeout, err := envDuration("GATEWAY_VERIFY_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	redisDB, err := envInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &Config{
		Server: ServerConfig{
			Host: env("SERVER_HOST", "localhost"),
			Port: serverPort,
		},
		Postgres: PostgresConfig{
			User:     pgUser,
			Password: pgPassword,
			Name:     pgDB,
			Host:     env("POSTGRES_HOST", "localhost"),
			Port:     pgPort,
			SSLMode:  env("POSTGRES_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     env("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Booking: BookingConfig{
			PendingTTL:    pendingTTL,
			SweepInterval: sweepInterval,
			CodeTTL:       codeTTL,
		},
		Payment: PaymentConfig{
			Currency:      env("PAYMENT_CURRENCY", "USD"),
			ReturnURL:     os.Getenv("PAYMENT_RETURN_URL"),
			VerifyTimeout: verifyTimeout,
			SwiftPay: GatewayConfig{
				BaseURL: os.Getenv("SWIFTPAY_BASE_URL"),
				Key:     os.Getenv("SWIFTPAY_HMAC_KEY"),
				ID:      os.Getenv("SWIFTPAY_MERCHANT_ID"),
			},
			TransPay: GatewayConfig{
				BaseURL: os.Getenv("TRANSPAY_BASE_URL"),
				Key:     os.Getenv("TRANSPAY_API_TOKEN"),
			},
		},
		Auth: AuthConfig{
			JWTSecret: jwtSecret,
		},
		Notify: NotifyConfig{
			WebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
		},
	}, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envRequired(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("missing %s", key)
	}
	return v, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
