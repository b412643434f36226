package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	HTTPPort  string
	GRPCPort  string
	LogLevel  string
	LogFormat string

	KafkaBrokers []string
	OrdersTopic  string

	RedisAddr      string
	IdempotencyTTL time.Duration

	CartLimit  int
	LoanPeriod time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetention    time.Duration

	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

// Load reads the first .env file found next to the working directory (or up
// to two levels above it) and then builds the configuration from the process
// environment. Missing files are not an error: the environment alone is enough.
func Load() (Config, error) {
	loadEnv()

	cfg := Config{
		DBHost:     getString("DB_HOST", "localhost"),
		DBUser:     getString("POSTGRES_USER", "postgres"),
		DBPassword: getString("POSTGRES_PASSWORD", "postgres"),
		DBName:     getString("POSTGRES_DB", "library"),

		HTTPPort:  getString("HTTP_PORT", "9000"),
		GRPCPort:  getString("GRPC_PORT", "9001"),
		LogLevel:  getString("LOG_LEVEL", "info"),
		LogFormat: getString("LOG_FORMAT", "console"),

		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		OrdersTopic:  getString("KAFKA_ORDERS_TOPIC", "library.orders"),

		RedisAddr: os.Getenv("REDIS_ADDR"),

		AdminUsername: os.Getenv("ADMIN_USERNAME"),
		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
	}

	var err error
	if cfg.DBPort, err = getInt("DB_PORT", 5432); err != nil {
		return Config{}, err
	}
	maxConns, err := getInt("DB_MAX_CONNS", 10)
	if err != nil {
		return Config{}, err
	}
	cfg.DBMaxConns = int32(maxConns)
	if cfg.CartLimit, err = getInt("CART_LIMIT", 5); err != nil {
		return Config{}, err
	}
	if cfg.LoanPeriod, err = getDuration("LOAN_PERIOD", 21*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.OutboxPollInterval, err = getDuration("OUTBOX_POLL_INTERVAL", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.OutboxBatchSize, err = getInt("OUTBOX_BATCH_SIZE", 50); err != nil {
		return Config{}, err
	}
	if cfg.OutboxMaxAttempts, err = getInt("OUTBOX_MAX_ATTEMPTS", 5); err != nil {
		return Config{}, err
	}
	if cfg.OutboxRetention, err = getDuration("OUTBOX_RETENTION", 7*24*time.Hour); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
}

func loadEnv() {
	exePath, err := os.Getwd()
	if err != nil {
		log.Printf("Error getting working directory: %v", err)
		return
	}

	possiblePaths := []string{
		filepath.Join(exePath, ".env"),
		filepath.Join(exePath, "..", ".env"),
		filepath.Join(exePath, "..", "..", ".env"),
	}

	for _, envPath := range possiblePaths {
		if err := godotenv.Load(envPath); err == nil {
			log.Printf("Loaded environment variables from %s", envPath)
			return
		}
	}

	for _, envPath := range possiblePaths {
		examplePath := filepath.Join(filepath.Dir(envPath), ".example.env")
		if err := godotenv.Load(examplePath); err == nil {
			log.Printf("Loaded environment variables from %s", examplePath)
			return
		}
	}
}

func getString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
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
