package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"kasirinaja/posledger/internal/domain"
)

type Config struct {
	Port          string
	AllowedOrigin string

	DBDriver    string
	DatabaseURL string
	SQLitePath  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	SeedAdminPassword     string

	LogFormat        string
	LogLevel         string
	MetricsNamespace string

	LineItemPolicy     domain.LineItemPolicy
	StackPromotions    bool
	RequireCashSession bool

	ReceiptSnapshotTTL time.Duration
	ReceiptMaxRetry    int
	WorkerMetricsPort  string
}

// Load reads the environment, after an optional .env file. Auth secrets are
// never defaulted; cmd/server refuses to start without them.
func Load() (Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	policy, err := domain.ParseLineItemPolicy(k.String("SALE_LINE_ITEM_POLICY"))
	if err != nil {
		return Config{}, fmt.Errorf("SALE_LINE_ITEM_POLICY: %w", err)
	}

	cfg := Config{
		Port:                  valueOrDefault(k.String("PORT"), "8080"),
		AllowedOrigin:         valueOrDefault(k.String("ALLOWED_ORIGIN"), "http://127.0.0.1:3000"),
		DBDriver:              strings.ToLower(valueOrDefault(k.String("DB_DRIVER"), "sqlite")),
		DatabaseURL:           strings.TrimSpace(k.String("DATABASE_URL")),
		SQLitePath:            valueOrDefault(k.String("SQLITE_PATH"), filepath.Join("data", "posledger.db")),
		RedisAddr:             strings.TrimSpace(k.String("REDIS_ADDR")),
		RedisPassword:         k.String("REDIS_PASSWORD"),
		RedisDB:               parseInt(k.String("REDIS_DB"), 0, 0),
		AuthSecret:            strings.TrimSpace(k.String("AUTH_SECRET")),
		AccessTokenTTLMinutes: parseInt(k.String("ACCESS_TOKEN_TTL_MINUTES"), 480, 1),
		ManagerPIN:            strings.TrimSpace(k.String("MANAGER_PIN")),
		SeedAdminPassword:     strings.TrimSpace(k.String("SEED_ADMIN_PASSWORD")),
		LogFormat:             valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:              valueOrDefault(k.String("LOG_LEVEL"), "info"),
		MetricsNamespace:      valueOrDefault(k.String("METRICS_NAMESPACE"), "posledger"),
		LineItemPolicy:        policy,
		StackPromotions:       parseBool(k.String("SALE_STACK_PROMOTIONS")),
		RequireCashSession:    parseBool(k.String("SALE_REQUIRE_CASH_SESSION")),
		ReceiptSnapshotTTL:    time.Duration(parseInt(k.String("RECEIPT_SNAPSHOT_TTL_MINUTES"), 1440, 1)) * time.Minute,
		ReceiptMaxRetry:       parseInt(k.String("RECEIPT_MAX_RETRY"), 5, 0),
		WorkerMetricsPort:     valueOrDefault(k.String("WORKER_METRICS_PORT"), "9091"),
	}

	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return Config{}, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", cfg.DBDriver)
	}
	if cfg.DBDriver == "postgres" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
	}
	return cfg, nil
}

func (c Config) Address() string {
	port := strings.TrimSpace(c.Port)
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func (c Config) WorkerMetricsAddress() string {
	return Config{Port: c.WorkerMetricsPort}.Address()
}

// DSN is the connection string for the configured driver.
func (c Config) DSN() string {
	if c.DBDriver == "postgres" {
		return c.DatabaseURL
	}
	return c.SQLitePath
}

func valueOrDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

// parseInt falls back when the value is missing, malformed or below min.
func parseInt(value string, fallback, min int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < min {
		return fallback
	}
	return n
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
