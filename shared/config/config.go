// Package config loads service settings from an optional .env file, an
// optional YAML file named by CONFIG_FILE, and the environment, in increasing
// order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Service  string `yaml:"-"`
	Port     string `yaml:"port"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"logLevel"`

	// Postgres DSN for the transaction store. Empty selects the in-memory store.
	DatabaseURL string `yaml:"databaseUrl"`

	// Ledger persistence: memory, mysql or sqlite.
	LedgerDriver string `yaml:"ledgerDriver"`
	LedgerDSN    string `yaml:"ledgerDsn"`

	// Empty RedisAddr disables the account view cache and audit publishing.
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`

	JWTSecret string `yaml:"jwtSecret"`

	LedgerServiceURL string        `yaml:"ledgerServiceUrl"`
	LedgerTimeout    time.Duration `yaml:"ledgerTimeout"`
	UserServiceURL   string        `yaml:"userServiceUrl"`

	AccountServiceURL     string `yaml:"accountServiceUrl"`
	TransactionServiceURL string `yaml:"transactionServiceUrl"`

	IdleAccountAfter  time.Duration `yaml:"idleAccountAfter"`
	IdleSweepInterval time.Duration `yaml:"idleSweepInterval"`

	ReconcileInterval time.Duration `yaml:"reconcileInterval"`
	ReconcileAfter    time.Duration `yaml:"reconcileAfter"`
}

// Defaults returns the settings used when nothing overrides them.
func Defaults(service, port string) Config {
	return Config{
		Service:               service,
		Port:                  port,
		Env:                   "production",
		LogLevel:              "info",
		LedgerDriver:          "memory",
		LedgerServiceURL:      "http://localhost:8082",
		LedgerTimeout:         3 * time.Second,
		AccountServiceURL:     "http://localhost:8082",
		TransactionServiceURL: "http://localhost:8084",
		IdleAccountAfter:      24 * time.Hour,
		IdleSweepInterval:     time.Hour,
		ReconcileInterval:     time.Minute,
		ReconcileAfter:        5 * time.Minute,
	}
}

// Load resolves the configuration for service.
func Load(service, defaultPort string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := Defaults(service, defaultPort)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Env = getEnv("ENV", cfg.Env)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.LedgerDriver = getEnv("LEDGER_DRIVER", cfg.LedgerDriver)
	cfg.LedgerDSN = getEnv("LEDGER_DSN", cfg.LedgerDSN)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.LedgerServiceURL = getEnv("LEDGER_SERVICE_URL", cfg.LedgerServiceURL)
	cfg.UserServiceURL = getEnv("USER_SERVICE_URL", cfg.UserServiceURL)
	cfg.AccountServiceURL = getEnv("ACCOUNT_SERVICE_URL", cfg.AccountServiceURL)
	cfg.TransactionServiceURL = getEnv("TRANSACTION_SERVICE_URL", cfg.TransactionServiceURL)

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"LEDGER_TIMEOUT", &cfg.LedgerTimeout},
		{"IDLE_ACCOUNT_AFTER", &cfg.IdleAccountAfter},
		{"IDLE_SWEEP_INTERVAL", &cfg.IdleSweepInterval},
		{"RECONCILE_INTERVAL", &cfg.ReconcileInterval},
		{"RECONCILE_AFTER", &cfg.ReconcileAfter},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, *d.dst); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate rejects settings under which the reconciler could settle a
// transaction whose ledger call is still in flight. An execute holds its claim
// for at most one transfer call plus one receipt lookup, each bounded by
// LedgerTimeout.
func (c *Config) validate() error {
	if c.LedgerTimeout <= 0 {
		return fmt.Errorf("invalid LEDGER_TIMEOUT: must be positive, got %s", c.LedgerTimeout)
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("invalid RECONCILE_INTERVAL: must be positive, got %s", c.ReconcileInterval)
	}
	if inFlight := 2 * c.LedgerTimeout; c.ReconcileAfter <= inFlight {
		return fmt.Errorf("invalid RECONCILE_AFTER: %s must exceed %s (two ledger timeouts)", c.ReconcileAfter, inFlight)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
