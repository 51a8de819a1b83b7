package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL    string `env:"DATABASE_URL,required,notEmpty"`
	JWTSecret      string `env:"JWT_SECRET,required,notEmpty"`
	Port           int    `env:"PORT" envDefault:"8080"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv         string `env:"APP_ENV" envDefault:"production"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"migrations"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`

	LedgerLockTimeout      time.Duration `env:"LEDGER_LOCK_TIMEOUT" envDefault:"5s"`
	LedgerDefaultPageSize  int           `env:"LEDGER_DEFAULT_PAGE_SIZE" envDefault:"50"`
	LedgerMaxPageSize      int           `env:"LEDGER_MAX_PAGE_SIZE" envDefault:"100"`
	LedgerRecordMaxRetries uint64        `env:"LEDGER_RECORD_MAX_RETRIES" envDefault:"3"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"ledger.entries"`

	IdempotencyCleanupInterval time.Duration `env:"IDEMPOTENCY_CLEANUP_INTERVAL" envDefault:"1h"`
}

// Load reads an optional .env file from the working directory, then parses
// the environment. Variables already set in the environment win over .env.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config.Load: dotenv: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	if cfg.LedgerMaxPageSize <= 0 {
		return nil, fmt.Errorf("config.Load: LEDGER_MAX_PAGE_SIZE must be positive")
	}
	if cfg.LedgerDefaultPageSize <= 0 || cfg.LedgerDefaultPageSize > cfg.LedgerMaxPageSize {
		return nil, fmt.Errorf("config.Load: LEDGER_DEFAULT_PAGE_SIZE must be in 1..%d", cfg.LedgerMaxPageSize)
	}
	if cfg.LedgerLockTimeout < time.Millisecond {
		return nil, fmt.Errorf("config.Load: LEDGER_LOCK_TIMEOUT must be at least 1ms")
	}
	if cfg.IdempotencyCleanupInterval <= 0 {
		return nil, fmt.Errorf("config.Load: IDEMPOTENCY_CLEANUP_INTERVAL must be positive")
	}
	return &cfg, nil
}
