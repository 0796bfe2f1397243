// Package config loads client settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"pulse-rewards/internal/retry"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	// Ledger
	LedgerRPCEndpoint    string        `env:"LEDGER_RPC_ENDPOINT,required"`
	LedgerWSEndpoint     string        `env:"LEDGER_WS_ENDPOINT"`
	PoolServicePrincipal string        `env:"POOL_SERVICE_PRINCIPAL,required"`
	RPCTimeout           time.Duration `env:"RPC_TIMEOUT" envDefault:"30s"`
	RPCRateLimit         float64       `env:"RPC_RATE_LIMIT" envDefault:"0"`
	RPCBurst             int           `env:"RPC_BURST" envDefault:"1"`

	// Storage
	PostgresDSN   string `env:"POSTGRES_DSN"`
	ClickhouseDSN string `env:"CLICKHOUSE_DSN"`
	UseMemory     bool   `env:"USE_MEMORY" envDefault:"false"`

	// Contribution protocol
	SettlementDelay  time.Duration `env:"SETTLEMENT_DELAY" envDefault:"2s"`
	FundMaxAttempts  int           `env:"FUND_MAX_ATTEMPTS" envDefault:"3"`
	FundRetryBackoff time.Duration `env:"FUND_RETRY_BACKOFF" envDefault:"2s"`
	FeeMarginE8s     uint64        `env:"FEE_MARGIN_E8S"` // 0: one ledger fee

	// Observability
	MetricsAddr string `env:"METRICS_ADDR"`
	Verbose     bool   `env:"VERBOSE" envDefault:"false"`
}

// Load reads an optional .env file, then parses the environment.
// Variables already set in the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills defaults left at zero and rejects invalid combinations.
func (c *Config) Validate() error {
	if c.LedgerRPCEndpoint == "" {
		return fmt.Errorf("%w: LEDGER_RPC_ENDPOINT is required", ErrInvalidConfig)
	}
	if c.PoolServicePrincipal == "" {
		return fmt.Errorf("%w: POOL_SERVICE_PRINCIPAL is required", ErrInvalidConfig)
	}
	if !c.UseMemory && c.PostgresDSN == "" {
		return fmt.Errorf("%w: POSTGRES_DSN is required (set USE_MEMORY=true for in-memory storage)", ErrInvalidConfig)
	}
	if c.FundMaxAttempts == 0 {
		c.FundMaxAttempts = retry.DefaultMaxAttempts
	}
	if c.FundMaxAttempts < 1 {
		return fmt.Errorf("%w: FUND_MAX_ATTEMPTS must be at least 1, got %d", ErrInvalidConfig, c.FundMaxAttempts)
	}
	if c.SettlementDelay < 0 || c.FundRetryBackoff < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = 30 * time.Second
	}
	if c.RPCRateLimit < 0 {
		return fmt.Errorf("%w: RPC_RATE_LIMIT must not be negative", ErrInvalidConfig)
	}
	if c.RPCBurst < 1 {
		c.RPCBurst = 1
	}
	return nil
}

// FundRetryPolicy returns the bounded retry policy for the pull-transfer phase.
func (c *Config) FundRetryPolicy() retry.Policy {
	return retry.Fixed(c.FundMaxAttempts, c.FundRetryBackoff)
}
