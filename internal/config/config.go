package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	DBSource    string `yaml:"dbSource"    envconfig:"DB_SOURCE"`
	Port        string `yaml:"port"        envconfig:"SERVER_PORT"`
	Env         string `yaml:"environment" envconfig:"ENVIRONMENT"`
	LogLevel    string `yaml:"logLevel"    envconfig:"LOG_LEVEL"`
	Storage     string `yaml:"storage"     envconfig:"STORAGE"`
	AutoMigrate bool   `yaml:"autoMigrate" envconfig:"AUTO_MIGRATE"`

	Tx     TxConfig     `yaml:"tx"`
	Ledger LedgerConfig `yaml:"ledger"`
}

// TxConfig bounds the retry loop around storage transactions.
type TxConfig struct {
	Isolation      string        `yaml:"isolation"      envconfig:"TX_ISOLATION"`
	MaxRetries     int           `yaml:"maxRetries"     envconfig:"TX_MAX_RETRIES"`
	InitialBackoff time.Duration `yaml:"initialBackoff" envconfig:"TX_INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `yaml:"maxBackoff"     envconfig:"TX_MAX_BACKOFF"`
	LockTimeout    time.Duration `yaml:"lockTimeout"    envconfig:"LOCK_TIMEOUT"`
}

// LedgerConfig holds the business constants. Amounts are minor units.
type LedgerConfig struct {
	CommissionRates      domain.RateTable `yaml:"commissionRates"      envconfig:"COMMISSION_RATES"`
	RewardThreshold      int64            `yaml:"rewardThreshold"      envconfig:"REWARD_THRESHOLD"`
	RewardAmount         int64            `yaml:"rewardAmount"         envconfig:"REWARD_AMOUNT"`
	SignupBonus          int64            `yaml:"signupBonus"          envconfig:"SIGNUP_BONUS"`
	MinWithdrawal        int64            `yaml:"minWithdrawal"        envconfig:"MIN_WITHDRAWAL"`
	WithdrawalFeePercent decimal.Decimal  `yaml:"withdrawalFeePercent" envconfig:"WITHDRAWAL_FEE_PERCENT"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Port:        "8080",
		Env:         "development",
		LogLevel:    "info",
		Storage:     StoragePostgres,
		AutoMigrate: true,
		Tx: TxConfig{
			Isolation:      "repeatable_read",
			MaxRetries:     5,
			InitialBackoff: 20 * time.Millisecond,
			MaxBackoff:     time.Second,
			LockTimeout:    2 * time.Second,
		},
		Ledger: DefaultLedger(),
	}
}

func DefaultLedger() LedgerConfig {
	return LedgerConfig{
		CommissionRates: domain.RateTable{
			1: decimal.NewFromInt(10),
			2: decimal.NewFromInt(5),
			3: decimal.NewFromInt(3),
			4: decimal.NewFromInt(1),
		},
		RewardThreshold:      1_000_000, // 10,000.00
		RewardAmount:         50_000,    // 500.00
		SignupBonus:          1_000,     // 10.00
		MinWithdrawal:        500,       // 5.00
		WithdrawalFeePercent: decimal.NewFromInt(5),
	}
}

// Load layers defaults, an optional YAML file, a .env file and the process
// environment, in that order.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// A rate table in the file replaces the default one instead of merging into it.
		defaults := cfg.Ledger.CommissionRates
		cfg.Ledger.CommissionRates = nil
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
		if cfg.Ledger.CommissionRates == nil {
			cfg.Ledger.CommissionRates = defaults
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}
	if c.Tx.MaxRetries < 0 {
		return fmt.Errorf("TX_MAX_RETRIES must not be negative")
	}
	return c.Ledger.Validate()
}

func (l LedgerConfig) Validate() error {
	if err := l.CommissionRates.Validate(); err != nil {
		return err
	}
	if l.RewardThreshold <= 0 || l.RewardAmount <= 0 {
		return fmt.Errorf("reward threshold and amount must be positive")
	}
	if l.SignupBonus < 0 {
		return fmt.Errorf("signup bonus must not be negative")
	}
	if l.MinWithdrawal <= 0 {
		return fmt.Errorf("minimum withdrawal must be positive")
	}
	if l.WithdrawalFeePercent.IsNegative() || l.WithdrawalFeePercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("withdrawal fee percent must be within 0..100")
	}
	return nil
}
