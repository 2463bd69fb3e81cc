// Package config loads and validates the relayer's runtime configuration.
//
// There is exactly one configuration source for the process: this package.
// It is read once at startup and handed down by value/pointer to every
// component; nothing reaches back into viper or the environment after
// Load returns.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/express402/relayer/internal/utils"
)

// Config holds every option named in the relayer's external interface.
type Config struct {
	// Admission gate (C1)
	SignatureWindow      time.Duration `mapstructure:"signature_window_secs"`
	ReplayGrace          time.Duration `mapstructure:"replay_grace"`
	MaxRequestsPerMinute int           `mapstructure:"max_requests_per_minute"`
	MinBalanceThreshold  string        `mapstructure:"min_balance_threshold"`
	MaxTransactionAmount string        `mapstructure:"max_transaction_amount"`

	// Scheduler (C3)
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	WorkerThreads    int           `mapstructure:"worker_threads"`
	MaxQueueSize     int           `mapstructure:"max_queue_size"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BaseRetryDelay   time.Duration `mapstructure:"base_retry_delay"`
	MaxRetryDelay    time.Duration `mapstructure:"max_retry_delay"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"`

	// Chain / gas (C5)
	ChainID            int64   `mapstructure:"chain_id"`
	GasLimit           uint64  `mapstructure:"gas_limit"`
	GasPriceMultiplier float64 `mapstructure:"gas_price_multiplier"`
	MaxGasPrice        string  `mapstructure:"max_gas_price"`
	MinGasPrice        string  `mapstructure:"min_gas_price"`
	ConfirmationBlocks int     `mapstructure:"confirmation_blocks"`
	BalancePollInterval time.Duration `mapstructure:"balance_poll_interval"`
	RPCEndpoint        string  `mapstructure:"rpc_endpoint"`

	// Ledger / replay TTLs
	PrepaidTTL  time.Duration `mapstructure:"prepaid_ttl"`
	RollbackTTL time.Duration `mapstructure:"rollback_ttl"`

	// Wallet pool (C4)
	WalletMnemonic     string `mapstructure:"wallet_mnemonic"`
	WalletKeys         int    `mapstructure:"wallet_keys"`
	WalletPassphrase   string `mapstructure:"wallet_passphrase"`
	WalletKeystorePath string `mapstructure:"wallet_keystore_path"`

	// Storage
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	AuditLogPath  string `mapstructure:"audit_log_path"`

	// Client authentication: client_id -> expected api_key. Operator-
	// provisioned, not derivable from any other field.
	APIKeys map[string]string `mapstructure:"api_keys"`
}

// ReplayTTL is derived, not configured directly: signature_window + grace.
func (c *Config) ReplayTTL() time.Duration {
	return c.SignatureWindow + c.ReplayGrace
}

// Load reads configuration from (in ascending priority) defaults, an
// optional config file, and RELAYER_-prefixed environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("relayer")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("signature_window_secs", 300*time.Second)
	v.SetDefault("replay_grace", 60*time.Second)
	v.SetDefault("max_requests_per_minute", 100)
	v.SetDefault("max_concurrent", 16)
	v.SetDefault("worker_threads", 4)
	v.SetDefault("max_queue_size", 10000)
	v.SetDefault("max_attempts", 3)
	v.SetDefault("base_retry_delay", 5*time.Second)
	v.SetDefault("max_retry_delay", 2*time.Minute)
	v.SetDefault("processing_timeout", 300*time.Second)
	v.SetDefault("gas_limit", uint64(21000))
	v.SetDefault("gas_price_multiplier", 1.1)
	v.SetDefault("confirmation_blocks", 1)
	v.SetDefault("balance_poll_interval", 15*time.Second)
	v.SetDefault("prepaid_ttl", 24*time.Hour)
	v.SetDefault("rollback_ttl", time.Hour)
	v.SetDefault("wallet_keys", 8)
	v.SetDefault("redis_addr", "127.0.0.1:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("audit_log_path", "relayer-audit.ndjson")
}

// Validate rejects configurations that would make the admission gate or
// scheduler behave incoherently.
func (c *Config) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("chain_id is required")
	}
	if c.WalletMnemonic == "" {
		return fmt.Errorf("wallet_mnemonic is required")
	}
	if c.RPCEndpoint == "" {
		return fmt.Errorf("rpc_endpoint is required")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	if c.WorkerThreads <= 0 {
		return fmt.Errorf("worker_threads must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive")
	}
	if c.WalletKeys <= 0 {
		return fmt.Errorf("wallet_keys must be positive")
	}
	if c.BaseRetryDelay <= 0 || c.MaxRetryDelay < c.BaseRetryDelay {
		return fmt.Errorf("base_retry_delay must be positive and max_retry_delay must not be smaller than it")
	}
	if c.WalletKeystorePath != "" {
		if err := utils.ValidatePassword(c.WalletPassphrase); err != nil {
			return fmt.Errorf("wallet_passphrase: %w", err)
		}
	}
	return nil
}
