package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		ChainID:        1,
		WalletMnemonic: "test test test test test test test test test test test junk",
		RPCEndpoint:    "http://127.0.0.1:8545",
		MaxConcurrent:  4,
		WorkerThreads:  4,
		MaxAttempts:    3,
		WalletKeys:     8,
		BaseRetryDelay: 5 * time.Second,
		MaxRetryDelay:  time.Minute,
	}
}

func TestConfig_ValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ValidateRequiresChainID(t *testing.T) {
	cfg := validConfig()
	cfg.ChainID = 0
	assert.Error(t, cfg.Validate())
}

func TestConfig_ValidateRequiresMnemonicAndRPCEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.WalletMnemonic = ""
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.RPCEndpoint = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_ValidateRejectsRetryDelayInversion(t *testing.T) {
	cfg := validConfig()
	cfg.MaxRetryDelay = cfg.BaseRetryDelay - time.Millisecond
	assert.Error(t, cfg.Validate())
}

func TestConfig_ValidateRequiresStrongPassphraseWhenKeystorePathSet(t *testing.T) {
	cfg := validConfig()
	cfg.WalletKeystorePath = "/tmp/relayer-keystore.enc"
	cfg.WalletPassphrase = "short"
	assert.Error(t, cfg.Validate(), "a weak passphrase must be rejected once a keystore path is configured")

	cfg.WalletPassphrase = "Str0ng!Passphrase123"
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ValidateIgnoresPassphraseStrengthWithoutKeystorePath(t *testing.T) {
	cfg := validConfig()
	cfg.WalletKeystorePath = ""
	cfg.WalletPassphrase = "short"
	assert.NoError(t, cfg.Validate(), "passphrase strength only matters once it unlocks a persisted keystore")
}

func TestConfig_ReplayTTLSumsWindowAndGrace(t *testing.T) {
	cfg := validConfig()
	cfg.SignatureWindow = 300 * time.Second
	cfg.ReplayGrace = 60 * time.Second
	assert.Equal(t, 360*time.Second, cfg.ReplayTTL())
}

func TestLoad_AppliesDefaultsAndEnvOverrides(t *testing.T) {
	t.Setenv("RELAYER_CHAIN_ID", "1")
	t.Setenv("RELAYER_WALLET_MNEMONIC", "test test test test test test test test test test test junk")
	t.Setenv("RELAYER_RPC_ENDPOINT", "http://127.0.0.1:8545")
	t.Setenv("RELAYER_MAX_CONCURRENT", "32")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.MaxConcurrent, "env var must override the built-in default")
	assert.Equal(t, 3, cfg.MaxAttempts, "unset fields fall back to setDefaults")
	assert.Equal(t, 8, cfg.WalletKeys)
}

func TestLoad_FailsValidationWithoutRequiredFields(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err, "chain_id, wallet_mnemonic, and rpc_endpoint have no default and must fail closed")
}
