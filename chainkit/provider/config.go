package provider

import (
	"fmt"
	"time"
)

// ProviderConfig describes a single blockchain data provider endpoint.
// Instances are constructed from config.Config at startup; there is no
// separate on-disk provider config store — the relayer has one
// configuration source (Design Note 9).
type ProviderConfig struct {
	// ProviderType identifies the provider implementation ("alchemy", "infura", "quicknode", etc.)
	ProviderType string `json:"provider_type"`

	// APIKey is the authentication key for the provider service
	APIKey string `json:"api_key"`

	// ChainID is the blockchain this provider is configured for
	ChainID string `json:"chain_id"`

	// NetworkID is the specific network (e.g., "mainnet", "sepolia")
	NetworkID string `json:"network_id,omitempty"`

	// CustomEndpoint overrides the provider's default endpoint resolution
	CustomEndpoint string `json:"custom_endpoint,omitempty"`

	// Priority determines selection order when multiple providers serve a chain
	Priority int `json:"priority"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateAPIKey performs provider-specific sanity checks on a config's key.
func ValidateAPIKey(config *ProviderConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("provider %s: api key is empty", config.ProviderType)
	}
	switch config.ProviderType {
	case "alchemy":
		if len(config.APIKey) < 20 {
			return fmt.Errorf("provider alchemy: api key too short")
		}
	case "infura":
		if len(config.APIKey) != 32 {
			return fmt.Errorf("provider infura: project id must be 32 characters")
		}
	case "quicknode":
		if config.CustomEndpoint == "" {
			return fmt.Errorf("provider quicknode: custom_endpoint is required")
		}
	}
	return nil
}
