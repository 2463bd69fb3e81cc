package address

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressService derives the chain addresses the relayer's wallet pool
// provisions from its BIP32 key tree.
type AddressService struct{}

// NewAddressService creates a new address service
func NewAddressService() *AddressService {
	return &AddressService{}
}

// DeriveEthereumAddress derives an Ethereum address from an extended key
// Returns a lowercase hex-encoded Ethereum address without an EIP-55 checksum
// (e.g., 0x742d35cc6634c0532925a3b844bc9e7595f0beb0)
func (s *AddressService) DeriveEthereumAddress(key *hdkeychain.ExtendedKey) (string, error) {
	// Get public key
	pubKey, err := key.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("failed to get public key: %w", err)
	}

	// Convert to uncompressed format (65 bytes: 0x04 + X + Y)
	uncompressed := pubKey.SerializeUncompressed()

	// Ethereum address = last 20 bytes of Keccak256(uncompressed public key without 0x04 prefix)
	// Skip the first byte (0x04) and hash the remaining 64 bytes
	hash := crypto.Keccak256(uncompressed[1:])

	// Take last 20 bytes and add 0x prefix
	address := fmt.Sprintf("0x%x", hash[len(hash)-20:])

	return address, nil
}
