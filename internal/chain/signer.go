package chain

import (
	"fmt"

	"github.com/express402/relayer/chainkit"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// WalletSigner implements chainkit.Signer over a wallet pool key held in
// memory for the lifetime of a single lease. It never persists or logs the
// private key; callers are responsible for zeroizing it once the lease ends.
type WalletSigner struct {
	privateKey []byte
	address    string
}

// NewWalletSigner wraps a raw secp256k1 private key already bound to address
// by the wallet pool's HD derivation. Address derivation is never redone here.
func NewWalletSigner(privateKey []byte, address string) (*WalletSigner, error) {
	if len(privateKey) != 32 {
		return nil, fmt.Errorf("invalid private key length: expected 32 bytes, got %d", len(privateKey))
	}
	key := make([]byte, 32)
	copy(key, privateKey)
	return &WalletSigner{privateKey: key, address: address}, nil
}

// Sign signs payload with the wrapped key after checking address ownership.
func (s *WalletSigner) Sign(payload []byte, address string) ([]byte, error) {
	if s.address != address {
		return nil, fmt.Errorf("address mismatch: signer controls %s, requested %s", s.address, address)
	}

	privKey, err := ethcrypto.ToECDSA(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	signature, err := ethcrypto.Sign(payload, privKey)
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}
	return signature, nil
}

// GetAddress returns the address this signer controls.
func (s *WalletSigner) GetAddress() string {
	return s.address
}

// Zeroize clears the private key from memory. Callers MUST call this when
// the wallet lease ends.
func (s *WalletSigner) Zeroize() {
	for i := range s.privateKey {
		s.privateKey[i] = 0
	}
	s.privateKey = nil
}

var _ chainkit.Signer = (*WalletSigner)(nil)
