package walletpool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/express402/relayer/internal/models"
	"github.com/express402/relayer/internal/services/crypto"
	"github.com/express402/relayer/internal/services/storage"
)

// keystoreEntry is one wallet's address and raw private key, as persisted
// inside the encrypted keystore blob.
type keystoreEntry struct {
	Address    string `json:"address"`
	PrivateKey []byte `json:"private_key"`
}

// SaveEncryptedKeystore encrypts every provisioned wallet's private key
// with unlockPassphrase (Argon2id + AES-256-GCM) and writes the result to
// path. On a later start the relayer loads these keys instead of deriving
// them again; config validation still requires wallet_mnemonic to be set.
func SaveEncryptedKeystore(path string, wallets []*models.RelayerWallet, unlockPassphrase string) error {
	entries := make([]keystoreEntry, len(wallets))
	for i, w := range wallets {
		entries[i] = keystoreEntry{Address: w.Address, PrivateKey: w.SigningKey()}
	}

	plaintext, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("walletpool: failed to marshal keystore: %w", err)
	}

	ciphertext, err := crypto.Encrypt(plaintext, unlockPassphrase)
	if err != nil {
		return fmt.Errorf("walletpool: failed to encrypt keystore: %w", err)
	}

	if free, err := storage.GetAvailableSpace(filepath.Dir(path)); err == nil && free < uint64(len(ciphertext)) {
		return fmt.Errorf("walletpool: insufficient disk space to write keystore at %s", path)
	}

	return storage.AtomicWriteFile(path, ciphertext, 0600)
}

// LoadEncryptedKeystore decrypts the keystore at path with unlockPassphrase
// and returns each wallet's address and private key, in the order they were
// saved.
func LoadEncryptedKeystore(path, unlockPassphrase string) (addresses []string, privateKeys [][]byte, err error) {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("walletpool: failed to read keystore: %w", err)
	}

	plaintext, err := crypto.Decrypt(ciphertext, unlockPassphrase)
	if err != nil {
		return nil, nil, fmt.Errorf("walletpool: failed to decrypt keystore: %w", err)
	}

	var entries []keystoreEntry
	if err := json.Unmarshal(plaintext, &entries); err != nil {
		return nil, nil, fmt.Errorf("walletpool: failed to parse keystore: %w", err)
	}

	addresses = make([]string, len(entries))
	privateKeys = make([][]byte, len(entries))
	for i, e := range entries {
		addresses[i] = e.Address
		privateKeys[i] = e.PrivateKey
	}
	return addresses, privateKeys, nil
}
