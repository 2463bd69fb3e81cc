// Package walletpool implements the wallet pool (C4): provisioning,
// selection, leasing, and nonce discipline over the set of addresses the
// relayer signs transactions from.
package walletpool

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"

	"github.com/express402/relayer/internal/models"
	"github.com/express402/relayer/internal/services/address"
	"github.com/express402/relayer/internal/services/bip39service"
	"github.com/express402/relayer/internal/services/hdkey"
)

// derivationPath returns the BIP44 Ethereum external-chain path for the
// wallet at the given pool index: m/44'/60'/0'/0/{index}.
func derivationPath(index int) string {
	return fmt.Sprintf("m/44'/60'/0'/0/%d", index)
}

// ProvisionConfig describes how to derive the relayer's wallet pool from a
// single operator-supplied mnemonic.
type ProvisionConfig struct {
	Mnemonic       string
	Passphrase     string // BIP39 passphrase, usually empty
	WalletCount    int
}

// Provision derives WalletCount relayer-owned Ethereum wallets from one
// BIP39 mnemonic, following the m/44'/60'/0'/0/{i} path per wallet. This is
// the wallet pool provisioning resolution: one mnemonic, many leaf keys,
// rather than one mnemonic per wallet.
func Provision(cfg ProvisionConfig) ([]*models.RelayerWallet, error) {
	if cfg.WalletCount <= 0 {
		return nil, fmt.Errorf("walletpool: wallet_count must be positive, got %d", cfg.WalletCount)
	}

	bip39Svc := bip39service.NewBIP39Service()
	if err := bip39Svc.ValidateMnemonic(cfg.Mnemonic); err != nil {
		return nil, fmt.Errorf("walletpool: %w", err)
	}

	seed, err := bip39Svc.MnemonicToSeed(cfg.Mnemonic, cfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("walletpool: failed to derive seed: %w", err)
	}

	hdSvc := hdkey.NewHDKeyService()
	master, err := hdSvc.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("walletpool: failed to derive master key: %w", err)
	}

	addrSvc := address.NewAddressService()

	wallets := make([]*models.RelayerWallet, 0, cfg.WalletCount)
	for i := 0; i < cfg.WalletCount; i++ {
		leaf, err := hdSvc.DerivePath(master, derivationPath(i))
		if err != nil {
			return nil, fmt.Errorf("walletpool: failed to derive wallet %d: %w", i, err)
		}

		wallet, err := walletFromLeaf(addrSvc, leaf)
		if err != nil {
			return nil, fmt.Errorf("walletpool: failed to build wallet %d: %w", i, err)
		}
		wallets = append(wallets, wallet)
	}

	return wallets, nil
}

func walletFromLeaf(addrSvc *address.AddressService, leaf *hdkeychain.ExtendedKey) (*models.RelayerWallet, error) {
	hdSvc := hdkey.NewHDKeyService()

	privKey, err := hdSvc.GetPrivateKey(leaf)
	if err != nil {
		return nil, err
	}
	defer zero(privKey)

	addr, err := addrSvc.DeriveEthereumAddress(leaf)
	if err != nil {
		return nil, err
	}

	return models.NewRelayerWallet(addr, privKey), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
