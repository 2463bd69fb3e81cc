// Package chain wires the relayer to a single configured blockchain via
// chainkit.ChainAdapter. Unlike the multi-chain FFI service it is derived
// from, the relayer only ever talks to the chain named by config.ChainID -
// there is no per-request chain routing.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/express402/relayer/chainkit"
	"github.com/express402/relayer/chainkit/ethereum"
	"github.com/express402/relayer/chainkit/metrics"
	"github.com/express402/relayer/chainkit/rpc"
	"github.com/express402/relayer/chainkit/storage"
)

// Service owns the single chainkit.ChainAdapter the relayer submits
// transactions through.
//
// Thread Safety:
// - All methods are safe for concurrent use.
// - The adapter is built once, lazily, and cached under mu.
type Service struct {
	chainID     string
	networkID   int64
	rpcEndpoint string

	mu      sync.RWMutex
	adapter chainkit.ChainAdapter
	txStore storage.TransactionStateStore
	metrics metrics.ChainMetrics
}

// Config carries the subset of relayer configuration the chain service
// needs to build its adapter.
type Config struct {
	ChainID     string
	NetworkID   int64
	RPCEndpoint string
	RPCTimeout  time.Duration
	Metrics     metrics.ChainMetrics
}

// NewService creates a chain service bound to a single network.
func NewService(cfg Config, txStore storage.TransactionStateStore) *Service {
	if txStore == nil {
		txStore = storage.NewMemoryTxStore()
	}
	if cfg.RPCTimeout == 0 {
		cfg.RPCTimeout = 30 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoOpMetrics{}
	}
	return &Service{
		chainID:     cfg.ChainID,
		networkID:   cfg.NetworkID,
		rpcEndpoint: cfg.RPCEndpoint,
		txStore:     txStore,
		metrics:     cfg.Metrics,
	}
}

// Adapter returns the chainkit adapter for the configured chain, building it
// on first use.
func (s *Service) Adapter(ctx context.Context) (chainkit.ChainAdapter, error) {
	s.mu.RLock()
	if s.adapter != nil {
		adapter := s.adapter
		s.mu.RUnlock()
		return adapter, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.adapter != nil {
		return s.adapter, nil
	}

	rpcClient, err := rpc.NewHTTPRPCClient([]string{s.rpcEndpoint}, 30*time.Second, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client for %s: %w", s.chainID, err)
	}

	adapter, err := ethereum.NewEthereumAdapter(rpcClient, s.txStore, s.networkID, s.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to build adapter for %s: %w", s.chainID, err)
	}

	s.adapter = adapter
	return adapter, nil
}

// BuildTransaction constructs an unsigned transaction for the configured chain.
func (s *Service) BuildTransaction(ctx context.Context, req *chainkit.TransactionRequest) (*chainkit.UnsignedTransaction, error) {
	adapter, err := s.Adapter(ctx)
	if err != nil {
		return nil, err
	}
	return adapter.Build(ctx, req)
}

// EstimateFee calculates fee estimates with confidence bounds.
func (s *Service) EstimateFee(ctx context.Context, req *chainkit.TransactionRequest) (*chainkit.FeeEstimate, error) {
	adapter, err := s.Adapter(ctx)
	if err != nil {
		return nil, err
	}
	return adapter.Estimate(ctx, req)
}

// SignTransaction signs an unsigned transaction using the given signer.
func (s *Service) SignTransaction(ctx context.Context, unsigned *chainkit.UnsignedTransaction, signer chainkit.Signer) (*chainkit.SignedTransaction, error) {
	adapter, err := s.Adapter(ctx)
	if err != nil {
		return nil, err
	}
	return adapter.Sign(ctx, unsigned, signer)
}

// BroadcastTransaction submits a signed transaction to the network.
func (s *Service) BroadcastTransaction(ctx context.Context, signed *chainkit.SignedTransaction) (*chainkit.BroadcastReceipt, error) {
	adapter, err := s.Adapter(ctx)
	if err != nil {
		return nil, err
	}
	return adapter.Broadcast(ctx, signed)
}

// QueryTransactionStatus retrieves the current status of a transaction.
func (s *Service) QueryTransactionStatus(ctx context.Context, txHash string) (*chainkit.TransactionStatus, error) {
	adapter, err := s.Adapter(ctx)
	if err != nil {
		return nil, err
	}
	return adapter.QueryStatus(ctx, txHash)
}

// SubscribeStatus streams status updates for txHash until confirmed, failed, or ctx is done.
func (s *Service) SubscribeStatus(ctx context.Context, txHash string) (<-chan *chainkit.TransactionStatus, error) {
	adapter, err := s.Adapter(ctx)
	if err != nil {
		return nil, err
	}
	return adapter.SubscribeStatus(ctx, txHash)
}

// Balance returns address's current balance in wei.
func (s *Service) Balance(ctx context.Context, address string) (*big.Int, error) {
	rpcClient, helper, err := s.rpcHelper(ctx)
	if err != nil {
		return nil, err
	}
	defer rpcClient.Close()
	return helper.GetBalance(ctx, address)
}

// Nonce returns address's next usable transaction nonce, per the chain's
// pending-inclusive transaction count.
func (s *Service) Nonce(ctx context.Context, address string) (uint64, error) {
	rpcClient, helper, err := s.rpcHelper(ctx)
	if err != nil {
		return 0, err
	}
	defer rpcClient.Close()
	return helper.GetTransactionCount(ctx, address)
}

func (s *Service) rpcHelper(ctx context.Context) (rpc.RPCClient, *ethereum.RPCHelper, error) {
	rpcClient, err := rpc.NewHTTPRPCClient([]string{s.rpcEndpoint}, 30*time.Second, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create RPC client for %s: %w", s.chainID, err)
	}
	return rpcClient, ethereum.NewRPCHelper(rpcClient), nil
}

// ParseAmount parses a decimal wei string to *big.Int.
func ParseAmount(amount string) (*big.Int, error) {
	result := new(big.Int)
	_, ok := result.SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", amount)
	}
	return result, nil
}
