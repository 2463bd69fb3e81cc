package walletpool

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/express402/relayer/internal/kvstore"
	"github.com/express402/relayer/internal/models"
	"github.com/express402/relayer/internal/services/audit"
)

// ErrNoWalletAvailable is returned by Acquire when every wallet is
// draining, disabled, or below the minimum balance threshold. A leased
// wallet stays eligible and can take further jobs.
var ErrNoWalletAvailable = fmt.Errorf("walletpool: no wallet available")

// ErrWalletNotFound is returned by Release/Disable for an unknown address.
var ErrWalletNotFound = fmt.Errorf("walletpool: wallet not found")

// ChainBalanceNoncer is the subset of chain.Service the pool needs for
// nonce initialization and balance monitoring.
type ChainBalanceNoncer interface {
	Balance(ctx context.Context, address string) (*big.Int, error)
	Nonce(ctx context.Context, address string) (uint64, error)
}

// Lease grants a job exclusive use of one wallet's next nonce. The job must
// call Release exactly once with the outcome.
type Lease struct {
	Wallet *models.RelayerWallet
	JobID  string
	Nonce  uint64
}

// Config carries the wallet-pool-relevant subset of relayer configuration.
type Config struct {
	MinBalanceThreshold *big.Int
	BalancePollInterval time.Duration
}

// Pool owns every wallet the relayer signs from, their leasing state, and
// their local nonce counters.
type Pool struct {
	store kvstore.Store
	chain ChainBalanceNoncer
	audit audit.Log

	minBalance   *big.Int
	pollInterval time.Duration

	mu      sync.Mutex
	wallets map[string]*models.RelayerWallet
	order   []string // stable iteration order for selection and snapshot
}

// New builds a wallet pool over the given, already-provisioned wallets.
func New(cfg Config, wallets []*models.RelayerWallet, store kvstore.Store, chain ChainBalanceNoncer, auditLog audit.Log) *Pool {
	p := &Pool{
		store:        store,
		chain:        chain,
		audit:        auditLog,
		minBalance:   cfg.MinBalanceThreshold,
		pollInterval: cfg.BalancePollInterval,
		wallets:      make(map[string]*models.RelayerWallet, len(wallets)),
		order:        make([]string, 0, len(wallets)),
	}
	for _, w := range wallets {
		p.wallets[w.Address] = w
		p.order = append(p.order, w.Address)
	}
	return p
}

// InitNonces queries the chain for each wallet's current transaction count
// and sets LocalNonce accordingly. Must run once before the pool serves
// Acquire calls.
func (p *Pool) InitNonces(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, addr := range p.order {
		nonce, err := p.chain.Nonce(ctx, addr)
		if err != nil {
			return fmt.Errorf("walletpool: failed to fetch nonce for %s: %w", addr, err)
		}
		p.wallets[addr].LocalNonce = nonce
	}
	return nil
}

// Acquire selects an eligible wallet, reserves its next nonce, and marks it
// leased. Selection order: filter out disabled/draining wallets and those
// below the minimum balance, then sort by lowest pending_count, then
// highest success_rate, then least-recently-used.
func (p *Pool) Acquire(ctx context.Context, jobID string) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := make([]*models.RelayerWallet, 0, len(p.order))
	for _, addr := range p.order {
		w := p.wallets[addr]
		if w.State == models.WalletStateDisabled || w.State == models.WalletStateDraining {
			continue
		}
		if p.minBalance != nil && w.BalanceCached != nil && w.BalanceCached.Cmp(p.minBalance) < 0 {
			continue
		}
		candidates = append(candidates, w)
	}
	if len(candidates) == 0 {
		return nil, ErrNoWalletAvailable
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.PendingCount() != b.PendingCount() {
			return a.PendingCount() < b.PendingCount()
		}
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		return a.LastUsed.Before(b.LastUsed)
	})

	wallet := candidates[0]
	nonce := wallet.LocalNonce
	wallet.LocalNonce++
	wallet.InFlight[jobID] = struct{}{}
	wallet.State = models.WalletStateLeased
	wallet.LastUsed = time.Now()

	p.persistMeta(ctx, wallet)

	return &Lease{Wallet: wallet, JobID: jobID, Nonce: nonce}, nil
}

// Release returns a wallet to the pool after a job finishes, updating its
// rolling success rate and availability. outcome is confirmed, failed, or
// rolled_back.
func (p *Pool) Release(ctx context.Context, address, jobID string, outcome models.JobOutcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	wallet, ok := p.wallets[address]
	if !ok {
		return ErrWalletNotFound
	}

	delete(wallet.InFlight, jobID)
	wallet.UpdateSuccessRate(outcome == models.OutcomeConfirmed)

	if wallet.State == models.WalletStateLeased && wallet.PendingCount() == 0 {
		wallet.State = models.WalletStateIdle
	}

	p.persistMeta(ctx, wallet)
	p.audit.Record(address, "wallet_released", map[string]interface{}{
		"job_id":  jobID,
		"outcome": outcome,
	})
	return nil
}

// Disable permanently removes a wallet from rotation and wipes its signing
// key. Used when a wallet's nonce desyncs irrecoverably or an operator
// flags it compromised.
func (p *Pool) Disable(ctx context.Context, address, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	wallet, ok := p.wallets[address]
	if !ok {
		return ErrWalletNotFound
	}

	wallet.State = models.WalletStateDisabled
	wallet.Zeroize()
	p.persistMeta(ctx, wallet)
	p.audit.Record(address, "wallet_disabled", map[string]string{"reason": reason})
	return nil
}

// Drain marks a wallet as temporarily unavailable for new leases without
// wiping its key, e.g. while its balance is below threshold.
func (p *Pool) Drain(ctx context.Context, address string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	wallet, ok := p.wallets[address]
	if !ok {
		return ErrWalletNotFound
	}
	if wallet.State == models.WalletStateDisabled {
		return nil
	}
	wallet.State = models.WalletStateDraining
	p.persistMeta(ctx, wallet)
	return nil
}

// WalletSnapshot is a read-only view of one wallet's pool status, safe to
// export to metrics or an operator API - it never exposes key material.
type WalletSnapshot struct {
	Address       string             `json:"address"`
	State         models.WalletState `json:"state"`
	PendingCount  int                `json:"pending_count"`
	SuccessRate   float64            `json:"success_rate"`
	BalanceCached *big.Int           `json:"balance_cached,omitempty"`
	LocalNonce    uint64             `json:"local_nonce"`
	LastUsed      time.Time          `json:"last_used"`
}

// Snapshot reports every wallet's current pool status.
func (p *Pool) Snapshot() []WalletSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]WalletSnapshot, 0, len(p.order))
	for _, addr := range p.order {
		w := p.wallets[addr]
		out = append(out, WalletSnapshot{
			Address:       w.Address,
			State:         w.State,
			PendingCount:  w.PendingCount(),
			SuccessRate:   w.SuccessRate,
			BalanceCached: w.BalanceCached,
			LocalNonce:    w.LocalNonce,
			LastUsed:      w.LastUsed,
		})
	}
	return out
}

// MonitorBalances polls each wallet's on-chain balance every poll interval,
// draining any wallet that falls below the minimum threshold and
// un-draining it once topped back up. Runs until ctx is canceled.
func (p *Pool) MonitorBalances(ctx context.Context) {
	interval := p.pollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollBalancesOnce(ctx)
		}
	}
}

func (p *Pool) pollBalancesOnce(ctx context.Context) {
	p.mu.Lock()
	addrs := make([]string, len(p.order))
	copy(addrs, p.order)
	p.mu.Unlock()

	for _, addr := range addrs {
		balance, err := p.chain.Balance(ctx, addr)
		if err != nil {
			p.audit.Record(addr, "balance_poll_failed", map[string]string{"error": err.Error()})
			continue
		}

		p.mu.Lock()
		wallet, ok := p.wallets[addr]
		if !ok {
			p.mu.Unlock()
			continue
		}
		wallet.BalanceCached = balance
		belowThreshold := p.minBalance != nil && balance.Cmp(p.minBalance) < 0
		switch {
		case belowThreshold && wallet.State == models.WalletStateIdle:
			wallet.State = models.WalletStateDraining
		case !belowThreshold && wallet.State == models.WalletStateDraining:
			// Re-sync before rejoining rotation: a draining wallet may have
			// been drained for a nonce mismatch rather than low balance, so
			// its local_nonce must be refreshed from the chain before it is
			// eligible for Acquire again.
			if nonce, err := p.chain.Nonce(ctx, addr); err == nil {
				wallet.LocalNonce = nonce
			} else {
				p.audit.Record(addr, "nonce_resync_failed", map[string]string{"error": err.Error()})
			}
			wallet.State = models.WalletStateIdle
		}
		p.persistMeta(ctx, wallet)
		p.mu.Unlock()
	}
}

// persistMeta writes the wallet's non-secret metadata to the kv store. Best
// effort: a failure here does not unwind the caller's state change, it only
// means a restart will re-derive state from the chain instead of cache.
func (p *Pool) persistMeta(ctx context.Context, w *models.RelayerWallet) {
	meta := WalletSnapshot{
		Address:       w.Address,
		State:         w.State,
		PendingCount:  w.PendingCount(),
		SuccessRate:   w.SuccessRate,
		BalanceCached: w.BalanceCached,
		LocalNonce:    w.LocalNonce,
		LastUsed:      w.LastUsed,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return
	}
	_ = p.store.Set(ctx, kvstore.WalletMetaKey(w.Address), data, 0)
}
