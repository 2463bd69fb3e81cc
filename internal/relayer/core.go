// Package relayer wires the admission gate (C1), priority queue (C2),
// scheduler (C3), wallet pool (C4), and lifecycle manager (C5) into the
// single public surface a transport (HTTP, gRPC, CLI) calls into.
package relayer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/express402/relayer/internal/admission"
	"github.com/express402/relayer/internal/kvstore"
	"github.com/express402/relayer/internal/ledger"
	"github.com/express402/relayer/internal/lifecycle"
	"github.com/express402/relayer/internal/models"
	"github.com/express402/relayer/internal/queue"
	"github.com/express402/relayer/internal/scheduler"
	"github.com/express402/relayer/internal/services/audit"
	"github.com/express402/relayer/internal/services/ratelimit"
	"github.com/express402/relayer/internal/walletpool"
)

// ErrJobNotFound is returned by GetJobStatus when no status record exists
// for the given job_id, either because it never existed or because its TTL
// has expired.
var ErrJobNotFound = fmt.Errorf("relayer: job not found")

// Chain is the full surface Core needs from the chain layer: everything the
// wallet pool needs for nonce/balance tracking plus everything the
// lifecycle manager needs to build, sign, broadcast, and track a
// transaction. *chain.Service satisfies this; tests can substitute a fake.
type Chain interface {
	lifecycle.ChainTransactor
	walletpool.ChainBalanceNoncer
}

// Core is the assembled relayer: every component from C1 through C5 plus
// their shared collaborators, behind the methods a transport layer drives.
type Core struct {
	gate      *admission.Gate
	queue     *queue.Queue
	wallets   *walletpool.Pool
	lifecycle *lifecycle.Manager
	scheduler *scheduler.Scheduler
	ledger    *ledger.Ledger
	chain     Chain
	store     kvstore.Store
	audit     audit.Log
	log       *zap.Logger
}

// Config groups the already-constructed collaborators Core wires together.
// Building each of these (from config.Config, a kvstore.Store, a
// chain.Service, and a provisioned wallet set) is the caller's job -
// typically cmd/relayer/main.go.
type Config struct {
	Store     kvstore.Store
	Chain     Chain
	Wallets   []*models.RelayerWallet
	Audit     audit.Log
	Logger    *zap.Logger
	APIKeys   map[string]string

	Admission    admission.Config
	Queue        queue.Config
	WalletPool   walletpool.Config
	Lifecycle    lifecycle.Config
	Scheduler    scheduler.Config
	LedgerTTL    time.Duration
	RateLimit    int64
	RateWindow   time.Duration
}

// New assembles every component and returns the ready-to-run Core. It does
// not start any background goroutine; call Run for that.
func New(cfg Config) *Core {
	if cfg.Audit == nil {
		cfg.Audit = audit.NoOpLog{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	led := ledger.New(cfg.Store, cfg.LedgerTTL)
	limiter := ratelimit.NewLimiter(cfg.Store, cfg.RateLimit, cfg.RateWindow)
	q := queue.New(cfg.Queue, cfg.Store)

	admissionCfg := cfg.Admission
	admissionCfg.APIKeys = cfg.APIKeys
	gate := admission.New(admissionCfg, cfg.Store, limiter, led, q, cfg.Audit)

	pool := walletpool.New(cfg.WalletPool, cfg.Wallets, cfg.Store, cfg.Chain, cfg.Audit)
	lifecycleMgr := lifecycle.New(cfg.Lifecycle, cfg.Chain, led, cfg.Store, pool, cfg.Audit)
	sched := scheduler.New(cfg.Scheduler, q, pool, lifecycleMgr, cfg.Audit)

	return &Core{
		gate:      gate,
		queue:     q,
		wallets:   pool,
		lifecycle: lifecycleMgr,
		scheduler: sched,
		ledger:    led,
		chain:     cfg.Chain,
		store:     cfg.Store,
		audit:     cfg.Audit,
		log:       cfg.Logger,
	}
}

// Run initializes wallet nonces from the chain, starts the wallet pool's
// balance monitor in the background, and runs the scheduler's worker pool
// until ctx is canceled.
func (c *Core) Run(ctx context.Context) error {
	c.log.Info("initializing wallet nonces", zap.Int("wallet_count", len(c.wallets.Snapshot())))
	if err := c.wallets.InitNonces(ctx); err != nil {
		return fmt.Errorf("relayer: failed to initialize wallet nonces: %w", err)
	}

	go c.wallets.MonitorBalances(ctx)
	c.log.Info("wallet balance monitor started")

	c.log.Info("scheduler starting", zap.Int("max_concurrent", c.scheduler.MaxConcurrent()))
	c.scheduler.Run(ctx)
	c.log.Info("scheduler stopped")
	return nil
}

// SubmitIntent runs the admission gate over intent and returns the assigned
// job_id, or the RejectError admission.Gate produced.
func (c *Core) SubmitIntent(ctx context.Context, intent models.PaymentIntent) (string, error) {
	return c.gate.Admit(ctx, intent)
}

// GetJobStatus returns the most recently published status for jobID.
func (c *Core) GetJobStatus(ctx context.Context, jobID string) (*models.JobStatusRecord, error) {
	raw, err := c.store.Get(ctx, kvstore.JobStatusKey(jobID))
	if err == kvstore.ErrNotFound {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	var record models.JobStatusRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("relayer: corrupt job status for %s: %w", jobID, err)
	}
	return &record, nil
}

// QueueStatus reports the scheduler and queue's current load.
type QueueStatus struct {
	QueuedByPriority map[models.Priority]int64 `json:"queued_by_priority"`
	InFlight         int                       `json:"in_flight"`
	MaxConcurrent    int                       `json:"max_concurrent"`
}

// GetQueueStatus reports current backlog depth per priority plus the
// scheduler's in-flight and max-concurrent worker counts.
func (c *Core) GetQueueStatus(ctx context.Context) (*QueueStatus, error) {
	sizes, err := c.queue.SizeByPriority(ctx)
	if err != nil {
		return nil, err
	}
	return &QueueStatus{
		QueuedByPriority: sizes,
		InFlight:         c.scheduler.InFlight(),
		MaxConcurrent:    c.scheduler.MaxConcurrent(),
	}, nil
}

// ListWallets reports every relayer wallet's current pool status.
func (c *Core) ListWallets() []walletpool.WalletSnapshot {
	return c.wallets.Snapshot()
}

// CreditPrepaid adds amount to clientID's prepaid balance and returns the
// new balance. This is an operator/billing operation, never triggered by an
// end-user PaymentIntent.
func (c *Core) CreditPrepaid(ctx context.Context, clientID string, amount *big.Int) (*big.Int, error) {
	return c.ledger.Credit(ctx, clientID, amount)
}

// GetPrepaidBalance returns clientID's current prepaid balance.
func (c *Core) GetPrepaidBalance(ctx context.Context, clientID string) (*big.Int, error) {
	return c.ledger.Balance(ctx, clientID)
}

// ForceRollback is a privileged operator operation that credits back the
// RollbackPoint of a job whose published status is failed. applied is false
// if the job has no status record, its status is anything other than
// failed, or no RollbackPoint remains for it.
func (c *Core) ForceRollback(ctx context.Context, jobID string) (applied bool, err error) {
	record, err := c.GetJobStatus(ctx, jobID)
	if err == ErrJobNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if record.Status != models.JobStatusFailed {
		return false, nil
	}
	return lifecycle.ApplyRollback(ctx, c.store, c.ledger, jobID)
}

// DisableWallet permanently removes a wallet from rotation, e.g. when an
// operator flags it compromised.
func (c *Core) DisableWallet(ctx context.Context, address, reason string) error {
	return c.wallets.Disable(ctx, address, reason)
}
