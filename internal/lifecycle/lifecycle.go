// Package lifecycle implements the transaction lifecycle manager (C5): the
// state machine that takes a leased job from build through sign, submit,
// and confirmation wait to a terminal outcome.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/express402/relayer/chainkit"
	"github.com/express402/relayer/internal/chain"
	"github.com/express402/relayer/internal/kvstore"
	"github.com/express402/relayer/internal/ledger"
	"github.com/express402/relayer/internal/models"
	"github.com/express402/relayer/internal/services/audit"
	"github.com/express402/relayer/internal/walletpool"
)

// WalletDrainer is the subset of walletpool.Pool the manager needs to
// signal a nonce-mismatch re-sync, kept narrow so tests can fake it.
type WalletDrainer interface {
	Drain(ctx context.Context, address string) error
}

// ChainTransactor is the subset of chain.Service the manager needs to
// build, sign, broadcast, and track a transaction, kept narrow so tests can
// drive the lifecycle against a fake chain instead of a live RPC endpoint.
type ChainTransactor interface {
	BuildTransaction(ctx context.Context, req *chainkit.TransactionRequest) (*chainkit.UnsignedTransaction, error)
	EstimateFee(ctx context.Context, req *chainkit.TransactionRequest) (*chainkit.FeeEstimate, error)
	SignTransaction(ctx context.Context, unsigned *chainkit.UnsignedTransaction, signer chainkit.Signer) (*chainkit.SignedTransaction, error)
	BroadcastTransaction(ctx context.Context, signed *chainkit.SignedTransaction) (*chainkit.BroadcastReceipt, error)
	SubscribeStatus(ctx context.Context, txHash string) (<-chan *chainkit.TransactionStatus, error)
}

// Config carries the lifecycle-relevant subset of relayer configuration.
type Config struct {
	GasLimit           uint64
	GasPriceMultiplier float64
	MinGasPrice        *big.Int
	MaxGasPrice        *big.Int
	ConfirmationBlocks int
	MaxAttempts        int
	ProcessingTimeout  time.Duration
	JobStatusTTL       time.Duration
}

// Manager drives jobs through build, sign, submit, and confirmation.
type Manager struct {
	chain   ChainTransactor
	ledger  *ledger.Ledger
	store   kvstore.Store
	wallets WalletDrainer
	audit   audit.Log

	gasLimit           uint64
	gasPriceMultiplier float64
	minGasPrice        *big.Int
	maxGasPrice        *big.Int
	confirmationBlocks int
	maxAttempts        int
	processingTimeout  time.Duration
	jobStatusTTL       time.Duration
}

// New builds a lifecycle manager over the given collaborators.
func New(cfg Config, chainSvc ChainTransactor, led *ledger.Ledger, store kvstore.Store, wallets WalletDrainer, auditLog audit.Log) *Manager {
	if cfg.JobStatusTTL == 0 {
		cfg.JobStatusTTL = time.Hour
	}
	if cfg.ProcessingTimeout == 0 {
		cfg.ProcessingTimeout = 300 * time.Second
	}
	if cfg.ConfirmationBlocks == 0 {
		cfg.ConfirmationBlocks = 1
	}
	return &Manager{
		chain:              chainSvc,
		ledger:             led,
		store:              store,
		wallets:            wallets,
		audit:              auditLog,
		gasLimit:           cfg.GasLimit,
		gasPriceMultiplier: cfg.GasPriceMultiplier,
		minGasPrice:        cfg.MinGasPrice,
		maxGasPrice:        cfg.MaxGasPrice,
		confirmationBlocks: cfg.ConfirmationBlocks,
		maxAttempts:        cfg.MaxAttempts,
		processingTimeout:  cfg.ProcessingTimeout,
		jobStatusTTL:       cfg.JobStatusTTL,
	}
}

// Run drives job from leased through submission to a terminal or retry
// outcome, using lease's wallet to sign. It never re-enqueues: the caller
// (the scheduler) is responsible for acting on OutcomeRetry.
func (m *Manager) Run(ctx context.Context, job *models.Job, lease *walletpool.Lease) (models.JobOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, m.processingTimeout)
	defer cancel()

	job.Status = models.JobStatusLeased
	job.AssignedWallet = lease.Wallet.Address
	m.publishStatus(ctx, job, "")

	unsigned, err := m.build(ctx, job, lease)
	if err != nil {
		return m.classify(ctx, job, lease, err)
	}

	signed, err := m.sign(ctx, unsigned, lease)
	if err != nil {
		return m.classify(ctx, job, lease, err)
	}

	receipt, err := m.chain.BroadcastTransaction(ctx, signed)
	if err != nil {
		return m.classify(ctx, job, lease, err)
	}

	job.Status = models.JobStatusSubmitted
	job.TxHash = receipt.TxHash
	m.publishStatus(ctx, job, "")

	status, err := m.awaitConfirmation(ctx, receipt.TxHash)
	if err != nil {
		return m.classify(ctx, job, lease, err)
	}

	job.Status = models.JobStatusConfirmed
	job.BlockNumber = status.BlockNumber
	if status.Error == nil {
		// gas_used is not carried on TransactionStatus; left nil when the
		// adapter does not report it.
	}
	// The debit stands: consume the RollbackPoint without applying it.
	if err := m.store.Del(ctx, kvstore.RollbackKey(job.JobID)); err != nil {
		m.audit.Record(job.JobID, "rollback_consume_failed", map[string]string{"error": err.Error()})
	}
	m.publishStatus(ctx, job, "")
	return models.OutcomeConfirmed, nil
}

func (m *Manager) build(ctx context.Context, job *models.Job, lease *walletpool.Lease) (*chainkit.UnsignedTransaction, error) {
	req := &chainkit.TransactionRequest{
		From:     lease.Wallet.Address,
		To:       job.Intent.ToAddress,
		Asset:    "ETH",
		Amount:   job.Intent.Amount,
		FeeSpeed: chainkit.FeeSpeedNormal,
		ChainSpecific: map[string]interface{}{
			"gas_limit": m.gasLimit,
			"nonce":     lease.Nonce,
		},
	}

	estimate, err := m.chain.EstimateFee(ctx, req)
	if err != nil {
		return nil, err
	}
	req.MaxFee = m.boundedFee(estimate.Recommended)

	return m.chain.BuildTransaction(ctx, req)
}

// boundedFee applies gas_price_multiplier to the adapter's recommended fee
// and clamps it to [min_gas_price, max_gas_price].
func (m *Manager) boundedFee(recommended *big.Int) *big.Int {
	if recommended == nil {
		return nil
	}
	multiplier := m.gasPriceMultiplier
	if multiplier <= 0 {
		multiplier = 1.0
	}

	scaled := new(big.Float).Mul(new(big.Float).SetInt(recommended), big.NewFloat(multiplier))
	fee, _ := scaled.Int(nil)

	if m.minGasPrice != nil && fee.Cmp(m.minGasPrice) < 0 {
		fee = m.minGasPrice
	}
	if m.maxGasPrice != nil && fee.Cmp(m.maxGasPrice) > 0 {
		fee = m.maxGasPrice
	}
	return fee
}

func (m *Manager) sign(ctx context.Context, unsigned *chainkit.UnsignedTransaction, lease *walletpool.Lease) (*chainkit.SignedTransaction, error) {
	key := lease.Wallet.SigningKey()
	defer zero(key)

	signer, err := chain.NewWalletSigner(key, lease.Wallet.Address)
	if err != nil {
		return nil, err
	}
	return m.chain.SignTransaction(ctx, unsigned, signer)
}

// awaitConfirmation polls the chain adapter's status stream until
// confirmation_blocks pass, a permanent failure is reported, or ctx expires.
func (m *Manager) awaitConfirmation(ctx context.Context, txHash string) (*chainkit.TransactionStatus, error) {
	updates, err := m.chain.SubscribeStatus(ctx, txHash)
	if err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, chainkit.NewRetryableError(chainkit.ErrCodeRPCTimeout, "processing_timeout exceeded while awaiting confirmation", nil, ctx.Err())
		case status, ok := <-updates:
			if !ok {
				return nil, chainkit.NewRetryableError(chainkit.ErrCodeRPCTimeout, "status stream closed before confirmation", nil, nil)
			}
			if status.Error != nil {
				return nil, status.Error
			}
			switch status.Status {
			case chainkit.TxStatusFailed:
				return nil, chainkit.NewNonRetryableError("ERR_TX_REVERTED", "transaction reverted", nil)
			case chainkit.TxStatusConfirmed, chainkit.TxStatusFinalized:
				if status.Confirmations >= m.confirmationBlocks {
					return status, nil
				}
			}
		}
	}
}

// classify turns a chain/build/sign error into a terminal or retry outcome,
// applying rollback on permanent failure and signaling a nonce re-sync on
// nonce-mismatch.
func (m *Manager) classify(ctx context.Context, job *models.Job, lease *walletpool.Lease, cause error) (models.JobOutcome, error) {
	var chainErr *chainkit.ChainError
	if errors.As(cause, &chainErr) {
		job.LastError = chainErr.Message

		if chainErr.Code == chainkit.ErrCodeNonceTooLow {
			if drainErr := m.wallets.Drain(ctx, lease.Wallet.Address); drainErr != nil {
				m.audit.Record(lease.Wallet.Address, "wallet_drain_failed", map[string]string{"error": drainErr.Error()})
			}
			return m.retryOrFail(ctx, job, cause)
		}

		switch chainErr.Classification {
		case chainkit.Retryable:
			return m.retryOrFail(ctx, job, cause)
		default:
			return m.fail(ctx, job, cause)
		}
	}

	job.LastError = cause.Error()
	return m.retryOrFail(ctx, job, cause)
}

func (m *Manager) retryOrFail(ctx context.Context, job *models.Job, cause error) (models.JobOutcome, error) {
	if m.maxAttempts > 0 && job.Attempt+1 >= m.maxAttempts {
		return m.fail(ctx, job, cause)
	}
	job.Status = models.JobStatusQueued
	m.publishStatus(ctx, job, cause.Error())
	return models.OutcomeRetry, nil
}

// fail transitions job to failed, re-credits the client's prepaid ledger by
// the RollbackPoint amount, deletes the RollbackPoint, and records the
// terminal rolled_back status.
func (m *Manager) fail(ctx context.Context, job *models.Job, cause error) (models.JobOutcome, error) {
	job.Status = models.JobStatusFailed
	m.publishStatus(ctx, job, cause.Error())

	if err := m.applyRollback(ctx, job); err != nil {
		m.audit.Record(job.JobID, "rollback_apply_failed", map[string]string{"error": err.Error()})
		return models.OutcomeFailed, nil
	}

	job.Status = models.JobStatusRolledBack
	m.publishStatus(ctx, job, cause.Error())
	return models.OutcomeRolledBack, nil
}

func (m *Manager) applyRollback(ctx context.Context, job *models.Job) error {
	_, err := ApplyRollback(ctx, m.store, m.ledger, job.JobID)
	return err
}

// ApplyRollback credits clientID's prepaid ledger by the RollbackPoint
// recorded for jobID, then deletes the point, making it safe to call at
// most once per rollback. Returns applied=false if no RollbackPoint exists
// (already consumed, or the job never reached the debit step) rather than
// an error: force_rollback's "not_applicable" case per spec.md §6.
func ApplyRollback(ctx context.Context, store kvstore.Store, led *ledger.Ledger, jobID string) (applied bool, err error) {
	raw, err := store.Get(ctx, kvstore.RollbackKey(jobID))
	if err == kvstore.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var rp models.RollbackPoint
	if err := json.Unmarshal(raw, &rp); err != nil {
		return false, fmt.Errorf("lifecycle: corrupt rollback point for %s: %w", jobID, err)
	}

	if _, err := led.Credit(ctx, rp.ClientID, rp.Amount); err != nil {
		return false, err
	}
	if err := store.Del(ctx, kvstore.RollbackKey(jobID)); err != nil {
		return false, err
	}
	return true, nil
}

// publishStatus writes job's current status to job_status:{job_id} with the
// configured TTL. Best-effort: a write failure is audited, never returned,
// since the in-memory job struct remains the source of truth for the
// caller's own decision-making this call.
func (m *Manager) publishStatus(ctx context.Context, job *models.Job, errMsg string) {
	record := models.JobStatusRecord{
		JobID:       job.JobID,
		Status:      job.Status,
		TxHash:      job.TxHash,
		BlockNumber: job.BlockNumber,
		GasUsed:     job.GasUsed,
		Error:       errMsg,
		UpdatedAt:   time.Now(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := m.store.Set(ctx, kvstore.JobStatusKey(job.JobID), data, m.jobStatusTTL); err != nil {
		m.audit.Record(job.JobID, "status_publish_failed", map[string]string{"error": err.Error()})
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
