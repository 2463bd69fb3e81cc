// Package admission implements the admission gate (C1): the synchronous,
// side-effect-ordered pipeline that turns a signed PaymentIntent into a
// queued Job or a rejection with no side effects.
package admission

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/express402/relayer/internal/kvstore"
	"github.com/express402/relayer/internal/ledger"
	"github.com/express402/relayer/internal/models"
	"github.com/express402/relayer/internal/queue"
	"github.com/express402/relayer/internal/services/audit"
	"github.com/express402/relayer/internal/services/ratelimit"
)

// RejectError reports why Admit declined an intent. No side effects are
// committed when this is returned.
type RejectError struct {
	Reason models.RejectReason
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("admission: rejected (%s)", e.Reason)
}

// Gate is the admission pipeline. It holds no wallet or chain state - only
// what it needs to validate and account for an intent.
type Gate struct {
	store     kvstore.Store
	limiter   *ratelimit.Limiter
	ledger    *ledger.Ledger
	queue     *queue.Queue
	audit     audit.Log
	apiKeys   map[string]string // client_id -> expected api_key
	signatureWindow time.Duration
	replayTTL       time.Duration
	rollbackTTL     time.Duration
	maxAmount       *big.Int
}

// Config carries the admission-relevant subset of relayer configuration.
type Config struct {
	APIKeys              map[string]string
	SignatureWindow      time.Duration
	ReplayTTL            time.Duration
	RollbackTTL          time.Duration
	MaxTransactionAmount *big.Int
}

// New builds an admission gate over the given collaborators.
func New(cfg Config, store kvstore.Store, limiter *ratelimit.Limiter, led *ledger.Ledger, q *queue.Queue, auditLog audit.Log) *Gate {
	return &Gate{
		store:           store,
		limiter:         limiter,
		ledger:          led,
		queue:           q,
		audit:           auditLog,
		apiKeys:         cfg.APIKeys,
		signatureWindow: cfg.SignatureWindow,
		replayTTL:       cfg.ReplayTTL,
		rollbackTTL:     cfg.RollbackTTL,
		maxAmount:       cfg.MaxTransactionAmount,
	}
}

// Admit runs the mandatory-order admission algorithm and either returns a
// freshly assigned job_id or a RejectError. Steps 3 (replay insert) and 6
// (prepaid debit) are the only steps with externally visible side effects;
// if enqueue (step 7) fails after a successful debit, both are rolled back.
func (g *Gate) Admit(ctx context.Context, intent models.PaymentIntent) (string, error) {
	// Step 1: API key.
	expected, ok := g.apiKeys[intent.ClientID]
	if !ok || subtle.ConstantTimeCompare([]byte(expected), []byte(intent.APIKey)) != 1 {
		return "", &RejectError{Reason: models.RejectBadAPIKey}
	}

	// Step 2: rate limit.
	allowed, err := g.limiter.Allow(ctx, intent.ClientID)
	if err != nil {
		return "", fmt.Errorf("admission: rate limit check failed: %w", err)
	}
	if !allowed {
		return "", &RejectError{Reason: models.RejectRateLimited}
	}

	// Step 3: freshness + replay (atomic set-if-absent).
	// An intent exactly at the window edge is admitted (age > window rejects,
	// age == window does not); boundary behavior, not load-bearing elsewhere.
	if age := absDuration(time.Since(intent.Timestamp)); age > g.signatureWindow {
		return "", &RejectError{Reason: models.RejectStaleTimestamp}
	}

	replayKey := kvstore.NonceSeenKey(intent.FromAddress, intent.Nonce)
	inserted, err := g.store.SetIfAbsent(ctx, replayKey, []byte("1"), g.replayTTL)
	if err != nil {
		return "", fmt.Errorf("admission: replay check failed: %w", err)
	}
	if !inserted {
		return "", &RejectError{Reason: models.RejectReplay}
	}

	// Step 4: signature.
	signer, err := recoverSigner(intent)
	if err != nil || !strings.EqualFold(signer, intent.FromAddress) {
		g.store.Del(ctx, replayKey)
		return "", &RejectError{Reason: models.RejectBadSignature}
	}

	// Step 5: amount policy.
	if g.maxAmount != nil && intent.Amount.Cmp(g.maxAmount) > 0 {
		g.store.Del(ctx, replayKey)
		return "", &RejectError{Reason: models.RejectOverAmountLimit}
	}

	// Step 6: prepaid debit.
	jobID := uuid.NewString()
	if _, err := g.ledger.Debit(ctx, intent.ClientID, intent.Amount); err != nil {
		g.store.Del(ctx, replayKey)
		if err == ledger.ErrInsufficientBalance {
			return "", &RejectError{Reason: models.RejectInsufficientPrepaid}
		}
		return "", fmt.Errorf("admission: prepaid debit failed: %w", err)
	}

	rollback := models.RollbackPoint{
		ClientID:  intent.ClientID,
		JobID:     jobID,
		Amount:    intent.Amount,
		CreatedAt: time.Now(),
	}
	if err := g.persistRollbackPoint(ctx, rollback); err != nil {
		g.creditBack(ctx, intent.ClientID, intent.Amount)
		g.store.Del(ctx, replayKey)
		return "", fmt.Errorf("admission: failed to persist rollback point: %w", err)
	}

	// Step 7: enqueue.
	job := &models.Job{
		JobID:     jobID,
		Intent:    intent,
		Priority:  models.PriorityNormal,
		CreatedAt: time.Now(),
		Status:    models.JobStatusQueued,
	}

	if err := g.queue.Enqueue(ctx, job); err != nil {
		g.store.Del(ctx, kvstore.RollbackKey(jobID))
		g.creditBack(ctx, intent.ClientID, intent.Amount)
		g.store.Del(ctx, replayKey)

		if err == queue.ErrQueueFull {
			return "", &RejectError{Reason: models.RejectQueueFull}
		}
		return "", fmt.Errorf("admission: enqueue failed: %w", err)
	}

	g.audit.Record(jobID, "admitted", job)
	return jobID, nil
}

func (g *Gate) creditBack(ctx context.Context, clientID string, amount *big.Int) {
	if _, err := g.ledger.Credit(ctx, clientID, amount); err != nil {
		g.audit.Record(clientID, "rollback_credit_failed", map[string]string{"error": err.Error()})
	}
}

func (g *Gate) persistRollbackPoint(ctx context.Context, rp models.RollbackPoint) error {
	data, err := json.Marshal(rp)
	if err != nil {
		return err
	}
	return g.store.Set(ctx, kvstore.RollbackKey(rp.JobID), data, g.rollbackTTL)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// recoverSigner recovers the address that produced intent.Signature over
// the canonical message, per the protocol's verify_message contract.
func recoverSigner(intent models.PaymentIntent) (string, error) {
	hash := crypto.Keccak256(intent.CanonicalMessage())

	sig := make([]byte, len(intent.Signature))
	copy(sig, intent.Signature)
	if len(sig) == 65 && (sig[64] == 27 || sig[64] == 28) {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return "", fmt.Errorf("signature recovery failed: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey).Hex(), nil
}
