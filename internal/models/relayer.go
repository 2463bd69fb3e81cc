package models

import (
	"math/big"
	"time"
)

// PaymentIntent is an inbound, immutable signed request to move funds.
type PaymentIntent struct {
	FromAddress string    `json:"from_address"`
	ToAddress   string    `json:"to_address"`
	Amount      *big.Int  `json:"amount"`
	Nonce       string    `json:"nonce"`
	Timestamp   time.Time `json:"timestamp"`
	Signature   []byte    `json:"signature"`
	ClientID    string    `json:"client_id"`
	APIKey      string    `json:"api_key"`
}

// CanonicalMessage is the exact message signed by the end user:
// "from:to:amount:timestamp_ms".
func (p *PaymentIntent) CanonicalMessage() []byte {
	ts := p.Timestamp.UnixMilli()
	return []byte(p.FromAddress + ":" + p.ToAddress + ":" + p.Amount.String() + ":" + itoa64(ts))
}

func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Priority orders jobs within the scheduler's priority queue.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Priorities lists every priority class, highest first - the pop order C2
// must honor across classes.
var Priorities = []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

// JobStatus is the position of a Job in its lifecycle state machine.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusLeased     JobStatus = "leased"
	JobStatusSubmitted  JobStatus = "submitted"
	JobStatusConfirmed  JobStatus = "confirmed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRolledBack JobStatus = "rolled_back"
)

// IsTerminal reports whether status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusConfirmed, JobStatusFailed, JobStatusRolledBack:
		return true
	default:
		return false
	}
}

// Job is created by the admission gate and owned by the scheduler/lifecycle
// manager thereafter.
type Job struct {
	JobID          string        `json:"job_id"`
	Intent         PaymentIntent `json:"intent"`
	Priority       Priority      `json:"priority"`
	CreatedAt      time.Time     `json:"created_at"`
	Attempt        int           `json:"attempt"`
	Status         JobStatus     `json:"status"`
	AssignedWallet string        `json:"assigned_wallet,omitempty"`
	TxHash         string        `json:"tx_hash,omitempty"`
	BlockNumber    *uint64       `json:"block_number,omitempty"`
	GasUsed        *uint64       `json:"gas_used,omitempty"`
	LastError      string        `json:"last_error,omitempty"`

	// NotBefore implements C2's backoff re-entry: a job popped before this
	// time is not yet eligible for dispatch.
	NotBefore time.Time `json:"not_before,omitempty"`
}

// HasWalletLease reports whether this job currently holds exactly one
// wallet lease, as required while leased or submitted.
func (j *Job) HasWalletLease() bool {
	return j.AssignedWallet != ""
}

// WalletState is a relayer-owned signing identity's current availability.
type WalletState string

const (
	WalletStateIdle     WalletState = "idle"
	WalletStateLeased   WalletState = "leased"
	WalletStateDraining WalletState = "draining"
	WalletStateDisabled WalletState = "disabled"
)

// RelayerWallet is one signing identity in the wallet pool. SigningKey is
// unexported: it must never be serialized, logged, or leave this process.
type RelayerWallet struct {
	Address        string
	signingKey     []byte
	BalanceCached  *big.Int
	LocalNonce     uint64
	InFlight       map[string]struct{}
	State          WalletState
	SuccessRate    float64
	LastUsed       time.Time
}

// NewRelayerWallet constructs a wallet record, copying the key so the
// caller's buffer can be zeroed independently.
func NewRelayerWallet(address string, signingKey []byte) *RelayerWallet {
	key := make([]byte, len(signingKey))
	copy(key, signingKey)
	return &RelayerWallet{
		Address:    address,
		signingKey: key,
		InFlight:   make(map[string]struct{}),
		State:      WalletStateIdle,
	}
}

// SigningKey returns a copy of the private key material. Callers must not
// retain it beyond the signing operation that needs it.
func (w *RelayerWallet) SigningKey() []byte {
	key := make([]byte, len(w.signingKey))
	copy(key, w.signingKey)
	return key
}

// Zeroize wipes the private key from memory. Must be called exactly once,
// when the wallet is permanently disabled.
func (w *RelayerWallet) Zeroize() {
	for i := range w.signingKey {
		w.signingKey[i] = 0
	}
	w.signingKey = nil
}

// PendingCount returns the number of jobs this wallet currently has in
// flight; must always equal len(InFlight) per the wallet pool invariant.
func (w *RelayerWallet) PendingCount() int {
	return len(w.InFlight)
}

// successRateSmoothing weights how fast SuccessRate reacts to a new
// outcome; 0.2 means roughly the last five outcomes dominate the average.
const successRateSmoothing = 0.2

// UpdateSuccessRate folds one terminal outcome into the wallet's rolling
// success rate via an exponential moving average. The zero value (a wallet
// that has never completed a job) is treated as a neutral 1.0 starting
// point so a fresh wallet isn't penalized against seasoned ones.
func (w *RelayerWallet) UpdateSuccessRate(success bool) {
	if w.SuccessRate == 0 {
		w.SuccessRate = 1.0
	}
	var outcome float64
	if success {
		outcome = 1.0
	}
	w.SuccessRate = (1-successRateSmoothing)*w.SuccessRate + successRateSmoothing*outcome
}

// RollbackPoint records a prepaid debit that must be credited back exactly
// once if the job it funded never reaches a confirmed terminal state.
type RollbackPoint struct {
	ClientID  string    `json:"client_id"`
	JobID     string    `json:"job_id"`
	Amount    *big.Int  `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// JobStatusRecord is the record written to the kv store on every transition
// and, optionally, published to status subscribers.
type JobStatusRecord struct {
	JobID         string    `json:"job_id"`
	Status        JobStatus `json:"status"`
	TxHash        string    `json:"tx_hash,omitempty"`
	BlockNumber   *uint64   `json:"block_number,omitempty"`
	GasUsed       *uint64   `json:"gas_used,omitempty"`
	Error         string    `json:"error,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RejectReason is the tagged sum of reasons the admission gate can reject an
// intent with. The zero value is never a valid reject reason.
type RejectReason string

const (
	RejectBadAPIKey           RejectReason = "bad_api_key"
	RejectRateLimited         RejectReason = "rate_limited"
	RejectReplay              RejectReason = "replay"
	RejectStaleTimestamp      RejectReason = "stale_timestamp"
	RejectBadSignature        RejectReason = "bad_signature"
	RejectOverAmountLimit     RejectReason = "over_amount_limit"
	RejectInsufficientPrepaid RejectReason = "insufficient_prepaid"
	RejectMalformed           RejectReason = "malformed"
	RejectQueueFull           RejectReason = "queue_full"
)

// JobOutcome classifies a terminal or retry decision produced while driving
// a job through the lifecycle manager.
type JobOutcome string

const (
	OutcomeConfirmed       JobOutcome = "confirmed"
	OutcomeRetry           JobOutcome = "retry"
	OutcomeFailed          JobOutcome = "failed"
	OutcomeRolledBack      JobOutcome = "rolled_back"
)
