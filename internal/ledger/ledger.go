// Package ledger implements the prepaid balance the admission gate debits
// on acceptance and the lifecycle manager credits back on rollback.
//
// The kv store's primitives (get/set/set_if_absent/incr) give per-key
// linearizability but no compare-and-swap, so balance mutation needs a
// critical section. The relayer is a single process (spec's concurrency
// model is explicitly single-process cooperative tasks), so a per-client
// in-process mutex is sufficient to make debit atomic with its
// balance-sufficiency check; a distributed deployment would need the kv
// backend's scripting support (e.g. a Redis Lua script) instead.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/express402/relayer/internal/kvstore"
)

// ErrInsufficientBalance is returned by Debit when balance < amount.
var ErrInsufficientBalance = fmt.Errorf("ledger: insufficient prepaid balance")

// Ledger tracks a non-negative balance per client_id.
type Ledger struct {
	store kvstore.Store
	ttl   time.Duration

	mu        sync.Mutex
	clientMus map[string]*sync.Mutex
}

// New creates a ledger backed by store. ttl bounds how long a balance
// record survives without being touched (default TTL per spec: 24h).
func New(store kvstore.Store, ttl time.Duration) *Ledger {
	return &Ledger{
		store:     store,
		ttl:       ttl,
		clientMus: make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) lockFor(clientID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.clientMus[clientID]
	if !ok {
		m = &sync.Mutex{}
		l.clientMus[clientID] = m
	}
	return m
}

// Balance returns clientID's current balance, or zero if never credited.
func (l *Ledger) Balance(ctx context.Context, clientID string) (*big.Int, error) {
	raw, err := l.store.Get(ctx, kvstore.PrepaidKey(clientID))
	if err == kvstore.ErrNotFound {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}

	balance, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("ledger: corrupt balance for %s", clientID)
	}
	return balance, nil
}

// Credit adds amount to clientID's balance and returns the new balance.
func (l *Ledger) Credit(ctx context.Context, clientID string, amount *big.Int) (*big.Int, error) {
	mu := l.lockFor(clientID)
	mu.Lock()
	defer mu.Unlock()

	balance, err := l.Balance(ctx, clientID)
	if err != nil {
		return nil, err
	}

	newBalance := new(big.Int).Add(balance, amount)
	if err := l.store.Set(ctx, kvstore.PrepaidKey(clientID), []byte(newBalance.String()), l.ttl); err != nil {
		return nil, err
	}
	return newBalance, nil
}

// Debit atomically checks balance >= amount and subtracts amount, or
// returns ErrInsufficientBalance without mutating anything. The ledger
// invariant (never negative) is enforced here.
func (l *Ledger) Debit(ctx context.Context, clientID string, amount *big.Int) (*big.Int, error) {
	mu := l.lockFor(clientID)
	mu.Lock()
	defer mu.Unlock()

	balance, err := l.Balance(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}

	newBalance := new(big.Int).Sub(balance, amount)
	if err := l.store.Set(ctx, kvstore.PrepaidKey(clientID), []byte(newBalance.String()), l.ttl); err != nil {
		return nil, err
	}
	return newBalance, nil
}
