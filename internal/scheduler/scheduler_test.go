package scheduler

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/express402/relayer/internal/kvstore"
	"github.com/express402/relayer/internal/models"
	"github.com/express402/relayer/internal/queue"
	"github.com/express402/relayer/internal/services/audit"
	"github.com/express402/relayer/internal/walletpool"
)

type fakeChain struct{}

func (fakeChain) Balance(ctx context.Context, address string) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}
func (fakeChain) Nonce(ctx context.Context, address string) (uint64, error) { return 0, nil }

type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	outcome models.JobOutcome
}

func (r *fakeRunner) Run(ctx context.Context, job *models.Job, lease *walletpool.Lease) (models.JobOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	job.Status = models.JobStatus(r.outcome)
	return r.outcome, nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestScheduler(t *testing.T, outcome models.JobOutcome) (*Scheduler, *queue.Queue, *fakeRunner) {
	t.Helper()
	store := kvstore.NewMemoryStore()
	q := queue.New(queue.Config{MaxQueueSize: 10, BaseRetryDelay: time.Millisecond}, store)
	wallet := models.NewRelayerWallet("0xabc", []byte{1, 2, 3, 4})
	pool := walletpool.New(walletpool.Config{MinBalanceThreshold: big.NewInt(1)}, []*models.RelayerWallet{wallet}, store, fakeChain{}, audit.NoOpLog{})
	runner := &fakeRunner{outcome: outcome}
	s := New(Config{MaxConcurrent: 1}, q, pool, runner, audit.NoOpLog{})
	return s, q, runner
}

func TestScheduler_ConfirmedJobIsNotRequeued(t *testing.T) {
	s, q, runner := newTestScheduler(t, models.OutcomeConfirmed)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.Job{JobID: "j1", Priority: models.PriorityNormal, Status: models.JobStatusQueued}))

	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	s.Run(runCtx)

	assert.Equal(t, 1, runner.callCount())
	size, err := q.VisibleLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestScheduler_RetryOutcomeIsRequeued(t *testing.T) {
	s, q, runner := newTestScheduler(t, models.OutcomeRetry)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.Job{JobID: "j1", Priority: models.PriorityNormal, Status: models.JobStatusQueued}))

	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	s.Run(runCtx)

	assert.GreaterOrEqual(t, runner.callCount(), 1)
}
