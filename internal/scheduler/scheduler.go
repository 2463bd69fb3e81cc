// Package scheduler implements the scheduler/worker pool (C3): a fixed set
// of goroutines popping from the priority queue, leasing a wallet, driving
// the job through the lifecycle manager, and re-enqueuing on retry.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/express402/relayer/internal/models"
	"github.com/express402/relayer/internal/queue"
	"github.com/express402/relayer/internal/services/audit"
	"github.com/express402/relayer/internal/walletpool"
)

// pollInterval is how often an idle worker checks the queue when it found
// nothing eligible to pop.
const pollInterval = 100 * time.Millisecond

// LifecycleRunner drives one leased job to a terminal or retry outcome.
// Satisfied by *lifecycle.Manager; narrowed to an interface so the
// scheduler can be tested without a live chain adapter.
type LifecycleRunner interface {
	Run(ctx context.Context, job *models.Job, lease *walletpool.Lease) (models.JobOutcome, error)
}

// Scheduler runs up to maxConcurrent workers, each pop-lease-run-release.
type Scheduler struct {
	queue     *queue.Queue
	wallets   *walletpool.Pool
	lifecycle LifecycleRunner
	audit     audit.Log

	maxConcurrent int
	inFlight      int32

	wg sync.WaitGroup
}

// Config carries the scheduler-relevant subset of relayer configuration.
type Config struct {
	MaxConcurrent int
}

// New builds a scheduler over the given collaborators.
func New(cfg Config, q *queue.Queue, wallets *walletpool.Pool, lifecycleMgr LifecycleRunner, auditLog audit.Log) *Scheduler {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Scheduler{
		queue:         q,
		wallets:       wallets,
		lifecycle:     lifecycleMgr,
		audit:         auditLog,
		maxConcurrent: maxConcurrent,
	}
}

// Run starts maxConcurrent worker goroutines and blocks until ctx is
// canceled, then waits for every in-flight job to reach a terminal state or
// be persisted back to queued before returning.
func (s *Scheduler) Run(ctx context.Context) {
	s.wg.Add(s.maxConcurrent)
	for i := 0; i < s.maxConcurrent; i++ {
		go func() {
			defer s.wg.Done()
			s.worker(ctx)
		}()
	}
	s.wg.Wait()
}

func (s *Scheduler) worker(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := s.queue.Pop(ctx)
			if err != nil {
				s.audit.Record("scheduler", "pop_failed", map[string]string{"error": err.Error()})
				continue
			}
			if job == nil {
				continue
			}
			s.process(ctx, job)
		}
	}
}

// process leases a wallet for job and drives it to completion, guaranteeing
// the lease is released on every exit path (including a cancellation that
// interrupts lifecycle.Run) and that a non-terminal outcome is re-enqueued
// through the queue's backoff path rather than dropped.
func (s *Scheduler) process(ctx context.Context, job *models.Job) {
	atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)

	lease, err := s.wallets.Acquire(ctx, job.JobID)
	if err != nil {
		// No wallet available right now: put the job back and try again
		// on the next poll rather than losing it.
		job.Status = models.JobStatusQueued
		if reErr := s.queue.Enqueue(ctx, job); reErr != nil {
			s.audit.Record(job.JobID, "requeue_after_no_wallet_failed", map[string]string{"error": reErr.Error()})
		}
		return
	}

	outcome, err := s.lifecycle.Run(ctx, job, lease)
	if err != nil {
		s.audit.Record(job.JobID, "lifecycle_run_error", map[string]string{"error": err.Error()})
	}

	if releaseErr := s.wallets.Release(ctx, lease.Wallet.Address, job.JobID, outcome); releaseErr != nil {
		s.audit.Record(lease.Wallet.Address, "wallet_release_failed", map[string]string{"error": releaseErr.Error()})
	}

	switch outcome {
	case models.OutcomeRetry:
		job.Attempt++
		if reErr := s.queue.Requeue(ctx, job); reErr != nil {
			s.audit.Record(job.JobID, "requeue_failed", map[string]string{"error": reErr.Error()})
		}
	case models.OutcomeConfirmed, models.OutcomeFailed, models.OutcomeRolledBack:
		if saveErr := s.queue.SaveJob(ctx, job); saveErr != nil {
			s.audit.Record(job.JobID, "save_terminal_job_failed", map[string]string{"error": saveErr.Error()})
		}
	}
}

// InFlight returns the number of jobs currently leased and being driven
// through the lifecycle manager, for GetQueueStatus reporting.
func (s *Scheduler) InFlight() int {
	return int(atomic.LoadInt32(&s.inFlight))
}

// MaxConcurrent returns the configured worker count.
func (s *Scheduler) MaxConcurrent() int {
	return s.maxConcurrent
}
