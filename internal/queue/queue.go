// Package queue implements the priority queue (C2): a durable,
// priority-ordered backlog backed by the kv store's lists. There is no
// in-memory mirror: size reporting also reads the store's list lengths.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/express402/relayer/internal/kvstore"
	"github.com/express402/relayer/internal/models"
)

// ErrQueueFull is returned by Enqueue when max_queue_size is reached.
var ErrQueueFull = fmt.Errorf("queue: max_queue_size reached")

// Queue is the durable, priority-ordered job backlog. The kv store is the
// source of truth; pop always consults it directly.
type Queue struct {
	store       kvstore.Store
	maxSize     int64
	jobTTL      time.Duration
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// Config carries the queue-relevant subset of relayer configuration.
type Config struct {
	MaxQueueSize   int64
	JobTTL         time.Duration
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
}

// New creates a priority queue over store.
func New(cfg Config, store kvstore.Store) *Queue {
	jobTTL := cfg.JobTTL
	if jobTTL == 0 {
		jobTTL = time.Hour
	}
	return &Queue{
		store:     store,
		maxSize:   cfg.MaxQueueSize,
		jobTTL:    jobTTL,
		baseDelay: cfg.BaseRetryDelay,
		maxDelay:  cfg.MaxRetryDelay,
	}
}

// Enqueue persists job (status must already be models.JobStatusQueued) and
// pushes its job_id into its priority's list. Returns ErrQueueFull if doing
// so would exceed max_queue_size.
func (q *Queue) Enqueue(ctx context.Context, job *models.Job) error {
	total, err := q.VisibleLen(ctx)
	if err != nil {
		return err
	}
	if q.maxSize > 0 && total >= q.maxSize {
		return ErrQueueFull
	}

	if err := q.persistJob(ctx, job); err != nil {
		return err
	}

	return q.store.LPush(ctx, kvstore.QueueKey(string(job.Priority)), []byte(job.JobID))
}

// Requeue re-enqueues job at the tail of its original priority class after
// an exponential backoff delay: base_delay * 2^(attempt-1), capped at
// max_delay. Used by C3 on a retry outcome.
func (q *Queue) Requeue(ctx context.Context, job *models.Job) error {
	delay := q.backoffDelay(job.Attempt)
	job.NotBefore = time.Now().Add(delay)
	job.Status = models.JobStatusQueued
	job.AssignedWallet = ""

	if err := q.persistJob(ctx, job); err != nil {
		return err
	}
	return q.store.LPush(ctx, kvstore.QueueKey(string(job.Priority)), []byte(job.JobID))
}

func (q *Queue) backoffDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return q.baseDelay
	}
	delay := q.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if q.maxDelay > 0 && delay >= q.maxDelay {
			return q.maxDelay
		}
	}
	return delay
}

// Pop removes and returns the highest-priority eligible job, or nil if the
// queue has none ready. A job whose NotBefore is still in the future is put
// back and skipped, bounded by each priority list's length at call time so
// this never loops indefinitely.
func (q *Queue) Pop(ctx context.Context) (*models.Job, error) {
	for _, priority := range models.Priorities {
		job, err := q.popEligible(ctx, priority)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}
	}
	return nil, nil
}

func (q *Queue) popEligible(ctx context.Context, priority models.Priority) (*models.Job, error) {
	key := kvstore.QueueKey(string(priority))

	n, err := q.store.LLen(ctx, key)
	if err != nil {
		return nil, err
	}

	for i := int64(0); i < n; i++ {
		idBytes, err := q.store.RPop(ctx, key)
		if err == kvstore.ErrNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		jobID := string(idBytes)
		job, err := q.loadJob(ctx, jobID)
		if err != nil {
			// The job record vanished (expired/removed); drop the stale id.
			continue
		}

		if !job.NotBefore.IsZero() && time.Now().Before(job.NotBefore) {
			// Not eligible yet: put it back at the head for a later pop.
			if pushErr := q.store.LPush(ctx, key, idBytes); pushErr != nil {
				return nil, pushErr
			}
			continue
		}

		return job, nil
	}

	return nil, nil
}

// VisibleLen returns the total number of queued job ids across all
// priorities, summed from the store's list lengths (visible_len()).
func (q *Queue) VisibleLen(ctx context.Context) (int64, error) {
	var total int64
	for _, priority := range models.Priorities {
		n, err := q.store.LLen(ctx, kvstore.QueueKey(string(priority)))
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// SizeByPriority reports the queued count for each priority class.
func (q *Queue) SizeByPriority(ctx context.Context) (map[models.Priority]int64, error) {
	sizes := make(map[models.Priority]int64, len(models.Priorities))
	for _, priority := range models.Priorities {
		n, err := q.store.LLen(ctx, kvstore.QueueKey(string(priority)))
		if err != nil {
			return nil, err
		}
		sizes[priority] = n
	}
	return sizes, nil
}

func (q *Queue) persistJob(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.store.Set(ctx, kvstore.JobKey(job.JobID), data, q.jobTTL)
}

func (q *Queue) loadJob(ctx context.Context, jobID string) (*models.Job, error) {
	data, err := q.store.Get(ctx, kvstore.JobKey(jobID))
	if err != nil {
		return nil, err
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// SaveJob persists an updated job record without touching any queue list.
// Used by C3/C5 to record status transitions.
func (q *Queue) SaveJob(ctx context.Context, job *models.Job) error {
	return q.persistJob(ctx, job)
}

// LoadJob fetches a job record by id.
func (q *Queue) LoadJob(ctx context.Context, jobID string) (*models.Job, error) {
	return q.loadJob(ctx, jobID)
}
