// Package queue is the in-process reconciliation queue: a buffered channel
// drained by a worker pool, with per-job retry and status tracking for
// polling. Delivery is at-least-once; handlers must tolerate duplicates.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/boddenberg/finledger-go/internal/domain"
	"github.com/boddenberg/finledger-go/internal/infra/observability"
	"github.com/boddenberg/finledger-go/internal/infra/resilience"
	"github.com/boddenberg/finledger-go/internal/port"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config holds queue tuning parameters.
type Config struct {
	BufferSize int
	Workers    int
	MaxRetries int
	Backoff    time.Duration
}

// Reconciler is the in-memory queue. It implements both
// port.ReconcilePublisher and port.ReconcileConsumer so main can wire one
// value into both roles.
type Reconciler struct {
	cfg     Config
	jobs    chan *domain.ReconcileJob
	store   port.JobStore
	metrics *observability.Metrics
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool

	cancel context.CancelFunc
	group  *errgroup.Group
}

var (
	_ port.ReconcilePublisher = (*Reconciler)(nil)
	_ port.ReconcileConsumer  = (*Reconciler)(nil)
)

// New creates the queue. Workers and buffer size default to 1 when
// non-positive.
func New(cfg Config, store port.JobStore, metrics *observability.Metrics, logger *zap.Logger) *Reconciler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	return &Reconciler{
		cfg:     cfg,
		jobs:    make(chan *domain.ReconcileJob, cfg.BufferSize),
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// Publish records the job as pending and enqueues it. Blocks while the
// buffer is full; a caller wanting bounded wait passes a context with a
// deadline.
func (r *Reconciler) Publish(ctx context.Context, job *domain.ReconcileJob) error {
	// The read lock spans the channel send so Close cannot close the channel
	// under an in-flight publish.
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return &domain.ErrStorage{Op: "enqueue reconcile job", Err: errQueueClosed}
	}

	job.Status = domain.JobPending
	job.CreatedAt = time.Now().UTC()
	if err := r.store.SaveJob(ctx, job); err != nil {
		return err
	}

	select {
	case r.jobs <- job:
		r.logger.Debug("reconcile job enqueued", zap.String("job_id", job.JobID))
		return nil
	case <-ctx.Done():
		return &domain.ErrStorage{Op: "enqueue reconcile job", Err: ctx.Err()}
	}
}

// Close stops accepting new jobs. Jobs already buffered are still drained.
func (r *Reconciler) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	close(r.jobs)
	return nil
}

// Start launches the worker pool. Workers run until the queue is closed and
// drained or ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context, handler port.ReconcileHandler) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	g := &errgroup.Group{}
	r.group = g

	for i := 0; i < r.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			r.logger.Debug("reconcile worker started", zap.Int("worker", worker))
			for {
				select {
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					r.process(ctx, job, handler)
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})
	}
	return nil
}

// Stop closes the queue and waits for in-flight jobs, up to ctx's deadline.
func (r *Reconciler) Stop(ctx context.Context) error {
	_ = r.Close()

	done := make(chan error, 1)
	go func() {
		if r.group != nil {
			done <- r.group.Wait()
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if r.cancel != nil {
			r.cancel()
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case <-ctx.Done():
		if r.cancel != nil {
			r.cancel()
		}
		return ctx.Err()
	}
}

// process runs one job through the handler with retry. Every state change is
// written back to the job store so status polling sees progress.
func (r *Reconciler) process(ctx context.Context, job *domain.ReconcileJob, handler port.ReconcileHandler) {
	now := time.Now().UTC()
	job.Status = domain.JobRunning
	job.StartedAt = &now
	r.saveJob(ctx, job)

	retryCfg := resilience.Config{
		MaxRetries:     r.cfg.MaxRetries,
		InitialBackoff: r.cfg.Backoff,
	}

	var result *domain.MatchResult
	err := resilience.RetryWithBackoff(ctx, retryCfg, func() error {
		res, err := handler(ctx, job)
		if err != nil {
			job.RetryCount++
			job.Status = domain.JobRetrying
			job.Error = err.Error()
			r.saveJob(ctx, job)
			r.logger.Warn("reconcile job attempt failed",
				zap.String("job_id", job.JobID),
				zap.Int("retry", job.RetryCount),
				zap.Error(err),
			)
			return err
		}
		result = res
		return nil
	})

	completed := time.Now().UTC()
	job.CompletedAt = &completed

	if err != nil {
		job.Status = domain.JobFailed
		job.Error = err.Error()
		r.saveJob(ctx, job)
		r.metrics.IncrReconcileOutcome("error")
		r.logger.Error("reconcile job failed",
			zap.String("job_id", job.JobID),
			zap.Int("retries", job.RetryCount),
			zap.Error(err),
		)
		return
	}

	job.Status = domain.JobCompleted
	job.Error = ""
	job.Result = result
	r.saveJob(ctx, job)
	r.logger.Info("reconcile job completed",
		zap.String("job_id", job.JobID),
		zap.Bool("matched", result.Matched),
		zap.Float64("confidence", result.Confidence),
	)
}

func (r *Reconciler) saveJob(ctx context.Context, job *domain.ReconcileJob) {
	if err := r.store.SaveJob(ctx, job); err != nil {
		r.logger.Error("save reconcile job state", zap.String("job_id", job.JobID), zap.Error(err))
	}
}

var errQueueClosed = errors.New("queue closed")
