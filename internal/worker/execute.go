package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/yourorg/warrant/internal/domain"
	"github.com/yourorg/warrant/internal/queue"
	"github.com/yourorg/warrant/internal/registry"
)

type executeOutcome string

const (
	outcomeCompleted executeOutcome = "completed"
	outcomeFailed    executeOutcome = "failed"
	outcomeCanceled  executeOutcome = "canceled"
	outcomeAbandoned executeOutcome = "abandoned"
)

type executeResult struct {
	outcome executeOutcome
	data    any
	err     error
}

// execute runs the handler inside a cancelable context. Two background
// goroutines run for the lifetime of the call:
//   - renewLease: heartbeats every LeaseSeconds/3 so the reaper leaves the
//     job alone while the handler is genuinely making progress
//   - watchCancellation: polls canceled_at and cancels the handler context
//
// Both are stopped via their stop channel before execute returns.
func (w *Worker) execute(ctx context.Context, job *domain.JobRecord, handler registry.Handler, logger *slog.Logger) executeResult {
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	leaseStop := make(chan struct{})
	go w.renewLease(execCtx, job.JobID, leaseStop, logger)
	defer close(leaseStop)

	cancelStop := make(chan struct{})
	var userCanceled atomic.Bool
	go w.watchCancellation(execCtx, job.JobID, &userCanceled, cancel, cancelStop, logger)
	defer close(cancelStop)

	data, handlerErr := handler(execCtx, job.Payload, job.TraceID)

	if ctx.Err() != nil {
		return executeResult{outcome: outcomeAbandoned}
	}
	if execCtx.Err() != nil {
		if userCanceled.Load() {
			return executeResult{outcome: outcomeCanceled}
		}
		return executeResult{outcome: outcomeAbandoned}
	}
	if handlerErr != nil {
		return executeResult{outcome: outcomeFailed, err: handlerErr}
	}
	return executeResult{outcome: outcomeCompleted, data: data}
}

// renewLease heartbeats at LeaseSeconds/3, giving two renewal opportunities
// before expiry. A fenced-out heartbeat means the lease is gone — stop
// renewing and let the outcome transitions discover the staleness.
func (w *Worker) renewLease(ctx context.Context, jobID string, stop <-chan struct{}, logger *slog.Logger) {
	interval := time.Duration(w.Cfg.LeaseSeconds) * time.Second / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			extended, err := queue.Heartbeat(ctx, w.Pool, jobID, w.ID.String(), w.Cfg.LeaseSeconds)
			if err != nil {
				logger.Warn("lease renewal failed", "job_id", jobID, "err", err)
				continue
			}
			if !extended {
				logger.Warn("lease renewal fenced; stopping renewer", "job_id", jobID)
				return
			}
		}
	}
}

// watchCancellation polls canceled_at every 3 seconds. When set, the handler
// context is canceled so it can exit cooperatively.
func (w *Worker) watchCancellation(
	ctx context.Context,
	jobID string,
	userCanceled *atomic.Bool,
	cancel context.CancelFunc,
	stop <-chan struct{},
	logger *slog.Logger,
) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			var canceledAt *time.Time
			err := w.Pool.QueryRow(ctx,
				`SELECT canceled_at FROM jobs WHERE job_id = $1`, jobID,
			).Scan(&canceledAt)
			if err != nil {
				logger.Warn("cancellation check failed", "job_id", jobID, "err", err)
				continue
			}
			if canceledAt != nil {
				userCanceled.Store(true)
				cancel()
				return
			}
		}
	}
}
