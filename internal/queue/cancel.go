package queue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yourorg/warrant/internal/metrics"
)

// CancelResult reports whether the job was found and whether cancellation
// happened immediately (PENDING → CANCELED) or cooperatively (PROCESSING →
// canceled_at set for the executor to observe).
type CancelResult struct {
	Found     bool
	Immediate bool
}

// CancelJob attempts to cancel a job by id.
//
// Pending and retry-waiting jobs move to CANCELED immediately. Processing
// jobs only get canceled_at set; the executor's cancellation watcher stops
// the handler cooperatively. Jobs already terminal are not modified.
func CancelJob(ctx context.Context, pool *pgxpool.Pool, jobID string) (CancelResult, error) {
	tag, err := pool.Exec(ctx, `
		UPDATE jobs SET
			status        = 'CANCELED',
			canceled_at   = NOW(),
			state_version = state_version + 1,
			updated_at    = NOW()
		WHERE job_id = $1 AND status IN ('PENDING', 'FAILED_RETRYABLE')`, jobID)
	if err != nil {
		return CancelResult{}, fmt.Errorf("cancel pending: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return CancelResult{Found: true, Immediate: true}, nil
	}

	tag, err = pool.Exec(ctx, `
		UPDATE jobs SET
			canceled_at   = NOW(),
			state_version = state_version + 1,
			updated_at    = NOW()
		WHERE job_id = $1 AND status = 'PROCESSING'
		  AND canceled_at IS NULL`, jobID)
	if err != nil {
		return CancelResult{}, fmt.Errorf("cancel running: %w", err)
	}
	return CancelResult{
		Found:     tag.RowsAffected() > 0,
		Immediate: false,
	}, nil
}

// MarkCanceled finalizes a cooperative cancellation once the executor has
// stopped. Fenced the same way as completion.
func MarkCanceled(ctx context.Context, pool *pgxpool.Pool, jobID, workerID string) (bool, error) {
	tag, err := pool.Exec(ctx, `
		UPDATE jobs SET
			status            = 'CANCELED',
			worker_id         = NULL,
			lease_until       = NULL,
			last_heartbeat_at = NULL,
			state_version     = state_version + 1,
			updated_at        = NOW()
		WHERE job_id = $1
		  AND worker_id = $2
		  AND status = 'PROCESSING'`, jobID, workerID)
	if err != nil {
		return false, fmt.Errorf("mark canceled: %w", err)
	}
	if tag.RowsAffected() == 1 {
		metrics.JobsProcessing.Dec()
		return true, nil
	}
	return false, nil
}
