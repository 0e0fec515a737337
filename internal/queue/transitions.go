package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yourorg/warrant/internal/contracts"
	"github.com/yourorg/warrant/internal/domain"
	"github.com/yourorg/warrant/internal/metrics"
)

// Heartbeat extends the lease on a PROCESSING job held by workerID. The
// update is fenced on worker, state and a live lease; a false return means
// the lease was lost (expired and reaped, or completed elsewhere) and the
// executor should stop working on the job.
func Heartbeat(ctx context.Context, pool *pgxpool.Pool, jobID, workerID string, leaseSecs int) (bool, error) {
	result, err := pool.Exec(ctx, `
		UPDATE jobs SET
			lease_until       = NOW() + ($1 * interval '1 second'),
			last_heartbeat_at = NOW(),
			updated_at        = NOW()
		WHERE job_id = $2
		  AND worker_id = $3
		  AND status = 'PROCESSING'
		  AND lease_until > NOW()`, leaseSecs, jobID, workerID)
	if err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// RetryJob moves a PROCESSING job back to FAILED_RETRYABLE, clears its lease
// and worker, and pushes next_run_at out by the deterministic backoff for
// the given attempt count.
func RetryJob(ctx context.Context, pool *pgxpool.Pool, jobID, lastError string, attempts int) (bool, error) {
	backoff := ComputeBackoff(jobID, attempts)
	result, err := pool.Exec(ctx, `
		UPDATE jobs SET
			status            = 'FAILED_RETRYABLE',
			next_run_at       = NOW() + ($1 * interval '1 millisecond'),
			last_error        = $2,
			last_error_at     = NOW(),
			worker_id         = NULL,
			lease_until       = NULL,
			last_heartbeat_at = NULL,
			state_version     = state_version + 1,
			updated_at        = NOW()
		WHERE job_id = $3
		  AND status = 'PROCESSING'`,
		backoff.Milliseconds(), lastError, jobID)
	if err != nil {
		return false, fmt.Errorf("retry job: %w", err)
	}
	if result.RowsAffected() == 1 {
		metrics.JobsRetriedTotal.Inc()
		metrics.JobsProcessing.Dec()
		return true, nil
	}
	return false, nil
}

// DeadLetterJob snapshots the job into dead_letters and marks it DEAD in one
// transaction. DEAD is terminal; nothing retries it automatically.
func DeadLetterJob(ctx context.Context, pool *pgxpool.Pool, jobID, lastError string) (bool, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin dead-letter tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var (
		ticketJSON []byte
		payload    string
		attempts   int
		workerID   *string
		jobType    string
		traceID    string
	)
	err = tx.QueryRow(ctx, `
		SELECT ticket, payload, attempts, worker_id, job_type, trace_id
		FROM jobs
		WHERE job_id = $1 AND status = 'PROCESSING'
		FOR UPDATE`, jobID,
	).Scan(&ticketJSON, &payload, &attempts, &workerID, &jobType, &traceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read job for dead-letter: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO dead_letters
			(job_id, ticket, payload, last_error, total_attempts,
			 last_worker_id, job_type, trace_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO NOTHING`,
		jobID, ticketJSON, payload, lastError, attempts, workerID, jobType, traceID)
	if err != nil {
		return false, fmt.Errorf("write dead-letter snapshot: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs SET
			status            = 'DEAD',
			last_error        = $1,
			last_error_at     = NOW(),
			worker_id         = NULL,
			lease_until       = NULL,
			last_heartbeat_at = NULL,
			state_version     = state_version + 1,
			updated_at        = NOW()
		WHERE job_id = $2 AND status = 'PROCESSING'`, lastError, jobID)
	if err != nil {
		return false, fmt.Errorf("mark dead: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit dead-letter: %w", err)
	}
	metrics.JobsDeadTotal.Inc()
	metrics.JobsProcessing.Dec()
	return true, nil
}

// Complete records a verified execution outcome as the job's terminal state:
// COMPLETED for a succeeded result, FAILED otherwise. The result's HMAC must
// already have been validated by the caller; Complete re-checks as a last
// line of defense and refuses unverifiable results.
func Complete(ctx context.Context, pool *pgxpool.Pool, result *contracts.JobResult, workerID, secret string) (bool, error) {
	if v := contracts.ValidateResult(result, secret); !v.Valid {
		return false, fmt.Errorf("refusing unverified result for %s: %s", result.JobID, v.Code)
	}

	status := domain.StatusFailed
	if result.Status == contracts.StatusSucceeded {
		status = domain.StatusCompleted
	}

	var lastErr *string
	if result.ErrorMessage != "" {
		msg := result.ErrorMessage
		lastErr = &msg
	}

	res, err := pool.Exec(ctx, `
		UPDATE jobs SET
			status            = $1,
			last_error        = COALESCE($2, last_error),
			worker_id         = NULL,
			lease_until       = NULL,
			last_heartbeat_at = NULL,
			state_version     = state_version + 1,
			updated_at        = NOW()
		WHERE job_id = $3
		  AND status = 'PROCESSING'
		  AND worker_id = $4
		  AND lease_until > NOW()`,
		string(status), lastErr, result.JobID, workerID)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	if res.RowsAffected() == 1 {
		metrics.JobsCompletedTotal.WithLabelValues(result.Status).Inc()
		metrics.JobsProcessing.Dec()
		return true, nil
	}
	// Lease lost between execution and completion; the reaper owns the job
	// now. Stale completions are ignored, not errors.
	return false, nil
}
