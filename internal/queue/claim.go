package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yourorg/warrant/internal/domain"
	"github.com/yourorg/warrant/internal/metrics"
)

// failExpiredSQL moves eligible jobs whose ticket authorization has lapsed
// straight to FAILED. Run before every claim so an expired ticket is never
// handed to an executor.
const failExpiredSQL = `
UPDATE jobs SET
    status        = 'FAILED',
    last_error    = 'TICKET_EXPIRED',
    last_error_at = NOW(),
    state_version = state_version + 1,
    updated_at    = NOW()
WHERE status IN ('PENDING', 'FAILED_RETRYABLE')
  AND next_run_at <= NOW()
  AND ticket_expires_at <= NOW()`

// claimSQL atomically selects and leases one eligible job.
//
// FOR UPDATE SKIP LOCKED is the compare-and-swap: the row is re-read and
// locked inside the statement, and a worker that loses the race simply gets
// no row back. Ordering is oldest-eligible-first on next_run_at; there is no
// priority weighting at this layer.
const claimSQL = `
WITH candidate AS (
    SELECT job_id FROM jobs
    WHERE status IN ('PENDING', 'FAILED_RETRYABLE')
      AND next_run_at <= NOW()
    ORDER BY next_run_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
UPDATE jobs
SET
    status            = 'PROCESSING',
    worker_id         = $1,
    attempts          = attempts + 1,
    lease_until       = NOW() + ($2 * interval '1 second'),
    last_heartbeat_at = NOW(),
    state_version     = state_version + 1,
    updated_at        = NOW()
FROM candidate
WHERE jobs.job_id = candidate.job_id
RETURNING
    jobs.job_id, jobs.job_type, jobs.actor_id, jobs.trace_id, jobs.ticket,
    jobs.payload, jobs.contract_version, jobs.status, jobs.worker_id,
    jobs.attempts, jobs.max_attempts, jobs.next_run_at, jobs.ticket_expires_at,
    jobs.last_error, jobs.last_error_at, jobs.lease_until,
    jobs.last_heartbeat_at, jobs.canceled_at, jobs.created_at, jobs.updated_at,
    jobs.state_version`

// ClaimNext attempts to claim one eligible job for workerID with a lease of
// leaseSecs. Returns nil, nil when nothing is claimable — including when
// another worker won the race; a lost claim is an expected outcome, not an
// error.
func ClaimNext(ctx context.Context, pool *pgxpool.Pool, workerID string, leaseSecs int) (*domain.JobRecord, error) {
	if _, err := pool.Exec(ctx, failExpiredSQL); err != nil {
		return nil, fmt.Errorf("expire stale tickets: %w", err)
	}

	row := pool.QueryRow(ctx, claimSQL, workerID, leaseSecs)
	job := &domain.JobRecord{}
	if err := scanJob(row, job); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	metrics.JobsClaimedTotal.WithLabelValues(job.JobType).Inc()
	metrics.JobsProcessing.Inc()
	return job, nil
}

// scanJob populates a JobRecord from the columns returned by claimSQL.
// The column order must match the RETURNING clause exactly.
func scanJob(row pgx.Row, job *domain.JobRecord) error {
	var status string
	var ticketJSON []byte
	err := row.Scan(
		&job.JobID,
		&job.JobType,
		&job.ActorID,
		&job.TraceID,
		&ticketJSON,
		&job.Payload,
		&job.ContractVersion,
		&status,
		&job.WorkerID,
		&job.Attempts,
		&job.MaxAttempts,
		&job.NextRunAt,
		&job.TicketExpiresAt,
		&job.LastError,
		&job.LastErrorAt,
		&job.LeaseUntil,
		&job.LastHeartbeatAt,
		&job.CanceledAt,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.StateVersion,
	)
	if err != nil {
		return err
	}
	job.Status = domain.JobStatus(status)
	return json.Unmarshal(ticketJSON, &job.Ticket)
}
