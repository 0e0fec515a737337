package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yourorg/warrant/internal/domain"
)

// JobStatus is the operator-facing view of one job.
type JobStatus struct {
	JobID           string
	Status          domain.JobStatus
	Attempts        int
	MaxAttempts     int
	WorkerID        *string
	LeaseUntil      *time.Time
	LastError       *string
	NextRunAt       time.Time
	StateVersion    int
	CancelRequested bool
}

// GetStatus reads the current state of one job.
func GetStatus(ctx context.Context, pool *pgxpool.Pool, jobID string) (*JobStatus, error) {
	var (
		s          JobStatus
		status     string
		canceledAt *time.Time
	)
	err := pool.QueryRow(ctx, `
		SELECT job_id, status, attempts, max_attempts, worker_id,
		       lease_until, last_error, next_run_at, state_version, canceled_at
		FROM jobs WHERE job_id = $1`, jobID,
	).Scan(&s.JobID, &status, &s.Attempts, &s.MaxAttempts, &s.WorkerID,
		&s.LeaseUntil, &s.LastError, &s.NextRunAt, &s.StateVersion, &canceledAt)
	if err != nil {
		return nil, fmt.Errorf("job status: %w", err)
	}
	s.Status = domain.JobStatus(status)
	s.CancelRequested = canceledAt != nil && s.Status == domain.StatusProcessing
	return &s, nil
}

// GetJob reads the full record for one job, envelope included.
func GetJob(ctx context.Context, pool *pgxpool.Pool, jobID string) (*domain.JobRecord, error) {
	var (
		j          domain.JobRecord
		status     string
		ticketJSON []byte
	)
	err := pool.QueryRow(ctx, `
		SELECT job_id, job_type, actor_id, trace_id, ticket, payload,
		       contract_version, status, worker_id, attempts, max_attempts,
		       next_run_at, ticket_expires_at, lease_until, last_heartbeat_at,
		       canceled_at, state_version
		FROM jobs WHERE job_id = $1`, jobID,
	).Scan(&j.JobID, &j.JobType, &j.ActorID, &j.TraceID, &ticketJSON, &j.Payload,
		&j.ContractVersion, &status, &j.WorkerID, &j.Attempts, &j.MaxAttempts,
		&j.NextRunAt, &j.TicketExpiresAt, &j.LeaseUntil, &j.LastHeartbeatAt,
		&j.CanceledAt, &j.StateVersion)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if err := json.Unmarshal(ticketJSON, &j.Ticket); err != nil {
		return nil, fmt.Errorf("decode ticket for %s: %w", jobID, err)
	}
	j.Status = domain.JobStatus(status)
	return &j, nil
}

// Depth returns the number of claimable jobs, for queue-depth gauges.
func Depth(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	var n int64
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE status IN ('PENDING', 'FAILED_RETRYABLE')
		  AND next_run_at <= NOW()`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}
