package queue

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yourorg/warrant/internal/contracts"
	"github.com/yourorg/warrant/internal/domain"
	"github.com/yourorg/warrant/internal/metrics"
)

// EnqueueOptions configures a single submission.
type EnqueueOptions struct {
	Envelope    contracts.Envelope
	MaxAttempts int
	// PublicKey verifies the ticket before anything is written.
	PublicKey ed25519.PublicKey
}

// EnqueueResult is returned by Enqueue. When Validation.Valid is false
// nothing was written and Code says why.
type EnqueueResult struct {
	JobID      string
	Status     domain.JobStatus
	Inserted   bool // false when the job id already existed
	Validation contracts.Validation
}

const insertJobSQL = `
INSERT INTO jobs
    (job_id, job_type, actor_id, trace_id, ticket, payload, contract_version,
     max_attempts, ticket_expires_at, status, attempts, next_run_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'PENDING', 0, NOW())
ON CONFLICT (job_id) DO NOTHING
RETURNING job_id, status`

// Enqueue validates the envelope's ticket and, inside one transaction,
// claims its nonce and inserts the job row. The job id is the primary key,
// so re-submitting the same ticket is a natural idempotent no-op. The nonce
// insert and the duplicate check happen under the same transaction — two
// racing submissions with the same nonce cannot both observe it unused.
func Enqueue(ctx context.Context, pool *pgxpool.Pool, opts EnqueueOptions) (EnqueueResult, error) {
	ticket := &opts.Envelope.Ticket

	if v := contracts.ValidateTicket(ticket, opts.Envelope.Payload, opts.PublicKey, time.Now()); !v.Valid {
		return EnqueueResult{Validation: v}, nil
	}
	if opts.MaxAttempts <= 0 {
		return EnqueueResult{}, fmt.Errorf("max attempts must be positive, got %d", opts.MaxAttempts)
	}

	ticketJSON, err := json.Marshal(ticket)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("marshal ticket: %w", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("begin enqueue tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Idempotent resubmission of the same ticket reuses the same nonce; only
	// reject when the nonce is bound to a different job.
	var nonceJobID string
	err = tx.QueryRow(ctx, `
		INSERT INTO consumed_nonces (nonce, job_id)
		VALUES ($1, $2)
		ON CONFLICT (nonce) DO UPDATE SET nonce = EXCLUDED.nonce
		RETURNING job_id`, ticket.Nonce, ticket.JobID).Scan(&nonceJobID)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("claim nonce: %w", err)
	}
	if nonceJobID != ticket.JobID {
		return EnqueueResult{Validation: contracts.Validation{
			Valid:   false,
			Code:    contracts.CodeDuplicateNonce,
			Message: fmt.Sprintf("nonce already consumed by job %s", nonceJobID),
		}}, nil
	}

	res := EnqueueResult{Validation: contracts.Validation{Valid: true}}
	err = tx.QueryRow(ctx, insertJobSQL,
		ticket.JobID, ticket.JobType, ticket.ActorID, ticket.TraceID,
		ticketJSON, opts.Envelope.Payload, opts.Envelope.Version,
		opts.MaxAttempts, time.UnixMilli(ticket.ExpiresAt),
	).Scan(&res.JobID, &res.Status)

	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict: job already enqueued — fetch its current state.
		err = tx.QueryRow(ctx,
			`SELECT job_id, status FROM jobs WHERE job_id = $1`, ticket.JobID,
		).Scan(&res.JobID, &res.Status)
		if err != nil {
			return EnqueueResult{}, fmt.Errorf("fetch existing job: %w", err)
		}
		res.Inserted = false
		return res, tx.Commit(ctx)
	}
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("insert job: %w", err)
	}

	res.Inserted = true
	if err := tx.Commit(ctx); err != nil {
		return EnqueueResult{}, fmt.Errorf("commit enqueue: %w", err)
	}
	metrics.JobsEnqueuedTotal.WithLabelValues(ticket.JobType).Inc()
	return res, nil
}
