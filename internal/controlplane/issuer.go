// Package controlplane is the trusted side: it authorizes jobs by issuing
// signed tickets and placing the resulting envelopes on the queue. Every
// authorization decision lands in the audit ledger.
package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yourorg/warrant/internal/config"
	"github.com/yourorg/warrant/internal/contracts"
	"github.com/yourorg/warrant/internal/domain"
	"github.com/yourorg/warrant/internal/keys"
	"github.com/yourorg/warrant/internal/ledger"
	"github.com/yourorg/warrant/internal/metrics"
	"github.com/yourorg/warrant/internal/queue"
	"github.com/yourorg/warrant/internal/ratelimit"
)

// ErrRateLimited is returned when an actor exceeds its operation window.
var ErrRateLimited = fmt.Errorf("actor exceeded rate limit")

// Issuer signs tickets and enqueues envelopes on behalf of authorized
// actors.
type Issuer struct {
	Pool    *pgxpool.Pool
	Limiter *ratelimit.Limiter
	Keys    *keys.Provider
	Sink    *ledger.Sink
	Logger  *slog.Logger
	Cfg     config.Config
}

// SubmitRequest describes one authorization to turn into a queued job.
type SubmitRequest struct {
	ActorID          string
	JobType          string
	Scope            []string
	PolicyDecisionID string
	Payload          string
	MaxAttempts      int // 0 means the configured default
}

// SubmitResult reports what happened to a submission.
type SubmitResult struct {
	JobID      string
	Status     domain.JobStatus
	Inserted   bool
	Validation contracts.Validation
}

// SubmitJob checks the actor's rate window, issues a signed single-use
// ticket over the payload, and enqueues the envelope. The authorization is
// appended to the audit ledger whether or not the enqueue ultimately
// validates — rejections are decisions too.
func (i *Issuer) SubmitJob(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if req.ActorID == "" {
		return SubmitResult{}, fmt.Errorf("actor id is required")
	}

	allowed, err := i.Limiter.Allow(ctx, req.ActorID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("rate limit: %w", err)
	}
	if !allowed {
		metrics.RateLimitRejectsTotal.Inc()
		i.appendDecision(ctx, "job.rate_limited", req, "", "")
		return SubmitResult{}, ErrRateLimited
	}

	now := time.Now()
	jobID := uuid.New().String()
	traceID := uuid.New().String()

	ticket, err := contracts.SignTicket(contracts.TicketParams{
		JobID:            jobID,
		JobType:          req.JobType,
		ActorID:          req.ActorID,
		Scope:            req.Scope,
		PolicyDecisionID: req.PolicyDecisionID,
		RequestedAt:      now,
		ExpiresAt:        now.Add(i.Cfg.TicketTTL),
		PayloadHash:      contracts.ComputePayloadHash(req.Payload),
		Nonce:            uuid.New().String(),
		TraceID:          traceID,
	}, i.Keys)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("issue ticket: %w", err)
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = i.Cfg.DefaultMaxAttempts
	}

	res, err := queue.Enqueue(ctx, i.Pool, queue.EnqueueOptions{
		Envelope: contracts.Envelope{
			Ticket:  ticket,
			Payload: req.Payload,
			Version: contracts.ContractVersion,
		},
		MaxAttempts: maxAttempts,
		PublicKey:   i.Keys.Public(),
	})
	if err != nil {
		return SubmitResult{}, err
	}

	if !res.Validation.Valid {
		i.appendDecision(ctx, "job.rejected", req, jobID, res.Validation.Code)
		return SubmitResult{Validation: res.Validation}, nil
	}

	i.appendDecision(ctx, "job.authorized", req, res.JobID, "")
	i.Logger.Info("job authorized",
		"job_id", res.JobID,
		"job_type", req.JobType,
		"actor_id", req.ActorID,
		"trace_id", traceID,
		"inserted", res.Inserted)

	return SubmitResult{
		JobID:      res.JobID,
		Status:     res.Status,
		Inserted:   res.Inserted,
		Validation: res.Validation,
	}, nil
}

func (i *Issuer) appendDecision(ctx context.Context, event string, req SubmitRequest, jobID, detail string) {
	payload := map[string]any{
		"event":            event,
		"actorId":          req.ActorID,
		"jobType":          req.JobType,
		"policyDecisionId": req.PolicyDecisionID,
	}
	if jobID != "" {
		payload["jobId"] = jobID
	}
	if detail != "" {
		payload["detail"] = detail
	}
	if _, err := i.Sink.AppendPayload(ctx, i.Cfg.AuditChainID, payload); err != nil {
		i.Logger.Error("audit append failed", "event", event, "err", err)
	}
}
