package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/yourorg/warrant/internal/config"
	"github.com/yourorg/warrant/internal/contracts"
	"github.com/yourorg/warrant/internal/domain"
	"github.com/yourorg/warrant/internal/keys"
	"github.com/yourorg/warrant/internal/ledger"
	"github.com/yourorg/warrant/internal/metrics"
	"github.com/yourorg/warrant/internal/queue"
	"github.com/yourorg/warrant/internal/ratelimit"
	"github.com/yourorg/warrant/internal/registry"
)

// Worker is one executor process: it claims signed jobs, re-verifies their
// tickets, runs handlers, and reports HMAC-signed results.
type Worker struct {
	ID            uuid.UUID
	Hostname      string
	Pool          *pgxpool.Pool
	Redis         *redis.Client
	Registry      *registry.Registry
	Keys          *keys.Provider
	Sink          *ledger.Sink
	Logger        *slog.Logger
	Cfg           config.Config
	startDone     chan struct{}
	startDoneOnce sync.Once
}

func New(
	id uuid.UUID,
	hostname string,
	pool *pgxpool.Pool,
	rc *redis.Client,
	reg *registry.Registry,
	kp *keys.Provider,
	sink *ledger.Sink,
	logger *slog.Logger,
	cfg config.Config,
) *Worker {
	return &Worker{
		ID:        id,
		Hostname:  hostname,
		Pool:      pool,
		Redis:     rc,
		Registry:  reg,
		Keys:      kp,
		Sink:      sink,
		Logger:    logger,
		Cfg:       cfg,
		startDone: make(chan struct{}),
	}
}

// Start runs the poll loop until ctx is canceled. Each job executes
// synchronously; the lease-extension and cancellation goroutines live only
// for the duration of that job.
func (w *Worker) Start(ctx context.Context) {
	defer w.startDoneOnce.Do(func() { close(w.startDone) })

	w.Logger.Info("worker starting",
		"worker_id", w.ID,
		"handlers", w.Registry.Names())

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := queue.ClaimNext(ctx, w.Pool, w.ID.String(), w.Cfg.LeaseSeconds)
		if err != nil {
			w.Logger.Error("claim error", "err", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if job == nil {
			time.Sleep(500 * time.Millisecond)
			continue
		}

		w.runJob(ctx, job)
	}
}

// DrainAndWait blocks until the poll loop exits (usually after ctx
// cancellation) or until the caller's timeout is reached.
func (w *Worker) DrainAndWait(ctx context.Context) error {
	select {
	case <-w.startDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) runJob(ctx context.Context, job *domain.JobRecord) {
	execID := uuid.New()
	log := w.Logger.With(
		"job_id", job.JobID,
		"job_type", job.JobType,
		"attempt", job.Attempts,
		"trace_id", job.TraceID,
		"exec_id", execID,
	)

	if err := writeExecLogStart(ctx, w.Pool, execID, job, w.ID, w.Hostname); err != nil {
		log.Error("failed to write exec log start", "err", err)
		_, _ = queue.RetryJob(ctx, w.Pool, job.JobID, "execution log write failed", job.Attempts)
		return
	}

	ratelimit.ClaimInflight(ctx, w.Redis, w.ID.String(), job.JobID) //nolint:errcheck
	defer ratelimit.ReleaseInflight(ctx, w.Redis, w.ID.String(), job.JobID)

	log.Info("job started")

	// The ticket was checked at enqueue, but the executor trusts nothing it
	// did not verify itself: signature, expiry and payload binding again.
	if v := contracts.ValidateTicket(&job.Ticket, job.Payload, w.Keys.Public(), time.Now()); !v.Valid {
		log.Error("ticket re-verification failed", "code", v.Code, "msg", v.Message)
		w.reportFailure(ctx, job, v.Code, v.Message, log)
		writeExecLogFinish(ctx, w.Pool, execID, "failed", errors.New(v.Code), log)
		return
	}

	handler, err := w.Registry.Lookup(job.JobType)
	if err != nil {
		log.Error("unknown handler — dead-lettering", "err", err)
		updated, dlErr := queue.DeadLetterJob(ctx, w.Pool, job.JobID, err.Error())
		if dlErr != nil {
			log.Error("failed to dead-letter", "err", dlErr)
			return
		}
		if updated {
			w.appendOutcome(ctx, job, "job.dead_lettered", err.Error(), log)
		}
		writeExecLogFinish(ctx, w.Pool, execID, "failed", err, log)
		return
	}

	startedAt := time.Now()
	result := w.execute(ctx, job, handler, log)
	duration := time.Since(startedAt)

	switch result.outcome {
	case outcomeCompleted:
		jr, err := w.buildResult(job, contracts.StatusSucceeded, startedAt, result)
		if err != nil {
			log.Error("failed to build result", "err", err)
			return
		}
		updated, err := queue.Complete(ctx, w.Pool, jr, w.ID.String(), w.Keys.HMACSecret())
		if err != nil {
			log.Error("failed to complete", "err", err)
			return
		}
		if !updated {
			log.Warn("stale completion ignored")
			return
		}
		metrics.JobDurationSeconds.WithLabelValues(job.JobType, jr.Status).Observe(duration.Seconds())
		log.Info("job completed", "latency_ms", jr.Metrics.LatencyMs)
		w.appendOutcome(ctx, job, "job.completed", "", log)
		writeExecLogFinish(ctx, w.Pool, execID, "completed", nil, log)

	case outcomeCanceled:
		updated, err := queue.MarkCanceled(ctx, w.Pool, job.JobID, w.ID.String())
		if err != nil {
			log.Error("failed to mark canceled", "err", err)
			return
		}
		if !updated {
			log.Warn("stale cancel transition ignored")
			return
		}
		log.Info("job canceled")
		w.appendOutcome(ctx, job, "job.canceled", "", log)
		writeExecLogFinish(ctx, w.Pool, execID, "canceled", nil, log)

	case outcomeAbandoned:
		log.Info("job abandoned due to worker shutdown; leaving state for the reaper")
		return

	case outcomeFailed:
		var fatalErr *registry.FatalError
		isFatal := errors.As(result.err, &fatalErr)
		if isFatal || job.Attempts >= job.MaxAttempts {
			updated, err := queue.DeadLetterJob(ctx, w.Pool, job.JobID, result.err.Error())
			if err != nil {
				log.Error("failed to dead-letter", "err", err)
				return
			}
			if !updated {
				log.Warn("stale dead-letter transition ignored")
				return
			}
			log.Warn("job dead-lettered", "err", result.err, "is_fatal", isFatal)
			w.appendOutcome(ctx, job, "job.dead_lettered", result.err.Error(), log)
		} else {
			updated, err := queue.RetryJob(ctx, w.Pool, job.JobID, result.err.Error(), job.Attempts)
			if err != nil {
				log.Error("failed to mark retry", "err", err)
				return
			}
			if !updated {
				log.Warn("stale retry transition ignored")
				return
			}
			log.Warn("job failed — will retry",
				"err", result.err,
				"attempts", job.Attempts,
				"max_attempts", job.MaxAttempts)
			w.appendOutcome(ctx, job, "job.retry_scheduled", result.err.Error(), log)
		}
		metrics.JobDurationSeconds.WithLabelValues(job.JobType, contracts.StatusFailed).Observe(duration.Seconds())
		writeExecLogFinish(ctx, w.Pool, execID, "failed", result.err, log)
	}
}

// reportFailure records a verification failure as a terminal FAILED outcome
// with a signed result, so even rejections leave a verifiable trail.
func (w *Worker) reportFailure(ctx context.Context, job *domain.JobRecord, code, message string, log *slog.Logger) {
	now := time.Now()
	jr := &contracts.JobResult{
		JobID:        job.JobID,
		Status:       contracts.StatusFailed,
		StartedAt:    now.UnixMilli(),
		FinishedAt:   now.UnixMilli(),
		ResultHash:   contracts.ComputePayloadHash(""),
		ErrorCode:    code,
		ErrorMessage: message,
		Metrics:      contracts.JobMetrics{Attempts: job.Attempts, LatencyMs: 0},
		TraceID:      job.TraceID,
		WorkerID:     w.ID.String(),
	}
	if err := contracts.SignResult(jr, w.Keys.HMACSecret()); err != nil {
		log.Error("failed to sign failure result", "err", err)
		return
	}
	if _, err := queue.Complete(ctx, w.Pool, jr, w.ID.String(), w.Keys.HMACSecret()); err != nil {
		log.Error("failed to record failure", "err", err)
		return
	}
	w.appendOutcome(ctx, job, "job.rejected", code, log)
}

func (w *Worker) buildResult(job *domain.JobRecord, status string, startedAt time.Time, res executeResult) (*contracts.JobResult, error) {
	finishedAt := time.Now()
	resultHash, err := contracts.ComputeResultHash(res.data)
	if err != nil {
		return nil, err
	}
	jr := &contracts.JobResult{
		JobID:      job.JobID,
		Status:     status,
		StartedAt:  startedAt.UnixMilli(),
		FinishedAt: finishedAt.UnixMilli(),
		ResultHash: resultHash,
		ResultData: res.data,
		Metrics: contracts.JobMetrics{
			Attempts:  job.Attempts,
			LatencyMs: finishedAt.Sub(startedAt).Milliseconds(),
		},
		TraceID:  job.TraceID,
		WorkerID: w.ID.String(),
	}
	if err := contracts.SignResult(jr, w.Keys.HMACSecret()); err != nil {
		return nil, err
	}
	return jr, nil
}

// appendOutcome writes the decision to the audit ledger. Append failures are
// logged, not fatal — the queue state is already consistent and the ledger
// entry can be reconstructed from the execution log.
func (w *Worker) appendOutcome(ctx context.Context, job *domain.JobRecord, event, detail string, log *slog.Logger) {
	payload := map[string]any{
		"event":    event,
		"jobId":    job.JobID,
		"jobType":  job.JobType,
		"actorId":  job.ActorID,
		"traceId":  job.TraceID,
		"workerId": w.ID.String(),
		"attempt":  job.Attempts,
	}
	if detail != "" {
		payload["detail"] = detail
	}
	if _, err := w.Sink.AppendPayload(ctx, w.Cfg.AuditChainID, payload); err != nil {
		log.Error("audit append failed", "event", event, "err", err)
	}
}
