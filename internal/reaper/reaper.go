// Package reaper resolves jobs whose lease expired without a heartbeat or a
// reported outcome — the executor is presumed dead or hung. It is the only
// component that changes a job's fate on the absence of a signal.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yourorg/warrant/internal/metrics"
	"github.com/yourorg/warrant/internal/queue"
)

// reaperLockKey is the PostgreSQL advisory lock key used for reaper
// election. Only one reaper wins the lock across the whole cluster.
const reaperLockKey = int64(0x5741524E)

const (
	electionRetry = 10 * time.Second
	sweepInterval = 30 * time.Second
	sweepBatch    = 500
)

// Run competes for the advisory lock and runs the sweep loop on the winner.
// The lock is held on a dedicated connection so it auto-releases if the
// process crashes. Non-winners sleep and retry.
func Run(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := pool.Acquire(ctx)
		if err != nil {
			logger.Error("reaper: acquire failed", "err", err)
			time.Sleep(5 * time.Second)
			continue
		}

		var won bool
		err = conn.QueryRow(ctx,
			`SELECT pg_try_advisory_lock($1)`, reaperLockKey).Scan(&won)
		if err != nil || !won {
			conn.Release()
			time.Sleep(electionRetry)
			continue
		}

		logger.Info("reaper: won election")
		runSweepLoop(ctx, pool, logger)
		releaseReaperLock(conn, logger)
		conn.Release()
	}
}

// releaseReaperLock drops the advisory lock before the connection goes back
// to the pool. Releasing a session that still holds the lock would freeze
// election cluster-wide until the pool recycles that connection. A fresh
// context is used so the unlock still runs when the loop exited on shutdown;
// a crashed process releases via session teardown regardless.
func releaseReaperLock(conn *pgxpool.Conn, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, reaperLockKey); err != nil {
		logger.Warn("reaper: advisory unlock failed", "err", err)
	}
}

func runSweepLoop(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := SweepExpiredLeases(ctx, pool, logger); err != nil {
				logger.Error("reaper: sweep failed", "err", err)
				return
			}
			reapDeadWorkers(ctx, pool, logger)
		}
	}
}

// SweepExpiredLeases finds PROCESSING jobs whose lease has lapsed and
// resolves each through the queue's own transitions: retry while the
// attempt budget lasts, dead-letter once it is spent.
//
// FOR UPDATE SKIP LOCKED keeps the sweep from blocking on a row a worker is
// concurrently extending. The batch bounds work per cycle.
func SweepExpiredLeases(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	rows, err := pool.Query(ctx, `
		SELECT job_id, attempts, max_attempts
		FROM jobs
		WHERE status = 'PROCESSING' AND lease_until < NOW()
		ORDER BY lease_until ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, sweepBatch)
	if err != nil {
		return err
	}

	type expired struct {
		jobID       string
		attempts    int
		maxAttempts int
	}
	var stuck []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.jobID, &e.attempts, &e.maxAttempts); err != nil {
			continue
		}
		stuck = append(stuck, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, e := range stuck {
		const reason = "lease expired without heartbeat"
		if e.attempts < e.maxAttempts {
			updated, err := queue.RetryJob(ctx, pool, e.jobID, reason, e.attempts)
			if err != nil {
				logger.Error("reaper: retry failed", "job_id", e.jobID, "err", err)
				continue
			}
			if updated {
				metrics.JobsReapedTotal.Inc()
				logger.Info("reaper: requeued stuck job",
					"job_id", e.jobID, "attempts", e.attempts)
			}
		} else {
			updated, err := queue.DeadLetterJob(ctx, pool, e.jobID, reason)
			if err != nil {
				logger.Error("reaper: dead-letter failed", "job_id", e.jobID, "err", err)
				continue
			}
			if updated {
				metrics.JobsReapedTotal.Inc()
				logger.Warn("reaper: dead-lettered stuck job",
					"job_id", e.jobID, "attempts", e.attempts)
			}
		}
	}
	return nil
}

// reapDeadWorkers marks workers with stale heartbeats as dead. This is
// informational — job recovery rides on lease expiry, not worker status.
func reapDeadWorkers(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) {
	result, err := pool.Exec(ctx, `
		UPDATE workers SET status = 'dead'
		WHERE status = 'active'
		  AND last_heartbeat < NOW() - interval '30 seconds'`)
	if err != nil {
		logger.Error("reaper: dead worker reap failed", "err", err)
		return
	}
	if result.RowsAffected() > 0 {
		logger.Info("reaper: marked workers dead", "count", result.RowsAffected())
	}
}
