package worker

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Register upserts the worker row so execution_log can reference it. Safe to
// call on restart — ON CONFLICT refreshes the heartbeat and re-marks the
// worker active.
func Register(ctx context.Context, pool *pgxpool.Pool, w *Worker) error {
	return pool.QueryRow(ctx, `
		INSERT INTO workers (id, hostname, job_types)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
			SET hostname       = EXCLUDED.hostname,
			    job_types      = EXCLUDED.job_types,
			    status         = 'active',
			    last_heartbeat = NOW()
		RETURNING id`, w.ID, w.Hostname, w.Registry.Names()).Scan(&w.ID)
}

// RunHeartbeat updates last_heartbeat every 5 seconds so the reaper can
// distinguish live workers from crashed ones. This is the process-liveness
// signal; per-job lease renewal is separate and lives in execute.
func (w *Worker) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := w.Pool.Exec(ctx,
				`UPDATE workers SET last_heartbeat = NOW() WHERE id = $1`, w.ID)
			if err != nil {
				w.Logger.Error("worker heartbeat failed", "err", err)
			}
		}
	}
}
