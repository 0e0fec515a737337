package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"github.com/yourorg/warrant/internal/ledger"
	"github.com/yourorg/warrant/internal/metrics"
	"github.com/yourorg/warrant/internal/queue"
)

// Maintenance owns the slow background schedules that are not latency
// sensitive: pruning the nonce replay window, rotating the audit ledger,
// and refreshing the queue-depth gauge.
type Maintenance struct {
	Pool              *pgxpool.Pool
	Sink              *ledger.Sink
	ChainID           string
	RotateAfter       int64
	NonceReplayWindow time.Duration
	Logger            *slog.Logger

	cron *cron.Cron
}

// Start registers the schedules and starts the cron runner. Stop with Stop.
func (m *Maintenance) Start(ctx context.Context) error {
	m.cron = cron.New()

	// Nonces older than the replay window can never be replayed against a
	// live ticket (ticket TTL is far shorter), so they are safe to drop.
	if _, err := m.cron.AddFunc("17 * * * *", func() {
		tag, err := m.Pool.Exec(ctx, `
			DELETE FROM consumed_nonces
			WHERE consumed_at < NOW() - ($1 * interval '1 second')`,
			int64(m.NonceReplayWindow.Seconds()))
		if err != nil {
			m.Logger.Error("maintenance: nonce prune failed", "err", err)
			return
		}
		if tag.RowsAffected() > 0 {
			m.Logger.Info("maintenance: pruned nonces", "count", tag.RowsAffected())
		}
	}); err != nil {
		return err
	}

	if _, err := m.cron.AddFunc("43 3 * * *", func() {
		moved, err := m.Sink.Rotate(ctx, m.ChainID, m.RotateAfter)
		if err != nil {
			m.Logger.Error("maintenance: ledger rotation failed", "err", err)
			return
		}
		if moved > 0 {
			m.Logger.Info("maintenance: rotated ledger prefix",
				"chain_id", m.ChainID, "records", moved)
		}
	}); err != nil {
		return err
	}

	if _, err := m.cron.AddFunc("@every 1m", func() {
		depth, err := queue.Depth(ctx, m.Pool)
		if err != nil {
			m.Logger.Warn("maintenance: queue depth failed", "err", err)
			return
		}
		metrics.QueueDepth.Set(float64(depth))
	}); err != nil {
		return err
	}

	m.cron.Start()
	return nil
}

// Stop halts the schedules, waiting for any in-flight run to finish.
func (m *Maintenance) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}
