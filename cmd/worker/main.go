package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/yourorg/warrant/internal/config"
	"github.com/yourorg/warrant/internal/db"
	"github.com/yourorg/warrant/internal/keys"
	"github.com/yourorg/warrant/internal/ledger"
	"github.com/yourorg/warrant/internal/migrate"
	"github.com/yourorg/warrant/internal/reaper"
	"github.com/yourorg/warrant/internal/registry"
	"github.com/yourorg/warrant/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Error("load config failed", "err", err)
		os.Exit(1)
	}

	if err := worker.EnableParentDeathSignal(); err != nil {
		logger.Warn("failed to enable parent-death signal", "err", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Executors verify only: the public key and the result secret are both
	// mandatory, the private key is not.
	kp, err := keys.NewProvider(cfg.TicketPrivateKey, cfg.TicketPublicKey, cfg.ResultHMACSecret)
	if err != nil {
		logger.Error("load key material failed", "err", err)
		os.Exit(1)
	}
	if kp.HMACSecret() == "" {
		logger.Error("RESULT_HMAC_SECRET is required; refusing to run unsigned")
		os.Exit(1)
	}

	// Connect to PostgreSQL.
	logger.Info("connecting to database")
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect to database failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	if err := migrate.Run(ctx, pool); err != nil {
		logger.Error("run migrations failed", "err", err)
		os.Exit(1)
	}

	// Connect to Redis.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("parse redis URL failed", "err", err)
		os.Exit(1)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	logger.Info("connecting to redis")
	if err := rc.Ping(ctx).Err(); err != nil {
		logger.Error("redis ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("redis connected")

	sink := &ledger.Sink{Pool: pool}
	reg := registry.New()
	registerHandlers(reg, logger)

	hostname, _ := os.Hostname()
	workerID := uuid.New()

	w := worker.New(workerID, hostname, pool, rc, reg, kp, sink, logger, cfg)

	logger.Info("registering worker", "worker_id", workerID, "hostname", hostname)
	if err := worker.Register(ctx, pool, w); err != nil {
		logger.Error("register worker failed", "err", err)
		os.Exit(1)
	}
	logger.Info("worker ready",
		"worker_id", workerID,
		"hostname", hostname,
		"handlers", reg.Names(),
		"key_fingerprint", kp.Fingerprint())

	// Heartbeat: process liveness, separate from per-job lease renewal.
	go w.RunHeartbeat(ctx)

	// Reaper: competes for the advisory lock; the winner resolves jobs whose
	// lease lapsed without a heartbeat.
	go reaper.Run(ctx, pool, logger)

	maint := &reaper.Maintenance{
		Pool:              pool,
		Sink:              sink,
		ChainID:           cfg.AuditChainID,
		RotateAfter:       cfg.LedgerRotateAfter,
		NonceReplayWindow: cfg.NonceReplayWindow,
		Logger:            logger,
	}
	if err := maint.Start(ctx); err != nil {
		logger.Error("start maintenance schedules failed", "err", err)
		os.Exit(1)
	}
	defer maint.Stop()

	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}
	go serveMetrics(metricsAddr, logger)

	go w.Start(ctx)

	<-ctx.Done()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer drainCancel()
	if err := w.DrainAndWait(drainCtx); err != nil {
		logger.Warn("shutdown drain timeout; orphaned jobs will be reaped", "err", err)
	}

	logger.Info("shutdown complete")
}

// registerHandlers wires one handler per member of the closed job-type
// enumeration. The registry rejects anything outside it.
func registerHandlers(reg *registry.Registry, logger *slog.Logger) {
	// scheduler.tick: advances the scheduling clock. Cheap and idempotent.
	must(reg.Register("scheduler.tick", func(ctx context.Context, payload, traceID string) (any, error) {
		return map[string]any{"tickedAt": time.Now().UnixMilli()}, nil
	}), logger)

	// index.build: rebuilds a named index. Long-running, checks the context
	// between phases so cancellation and shutdown interrupt it promptly.
	must(reg.Register("index.build", func(ctx context.Context, payload, traceID string) (any, error) {
		var req struct {
			Index  string `json:"index"`
			Shards int    `json:"shards"`
		}
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			return nil, &registry.FatalError{Cause: fmt.Errorf("malformed index.build payload: %w", err)}
		}
		if req.Shards <= 0 {
			req.Shards = 1
		}
		for i := 0; i < req.Shards; i++ {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}
		return map[string]any{"index": req.Index, "shards": req.Shards}, nil
	}), logger)

	// notify.dispatch: fans a notification out to recipients. An empty
	// recipient list is a caller bug, not a transient fault.
	must(reg.Register("notify.dispatch", func(ctx context.Context, payload, traceID string) (any, error) {
		var req struct {
			Recipients []string `json:"recipients"`
			Template   string   `json:"template"`
		}
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			return nil, &registry.FatalError{Cause: fmt.Errorf("malformed notify.dispatch payload: %w", err)}
		}
		if len(req.Recipients) == 0 {
			return nil, &registry.FatalError{Cause: fmt.Errorf("notify.dispatch requires recipients")}
		}
		return map[string]any{"dispatched": len(req.Recipients), "template": req.Template}, nil
	}), logger)

	// report.generate: slow aggregation used to observe lease renewal.
	must(reg.Register("report.generate", func(ctx context.Context, payload, traceID string) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
		}
		return map[string]any{"generatedAt": time.Now().UnixMilli()}, nil
	}), logger)
}

func must(err error, logger *slog.Logger) {
	if err != nil {
		logger.Error("register handler failed", "err", err)
		os.Exit(1)
	}
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics listener failed", "addr", addr, "err", err)
	}
}
