// cmd/enqueue is a signed-envelope demo. It issues a ticket through the
// control plane, then replays the same envelope to show nonce idempotency,
// then submits a tampered payload to show the hash binding rejecting it.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/yourorg/warrant/internal/config"
	"github.com/yourorg/warrant/internal/contracts"
	"github.com/yourorg/warrant/internal/controlplane"
	"github.com/yourorg/warrant/internal/db"
	"github.com/yourorg/warrant/internal/keys"
	"github.com/yourorg/warrant/internal/ledger"
	"github.com/yourorg/warrant/internal/migrate"
	"github.com/yourorg/warrant/internal/queue"
	"github.com/yourorg/warrant/internal/ratelimit"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer pool.Close()

	if err := migrate.Run(ctx, pool); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("parse redis URL: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()
	if err := rc.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// Real deployments configure persistent keys; the demo falls back to an
	// ephemeral pair so it runs out of the box.
	var kp *keys.Provider
	if cfg.TicketPrivateKey != "" {
		kp, err = keys.NewProvider(cfg.TicketPrivateKey, cfg.TicketPublicKey, cfg.ResultHMACSecret)
	} else {
		log.Println("no ticket keys configured; using an ephemeral pair")
		kp, err = keys.NewEphemeralProvider(cfg.ResultHMACSecret)
	}
	if err != nil {
		log.Fatalf("key material: %v", err)
	}

	issuer := &controlplane.Issuer{
		Pool:    pool,
		Limiter: ratelimit.NewLimiter(rc, cfg.RateLimitOps, cfg.RateLimitWindow),
		Keys:    kp,
		Sink:    &ledger.Sink{Pool: pool},
		Logger:  logger,
		Cfg:     cfg,
	}

	payload := `{"recipients":["alice@example.com"],"template":"welcome"}`
	res, err := issuer.SubmitJob(ctx, controlplane.SubmitRequest{
		ActorID:          "demo-actor",
		JobType:          "notify.dispatch",
		Scope:            []string{"notify:send"},
		PolicyDecisionID: "pd-demo-001",
		Payload:          payload,
	})
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	if !res.Validation.Valid {
		log.Fatalf("submit rejected: %s %s", res.Validation.Code, res.Validation.Message)
	}
	log.Printf("submitted: job_id=%s status=%s inserted=%v", res.JobID, res.Status, res.Inserted)

	// Replay the identical envelope. The nonce binds to the job id, so the
	// resubmit resolves to the same row without inserting a duplicate.
	job, err := queue.GetJob(ctx, pool, res.JobID)
	if err != nil {
		log.Fatalf("fetch job: %v", err)
	}
	res2, err := queue.Enqueue(ctx, pool, queue.EnqueueOptions{
		Envelope:    job.Envelope(),
		MaxAttempts: cfg.DefaultMaxAttempts,
		PublicKey:   kp.Public(),
	})
	if err != nil {
		log.Fatalf("enqueue (replay): %v", err)
	}
	log.Printf("replay check: job_id=%s inserted=%v (want inserted=false)", res2.JobID, res2.Inserted)
	if res2.JobID != res.JobID || res2.Inserted {
		log.Fatalf("replay broken: got job_id=%s inserted=%v", res2.JobID, res2.Inserted)
	}
	log.Println("replay OK — same job_id, no duplicate row")

	// Tamper with the payload under the original ticket. The payload hash no
	// longer matches, so the enqueue must reject without inserting.
	tampered := job.Envelope()
	tampered.Payload = `{"recipients":["mallory@example.com"],"template":"welcome"}`
	res3, err := queue.Enqueue(ctx, pool, queue.EnqueueOptions{
		Envelope:    tampered,
		MaxAttempts: cfg.DefaultMaxAttempts,
		PublicKey:   kp.Public(),
	})
	if err != nil {
		log.Fatalf("enqueue (tampered): %v", err)
	}
	if res3.Validation.Valid || res3.Validation.Code != contracts.CodePayloadHashMismatch {
		log.Fatalf("tamper check broken: validation=%+v", res3.Validation)
	}
	log.Printf("tamper check OK — rejected with %s", res3.Validation.Code)
}
