package reaper

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yourorg/warrant/internal/contracts"
	"github.com/yourorg/warrant/internal/db"
	"github.com/yourorg/warrant/internal/domain"
	"github.com/yourorg/warrant/internal/keys"
	"github.com/yourorg/warrant/internal/migrate"
	"github.com/yourorg/warrant/internal/queue"
)

// Integration tests run only against a disposable database:
//
//	WARRANT_TEST_DATABASE_URL=postgres://... go test ./internal/reaper/
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("WARRANT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("WARRANT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := migrate.Run(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	_, err = pool.Exec(ctx,
		`TRUNCATE jobs, dead_letters, consumed_nonces, execution_log, workers`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// claimedJob enqueues a signed job with the given attempt budget and claims
// it, leaving it PROCESSING under a live lease.
func claimedJob(t *testing.T, pool *pgxpool.Pool, kp *keys.Provider, maxAttempts int) string {
	t.Helper()
	ctx := context.Background()
	payload := `{"recipients":["alice@example.com"],"template":"welcome"}`
	now := time.Now()
	ticket, err := contracts.SignTicket(contracts.TicketParams{
		JobID:            uuid.New().String(),
		JobType:          "notify.dispatch",
		ActorID:          "actor-1",
		Scope:            []string{"notify:send"},
		PolicyDecisionID: "pd-1",
		RequestedAt:      now,
		ExpiresAt:        now.Add(time.Hour),
		PayloadHash:      contracts.ComputePayloadHash(payload),
		Nonce:            uuid.New().String(),
		TraceID:          uuid.New().String(),
	}, kp)
	if err != nil {
		t.Fatalf("sign ticket: %v", err)
	}
	res, err := queue.Enqueue(ctx, pool, queue.EnqueueOptions{
		Envelope:    contracts.Envelope{Ticket: ticket, Payload: payload, Version: contracts.ContractVersion},
		MaxAttempts: maxAttempts,
		PublicKey:   kp.Public(),
	})
	if err != nil || !res.Validation.Valid {
		t.Fatalf("enqueue: res=%+v err=%v", res, err)
	}
	job, err := queue.ClaimNext(ctx, pool, uuid.New().String(), 30)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}
	return job.JobID
}

func expireLease(t *testing.T, pool *pgxpool.Pool, jobID string) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`UPDATE jobs SET lease_until = NOW() - interval '1 second' WHERE job_id = $1`, jobID)
	if err != nil {
		t.Fatal(err)
	}
}

func jobStatus(t *testing.T, pool *pgxpool.Pool, jobID string) *queue.JobStatus {
	t.Helper()
	st, err := queue.GetStatus(context.Background(), pool, jobID)
	if err != nil {
		t.Fatalf("status %s: %v", jobID, err)
	}
	return st
}

func TestSweepRetriesWithinBudgetAndDeadLettersAtBudget(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	kp, _ := keys.NewEphemeralProvider("test-secret")

	// attempts=1 after claim: one has budget left, one is at its budget.
	retryable := claimedJob(t, pool, kp, 3)
	exhausted := claimedJob(t, pool, kp, 1)
	expireLease(t, pool, retryable)
	expireLease(t, pool, exhausted)

	if err := SweepExpiredLeases(ctx, pool, testLogger()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	st := jobStatus(t, pool, retryable)
	if st.Status != domain.StatusFailedRetryable {
		t.Fatalf("stuck job with budget: status = %s, want FAILED_RETRYABLE", st.Status)
	}
	if st.WorkerID != nil || st.LeaseUntil != nil {
		t.Fatalf("requeued job still holds worker=%v lease=%v", st.WorkerID, st.LeaseUntil)
	}

	st = jobStatus(t, pool, exhausted)
	if st.Status != domain.StatusDead {
		t.Fatalf("stuck job at budget: status = %s, want DEAD", st.Status)
	}
	var snapshots int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM dead_letters WHERE job_id = $1`, exhausted).Scan(&snapshots); err != nil {
		t.Fatal(err)
	}
	if snapshots != 1 {
		t.Fatalf("dead_letters rows = %d, want 1", snapshots)
	}
}

func TestSweepLeavesLiveLeasesAlone(t *testing.T) {
	pool := testPool(t)
	kp, _ := keys.NewEphemeralProvider("test-secret")

	jobID := claimedJob(t, pool, kp, 3)

	if err := SweepExpiredLeases(context.Background(), pool, testLogger()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if st := jobStatus(t, pool, jobID); st.Status != domain.StatusProcessing {
		t.Fatalf("live-leased job: status = %s, want PROCESSING", st.Status)
	}
}

func TestReaperLockReleasedBeforePooling(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	// Hold a second session up front so the later check cannot land on the
	// same session that took the lock; advisory locks are reentrant within
	// one session, which would mask a leak.
	other, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire observer: %v", err)
	}
	defer other.Release()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	var won bool
	if err := conn.QueryRow(ctx,
		`SELECT pg_try_advisory_lock($1)`, reaperLockKey).Scan(&won); err != nil || !won {
		t.Fatalf("take lock: won=%v err=%v", won, err)
	}

	// The lock must not ride back into the pool on the released session,
	// or every future election attempt loses to a connection nobody holds.
	releaseReaperLock(conn, testLogger())
	conn.Release()
	if err := other.QueryRow(ctx,
		`SELECT pg_try_advisory_lock($1)`, reaperLockKey).Scan(&won); err != nil {
		t.Fatalf("retake lock: %v", err)
	}
	if !won {
		t.Fatal("advisory lock still held by a pooled session after release")
	}
	if _, err := other.Exec(ctx, `SELECT pg_advisory_unlock($1)`, reaperLockKey); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}
