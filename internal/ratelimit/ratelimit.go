// Package ratelimit enforces the per-actor operation budget and tracks
// per-worker inflight executions, both backed by Redis so every control
// plane instance sees the same counts.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter bounds each actor to Ops operations per Window. Exceeding the
// budget yields a rejection, not a queued wait.
type Limiter struct {
	Client *redis.Client
	Ops    int
	Window time.Duration
}

func NewLimiter(rc *redis.Client, ops int, window time.Duration) *Limiter {
	if ops <= 0 {
		ops = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{Client: rc, Ops: ops, Window: window}
}

// Allow consumes one operation from actorID's current window and reports
// whether it fit the budget. The counter and its expiry are set in one
// pipeline so an abandoned window cleans itself up.
func (l *Limiter) Allow(ctx context.Context, actorID string) (bool, error) {
	key := actorWindowKey(actorID, windowBucket(l.Window, time.Now()))

	pipe := l.Client.TxPipeline()
	count := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*l.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit check for %s: %w", actorID, err)
	}
	return count.Val() <= int64(l.Ops), nil
}

// Remaining reports how many operations actorID has left in the current
// window. Informational; Allow is the authoritative check.
func (l *Limiter) Remaining(ctx context.Context, actorID string) (int, error) {
	key := actorWindowKey(actorID, windowBucket(l.Window, time.Now()))
	used, err := l.Client.Get(ctx, key).Int()
	if err == redis.Nil {
		return l.Ops, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rate limit remaining for %s: %w", actorID, err)
	}
	left := l.Ops - used
	if left < 0 {
		left = 0
	}
	return left, nil
}

// ClaimInflight records a job id in the worker's inflight SET. Using a SET
// (not a counter) means release is idempotent — a crashed worker or a
// double-release can never push the count negative.
func ClaimInflight(ctx context.Context, rc *redis.Client, workerID, jobID string) error {
	return rc.SAdd(ctx, workerInflightKey(workerID), jobID).Err()
}

// ReleaseInflight removes a job id from the worker's inflight SET. Safe to
// call multiple times; SREM on a missing member is a no-op.
func ReleaseInflight(ctx context.Context, rc *redis.Client, workerID, jobID string) error {
	return rc.SRem(ctx, workerInflightKey(workerID), jobID).Err()
}

// InflightCount returns the number of executions workerID currently holds.
func InflightCount(ctx context.Context, rc *redis.Client, workerID string) (int64, error) {
	return rc.SCard(ctx, workerInflightKey(workerID)).Result()
}
