package ratelimit

import (
	"fmt"
	"time"
)

func actorWindowKey(actorID string, bucket int64) string {
	return fmt.Sprintf("warrant:actor:%s:ops:%d", actorID, bucket)
}

func workerInflightKey(workerID string) string {
	return fmt.Sprintf("warrant:worker:%s:inflight", workerID)
}

func windowBucket(window time.Duration, now time.Time) int64 {
	return now.Unix() / int64(window.Seconds())
}
