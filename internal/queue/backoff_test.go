package queue

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"testing"
	"time"
)

func TestBackoffIsDeterministic(t *testing.T) {
	for attempt := 0; attempt < 12; attempt++ {
		first := ComputeBackoff("job-abc", attempt)
		for i := 0; i < 5; i++ {
			if again := ComputeBackoff("job-abc", attempt); again != first {
				t.Fatalf("attempt %d: got %v then %v", attempt, first, again)
			}
		}
	}
}

func TestBackoffBaseAndJitterBounds(t *testing.T) {
	for attempt := 0; attempt < 12; attempt++ {
		d := ComputeBackoff("job-abc", attempt)

		baseSecs := int64(1) << attempt
		if baseSecs > backoffCapSeconds {
			baseSecs = backoffCapSeconds
		}
		base := time.Duration(baseSecs) * time.Second

		if d < base {
			t.Fatalf("attempt %d: delay %v below base %v", attempt, d, base)
		}
		if d >= base+jitterRangeMs*time.Millisecond {
			t.Fatalf("attempt %d: delay %v exceeds jitter range above %v", attempt, d, base)
		}
	}
}

// jitterFor recomputes the deterministic jitter the same way ComputeBackoff
// derives it, so tests can separate base from jitter. Truncating the delay
// would not work: jitter can exceed a whole second.
func jitterFor(jobID string, attempt int) time.Duration {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", jobID, attempt)))
	return time.Duration(binary.BigEndian.Uint64(sum[:8])%jitterRangeMs) * time.Millisecond
}

func TestBackoffBaseNeverDecreases(t *testing.T) {
	prevBase := time.Duration(0)
	for attempt := 0; attempt < 15; attempt++ {
		d := ComputeBackoff("job-xyz", attempt)
		base := d - jitterFor("job-xyz", attempt)
		if base < prevBase {
			t.Fatalf("attempt %d: base %v decreased from %v", attempt, base, prevBase)
		}
		prevBase = base
	}
}

func TestBackoffCap(t *testing.T) {
	d := ComputeBackoff("job-abc", 40)
	if d >= (backoffCapSeconds+3)*time.Second {
		t.Fatalf("delay %v not capped", d)
	}
	if d < backoffCapSeconds*time.Second {
		t.Fatalf("delay %v below cap base", d)
	}
}

func TestBackoffVariesAcrossJobs(t *testing.T) {
	// Different job ids should usually land on different jitter values;
	// identical inputs never do. Spot-check a handful of pairs.
	same := 0
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range ids {
		if ComputeBackoff(id, 1) == ComputeBackoff("other", 1) {
			same++
		}
	}
	if same == len(ids) {
		t.Fatal("jitter appears constant across job ids")
	}
}
