package queue

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	backoffCapSeconds = 60
	jitterRangeMs     = 3000
	backoffMaxShift   = 20
)

// ComputeBackoff returns the retry delay before the given attempt may run
// again: min(2^attempt, cap) seconds plus a jitter in [0, 3000) ms derived
// from a hash of the job id and attempt number. The jitter is deterministic
// on purpose — identical (job, attempt) pairs always produce identical
// delays, so retry timing is reproducible in tests and audits. The hash is
// used for spread only, not for security, and the modulo reduction is not
// uniformly distributed; that is accepted.
func ComputeBackoff(jobID string, attempt int) time.Duration {
	shift := attempt
	if shift < 0 {
		shift = 0
	}
	if shift > backoffMaxShift {
		shift = backoffMaxShift
	}
	baseSecs := int64(1) << shift
	if baseSecs > backoffCapSeconds {
		baseSecs = backoffCapSeconds
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", jobID, attempt)))
	jitterMs := binary.BigEndian.Uint64(sum[:8]) % jitterRangeMs

	return time.Duration(baseSecs)*time.Second + time.Duration(jitterMs)*time.Millisecond
}
