package contracts

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/yourorg/warrant/internal/canonical"
)

// Result statuses.
const (
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// JobResult is the signed outcome an executor reports for one execution
// attempt. Timestamps are Unix milliseconds. The HMAC-SHA-256 signature
// covers every field except ResultData, ErrorCode and ErrorMessage — the
// hash of the result payload is what binds the data.
type JobResult struct {
	JobID        string     `json:"jobId"`
	Status       string     `json:"status"`
	StartedAt    int64      `json:"startedAt"`
	FinishedAt   int64      `json:"finishedAt"`
	ResultHash   string     `json:"resultHash"`
	ResultData   any        `json:"resultData,omitempty"`
	ErrorCode    string     `json:"errorCode,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Metrics      JobMetrics `json:"metrics"`
	TraceID      string     `json:"traceId"`
	WorkerID     string     `json:"workerId"`
	Signature    string     `json:"signature"`
}

// JobMetrics carries execution performance data.
type JobMetrics struct {
	Attempts  int   `json:"attempts"`
	LatencyMs int64 `json:"latencyMs"`
}

type signableResult struct {
	FinishedAt int64      `json:"finishedAt"`
	JobID      string     `json:"jobId"`
	Metrics    JobMetrics `json:"metrics"`
	ResultHash string     `json:"resultHash"`
	StartedAt  int64      `json:"startedAt"`
	Status     string     `json:"status"`
	TraceID    string     `json:"traceId"`
	WorkerID   string     `json:"workerId"`
}

func (r *JobResult) signatureHex(secret string) (string, error) {
	b, err := canonical.Canonicalize(signableResult{
		FinishedAt: r.FinishedAt,
		JobID:      r.JobID,
		Metrics:    r.Metrics,
		ResultHash: r.ResultHash,
		StartedAt:  r.StartedAt,
		Status:     r.Status,
		TraceID:    r.TraceID,
		WorkerID:   r.WorkerID,
	})
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(b)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// SignResult computes the HMAC-SHA-256 signature over the result's signable
// fields and attaches it. An empty secret is a hard error — results are
// never sent unsigned.
func SignResult(r *JobResult, secret string) error {
	if secret == "" {
		return fmt.Errorf("sign result: shared secret is not configured")
	}
	sig, err := r.signatureHex(secret)
	if err != nil {
		return fmt.Errorf("sign result: %w", err)
	}
	r.Signature = sig
	return nil
}

// VerifyResult recomputes the HMAC and compares in constant time. A missing
// secret or any internal failure verifies as false, never as trusted.
func VerifyResult(r *JobResult, secret string) bool {
	if secret == "" || r.Signature == "" {
		return false
	}
	want, err := r.signatureHex(secret)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want), []byte(r.Signature))
}

// ValidateResult is the control-plane check before a reported outcome is
// trusted: structural fields first, then the signature.
func ValidateResult(r *JobResult, secret string) Validation {
	if r.JobID == "" {
		return invalid(CodeMissingJobID, "result has no job id")
	}
	if r.Signature == "" {
		return invalid(CodeMissingSignature, "result is unsigned")
	}
	if secret == "" {
		return invalid(CodeMissingSecret, "no shared secret configured for result verification")
	}
	if !VerifyResult(r, secret) {
		return invalid(CodeInvalidSignature, "result signature did not verify")
	}
	return valid()
}

// ComputeResultHash hashes arbitrary result data through the canonical
// serializer so independently computed hashes agree.
func ComputeResultHash(data any) (string, error) {
	b, err := canonical.Canonicalize(data)
	if err != nil {
		return "", fmt.Errorf("result hash: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
