package contracts

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/yourorg/warrant/internal/canonical"
	"github.com/yourorg/warrant/internal/keys"
)

// Job types form a closed enumeration. A ticket carrying anything else is
// rejected before it reaches the queue.
const (
	JobTypeSchedulerTick  = "scheduler.tick"
	JobTypeIndexBuild     = "index.build"
	JobTypeNotifyDispatch = "notify.dispatch"
	JobTypeReportGenerate = "report.generate"
)

var knownJobTypes = map[string]bool{
	JobTypeSchedulerTick:  true,
	JobTypeIndexBuild:     true,
	JobTypeNotifyDispatch: true,
	JobTypeReportGenerate: true,
}

// ValidJobType reports whether jobType belongs to the closed enumeration.
func ValidJobType(jobType string) bool {
	return knownJobTypes[jobType]
}

// JobTicket is an immutable, signed authorization for one specific job.
// Timestamps are Unix milliseconds. The signature covers every other field
// via canonical serialization.
type JobTicket struct {
	JobID            string   `json:"jobId"`
	JobType          string   `json:"jobType"`
	ActorID          string   `json:"actorId"`
	Scope            []string `json:"scope"`
	PolicyDecisionID string   `json:"policyDecisionId"`
	RequestedAt      int64    `json:"requestedAt"`
	ExpiresAt        int64    `json:"expiresAt"`
	PayloadHash      string   `json:"payloadHash"`
	Nonce            string   `json:"nonce"`
	TraceID          string   `json:"traceId"`
	Signature        string   `json:"signature"`
}

// Envelope is the unit placed on the queue: a ticket plus the exact payload
// it authorizes and the contract version both sides speak.
type Envelope struct {
	Ticket  JobTicket `json:"ticket"`
	Payload string    `json:"payload"`
	Version string    `json:"version"`
}

// ContractVersion tags envelopes produced by this module.
const ContractVersion = "1"

// TicketParams are the caller-supplied fields of a ticket; SignTicket fills
// in the signature.
type TicketParams struct {
	JobID            string
	JobType          string
	ActorID          string
	Scope            []string
	PolicyDecisionID string
	RequestedAt      time.Time
	ExpiresAt        time.Time
	PayloadHash      string
	Nonce            string
	TraceID          string
}

// signableTicket carries every ticket field except the signature. The
// canonical serializer sorts keys, so field order here is cosmetic.
type signableTicket struct {
	ActorID          string   `json:"actorId"`
	ExpiresAt        int64    `json:"expiresAt"`
	JobID            string   `json:"jobId"`
	JobType          string   `json:"jobType"`
	Nonce            string   `json:"nonce"`
	PayloadHash      string   `json:"payloadHash"`
	PolicyDecisionID string   `json:"policyDecisionId"`
	RequestedAt      int64    `json:"requestedAt"`
	Scope            []string `json:"scope"`
	TraceID          string   `json:"traceId"`
}

func (t *JobTicket) signableBytes() ([]byte, error) {
	return canonical.Canonicalize(signableTicket{
		ActorID:          t.ActorID,
		ExpiresAt:        t.ExpiresAt,
		JobID:            t.JobID,
		JobType:          t.JobType,
		Nonce:            t.Nonce,
		PayloadHash:      t.PayloadHash,
		PolicyDecisionID: t.PolicyDecisionID,
		RequestedAt:      t.RequestedAt,
		Scope:            t.Scope,
		TraceID:          t.TraceID,
	})
}

// SignTicket canonicalizes every field except the signature, signs with the
// control plane's Ed25519 key, and returns the completed ticket.
func SignTicket(params TicketParams, provider *keys.Provider) (JobTicket, error) {
	t := JobTicket{
		JobID:            params.JobID,
		JobType:          params.JobType,
		ActorID:          params.ActorID,
		Scope:            params.Scope,
		PolicyDecisionID: params.PolicyDecisionID,
		RequestedAt:      params.RequestedAt.UnixMilli(),
		ExpiresAt:        params.ExpiresAt.UnixMilli(),
		PayloadHash:      params.PayloadHash,
		Nonce:            params.Nonce,
		TraceID:          params.TraceID,
	}
	signable, err := t.signableBytes()
	if err != nil {
		return JobTicket{}, fmt.Errorf("sign ticket: %w", err)
	}
	sig, err := provider.Sign(signable)
	if err != nil {
		return JobTicket{}, fmt.Errorf("sign ticket: %w", err)
	}
	t.Signature = base64.StdEncoding.EncodeToString(sig)
	return t, nil
}

// VerifyTicket reconstructs the canonical signable bytes and checks the
// Ed25519 signature. Every lower-level failure — bad key size, malformed
// base64, serialization error — collapses to false. Never fail open.
func VerifyTicket(t *JobTicket, publicKey ed25519.PublicKey) bool {
	if t.Signature == "" || len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	signable, err := t.signableBytes()
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(t.Signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(publicKey, signable, sig)
}

// ValidateTicket runs the full pre-enqueue check sequence against a ticket
// and the payload it claims to authorize. Nonce replay is checked separately
// at the store layer, inside the enqueue transaction.
func ValidateTicket(t *JobTicket, payload string, publicKey ed25519.PublicKey, now time.Time) Validation {
	if t.JobID == "" {
		return invalid(CodeMissingJobID, "ticket has no job id")
	}
	if t.Signature == "" {
		return invalid(CodeMissingSignature, "ticket is unsigned")
	}
	if !ValidJobType(t.JobType) {
		return invalid(CodeInvalidJobType, fmt.Sprintf("unknown job type %q", t.JobType))
	}
	if t.PolicyDecisionID == "" {
		return invalid(CodeMissingPolicyDecision, "ticket references no policy decision")
	}
	if t.ExpiresAt <= now.UnixMilli() {
		return invalid(CodeTicketExpired,
			fmt.Sprintf("ticket expired at %d, now %d", t.ExpiresAt, now.UnixMilli()))
	}
	if got := ComputePayloadHash(payload); got != t.PayloadHash {
		return invalid(CodePayloadHashMismatch,
			fmt.Sprintf("payload hash %s does not match ticket %s", got, t.PayloadHash))
	}
	if !VerifyTicket(t, publicKey) {
		return invalid(CodeInvalidSignature, "ticket signature did not verify")
	}
	return valid()
}

// ComputePayloadHash binds a ticket to one exact payload: lowercase hex
// SHA-256 of the payload string. Empty payloads hash deterministically too.
func ComputePayloadHash(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
