package contracts

import (
	"strings"
	"testing"
	"time"

	"github.com/yourorg/warrant/internal/keys"
)

func testProvider(t *testing.T) *keys.Provider {
	t.Helper()
	p, err := keys.NewEphemeralProvider("test-secret")
	if err != nil {
		t.Fatalf("ephemeral provider: %v", err)
	}
	return p
}

func testTicket(t *testing.T, p *keys.Provider, payload string) JobTicket {
	t.Helper()
	now := time.Now()
	ticket, err := SignTicket(TicketParams{
		JobID:            "job-001",
		JobType:          JobTypeIndexBuild,
		ActorID:          "actor-42",
		Scope:            []string{"jobs:execute"},
		PolicyDecisionID: "pd-7",
		RequestedAt:      now,
		ExpiresAt:        now.Add(15 * time.Minute),
		PayloadHash:      ComputePayloadHash(payload),
		Nonce:            "nonce-001",
		TraceID:          "trace-001",
	}, p)
	if err != nil {
		t.Fatalf("sign ticket: %v", err)
	}
	return ticket
}

func TestSignVerifyRoundTrip(t *testing.T) {
	p := testProvider(t)
	ticket := testTicket(t, p, `{"key":"value"}`)
	if !VerifyTicket(&ticket, p.Public()) {
		t.Fatal("freshly signed ticket did not verify")
	}
}

func TestFlippingAnyFieldBreaksSignature(t *testing.T) {
	p := testProvider(t)
	base := testTicket(t, p, `{"key":"value"}`)

	mutations := map[string]func(*JobTicket){
		"jobId":            func(tk *JobTicket) { tk.JobID = "job-002" },
		"jobType":          func(tk *JobTicket) { tk.JobType = JobTypeSchedulerTick },
		"actorId":          func(tk *JobTicket) { tk.ActorID = "actor-43" },
		"scope":            func(tk *JobTicket) { tk.Scope = []string{"jobs:admin"} },
		"policyDecisionId": func(tk *JobTicket) { tk.PolicyDecisionID = "pd-8" },
		"requestedAt":      func(tk *JobTicket) { tk.RequestedAt++ },
		"expiresAt":        func(tk *JobTicket) { tk.ExpiresAt++ },
		"payloadHash":      func(tk *JobTicket) { tk.PayloadHash = ComputePayloadHash("other") },
		"nonce":            func(tk *JobTicket) { tk.Nonce = "nonce-002" },
		"traceId":          func(tk *JobTicket) { tk.TraceID = "trace-002" },
	}
	for field, mutate := range mutations {
		tk := base
		mutate(&tk)
		if VerifyTicket(&tk, p.Public()) {
			t.Errorf("ticket verified after mutating %s", field)
		}
	}
}

func TestMissingSignatureFailsClosed(t *testing.T) {
	p := testProvider(t)
	ticket := testTicket(t, p, "{}")
	ticket.Signature = ""

	if VerifyTicket(&ticket, p.Public()) {
		t.Fatal("unsigned ticket verified")
	}
	v := ValidateTicket(&ticket, "{}", p.Public(), time.Now())
	if v.Valid || v.Code != CodeMissingSignature {
		t.Fatalf("want MISSING_SIGNATURE, got %+v", v)
	}
}

func TestGarbageSignatureAndKeyFailClosed(t *testing.T) {
	p := testProvider(t)
	ticket := testTicket(t, p, "{}")

	ticket.Signature = "not-base64!!!"
	if VerifyTicket(&ticket, p.Public()) {
		t.Fatal("malformed signature verified")
	}

	good := testTicket(t, p, "{}")
	if VerifyTicket(&good, []byte("short")) {
		t.Fatal("truncated public key verified")
	}
}

func TestValidateTicketCodes(t *testing.T) {
	p := testProvider(t)
	payload := `{"key":"value"}`
	now := time.Now()

	cases := []struct {
		name   string
		mutate func(*JobTicket)
		want   string
	}{
		{"missing job id", func(tk *JobTicket) { tk.JobID = "" }, CodeMissingJobID},
		{"unknown job type", func(tk *JobTicket) { tk.JobType = "mystery.job" }, CodeInvalidJobType},
		{"no policy decision", func(tk *JobTicket) { tk.PolicyDecisionID = "" }, CodeMissingPolicyDecision},
		{"expired", func(tk *JobTicket) { tk.ExpiresAt = now.Add(-time.Minute).UnixMilli() }, CodeTicketExpired},
		{"payload mismatch", func(tk *JobTicket) { tk.PayloadHash = ComputePayloadHash("other") }, CodePayloadHashMismatch},
		{"tampered actor", func(tk *JobTicket) { tk.ActorID = "intruder" }, CodeInvalidSignature},
	}
	for _, tc := range cases {
		tk := testTicket(t, p, payload)
		tc.mutate(&tk)
		v := ValidateTicket(&tk, payload, p.Public(), now)
		if v.Valid {
			t.Errorf("%s: validation passed", tc.name)
			continue
		}
		if v.Code != tc.want {
			t.Errorf("%s: code %s, want %s", tc.name, v.Code, tc.want)
		}
	}

	tk := testTicket(t, p, payload)
	if v := ValidateTicket(&tk, payload, p.Public(), now); !v.Valid {
		t.Fatalf("valid ticket rejected: %+v", v)
	}
}

func TestComputePayloadHash(t *testing.T) {
	h := ComputePayloadHash(`{"key":"value"}`)
	if len(h) != 64 {
		t.Fatalf("hash length %d, want 64", len(h))
	}
	if h != strings.ToLower(h) {
		t.Fatal("hash is not lowercase hex")
	}
	if h != ComputePayloadHash(`{"key":"value"}`) {
		t.Fatal("hash is not deterministic")
	}
	if h == ComputePayloadHash(`{"key":"value2"}`) {
		t.Fatal("distinct payloads collided")
	}
	if empty := ComputePayloadHash(""); len(empty) != 64 {
		t.Fatalf("empty payload hash length %d", len(empty))
	}
}
