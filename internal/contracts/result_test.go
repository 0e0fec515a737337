package contracts

import "testing"

func testResult(t *testing.T) JobResult {
	t.Helper()
	hash, err := ComputeResultHash(map[string]any{"rows": 128})
	if err != nil {
		t.Fatalf("result hash: %v", err)
	}
	return JobResult{
		JobID:      "job-001",
		Status:     StatusSucceeded,
		StartedAt:  1755072000000,
		FinishedAt: 1755072000450,
		ResultHash: hash,
		Metrics:    JobMetrics{Attempts: 1, LatencyMs: 450},
		TraceID:    "trace-001",
		WorkerID:   "worker-a",
	}
}

func TestResultSignVerify(t *testing.T) {
	r := testResult(t)
	if err := SignResult(&r, "shared-secret"); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !VerifyResult(&r, "shared-secret") {
		t.Fatal("signed result did not verify")
	}
	if VerifyResult(&r, "wrong-secret") {
		t.Fatal("result verified under wrong secret")
	}
}

func TestResultTamperDetection(t *testing.T) {
	mutations := map[string]func(*JobResult){
		"status":     func(r *JobResult) { r.Status = StatusFailed },
		"jobId":      func(r *JobResult) { r.JobID = "job-002" },
		"resultHash": func(r *JobResult) { r.ResultHash = ComputePayloadHash("x") },
		"finishedAt": func(r *JobResult) { r.FinishedAt++ },
		"workerId":   func(r *JobResult) { r.WorkerID = "worker-b" },
		"attempts":   func(r *JobResult) { r.Metrics.Attempts++ },
	}
	for field, mutate := range mutations {
		r := testResult(t)
		if err := SignResult(&r, "shared-secret"); err != nil {
			t.Fatalf("sign: %v", err)
		}
		mutate(&r)
		if VerifyResult(&r, "shared-secret") {
			t.Errorf("result verified after mutating %s", field)
		}
	}
}

func TestMissingSecretFailsClosed(t *testing.T) {
	r := testResult(t)
	if err := SignResult(&r, ""); err == nil {
		t.Fatal("signing with empty secret succeeded")
	}
	if err := SignResult(&r, "shared-secret"); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if VerifyResult(&r, "") {
		t.Fatal("verification passed with no secret")
	}
	v := ValidateResult(&r, "")
	if v.Valid || v.Code != CodeMissingSecret {
		t.Fatalf("want MISSING_SECRET, got %+v", v)
	}
}

func TestValidateResult(t *testing.T) {
	r := testResult(t)
	if err := SignResult(&r, "shared-secret"); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if v := ValidateResult(&r, "shared-secret"); !v.Valid {
		t.Fatalf("valid result rejected: %+v", v)
	}

	unsigned := testResult(t)
	if v := ValidateResult(&unsigned, "shared-secret"); v.Valid || v.Code != CodeMissingSignature {
		t.Fatalf("want MISSING_SIGNATURE, got %+v", v)
	}
}
