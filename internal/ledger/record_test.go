package ledger

import (
	"strings"
	"testing"
)

func buildChain(t *testing.T, n int) []Record {
	t.Helper()
	records := make([]Record, 0, n)
	prev := GenesisHash
	for i := 0; i < n; i++ {
		r, err := NewRecord("chain-test", int64(i)+1, prev, map[string]any{
			"decision": "allow",
			"index":    i,
		})
		if err != nil {
			t.Fatalf("new record %d: %v", i, err)
		}
		records = append(records, r)
		prev = r.RecordHash
	}
	return records
}

func TestValidChainValidates(t *testing.T) {
	report := ValidateChain(buildChain(t, 10))
	if !report.Valid {
		t.Fatalf("valid chain rejected: %+v", report)
	}
	if report.BadIndex != -1 {
		t.Fatalf("valid chain reported bad index %d", report.BadIndex)
	}
}

func TestEmptyChainIsValid(t *testing.T) {
	if report := ValidateChain(nil); !report.Valid {
		t.Fatalf("empty chain rejected: %+v", report)
	}
}

func TestMutationIsDetectedAtExactIndex(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(*Record)
	}{
		{"payload", func(r *Record) { r.Payload["decision"] = "deny" }},
		{"recordedAt", func(r *Record) { r.RecordedAt++ }},
		{"chainId", func(r *Record) { r.ChainID = "chain-other" }},
		{"recordHash", func(r *Record) { r.RecordHash = strings.Repeat("0", 64) }},
	}
	for _, m := range mutations {
		records := buildChain(t, 8)
		m.mutate(&records[4])
		report := ValidateChain(records)
		if report.Valid {
			t.Errorf("%s mutation not detected", m.name)
			continue
		}
		// Mutating record 4's content breaks either its own hash check or,
		// for recordHash replacement, record 5's prevHash linkage.
		if report.BadIndex != 4 && report.BadIndex != 5 {
			t.Errorf("%s mutation flagged index %d, want 4 or 5 (%s)",
				m.name, report.BadIndex, report.Reason)
		}
	}
}

func TestSequenceGapDetected(t *testing.T) {
	records := buildChain(t, 6)
	trimmed := append(records[:3:3], records[4:]...)
	report := ValidateChain(trimmed)
	if report.Valid {
		t.Fatal("chain with missing record validated")
	}
	if report.BadIndex != 3 {
		t.Fatalf("gap flagged at %d, want 3 (%s)", report.BadIndex, report.Reason)
	}
}

func TestPrevHashBreakDetected(t *testing.T) {
	records := buildChain(t, 5)
	records[2].PrevHash = strings.Repeat("a", 64)
	report := ValidateChain(records)
	if report.Valid || report.BadIndex != 2 {
		t.Fatalf("prevHash break flagged at %d: %+v", report.BadIndex, report)
	}
}

func TestValidateChainFromMidChain(t *testing.T) {
	records := buildChain(t, 10)
	segment := records[4:]
	report := ValidateChainFrom(segment, records[3].RecordHash)
	if !report.Valid {
		t.Fatalf("mid-chain segment rejected: %+v", report)
	}
	if bad := ValidateChainFrom(segment, GenesisHash); bad.Valid {
		t.Fatal("segment validated against wrong anchor hash")
	}
}

func TestRecordHashExcludesItself(t *testing.T) {
	records := buildChain(t, 1)
	r := records[0]
	h1, err := ComputeRecordHash(&r)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	r.RecordHash = "something-else"
	h2, err := ComputeRecordHash(&r)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Fatal("recordHash field leaked into its own hash input")
	}
}
