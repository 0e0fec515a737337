package attest

import (
	"github.com/yourorg/warrant/internal/ledger"
)

func parseRecords(jsonl []byte) ([]ledger.Record, error) {
	return ledger.ParseSegment(jsonl)
}

// validateParsedChain checks a segment's internal linkage. The segment's
// first record anchors itself: its own prevHash links it to whatever came
// before the export window, which continuity checking across manifests
// covers separately.
func validateParsedChain(records []ledger.Record) ledger.ChainReport {
	return ledger.ValidateChainFrom(records, records[0].PrevHash)
}
