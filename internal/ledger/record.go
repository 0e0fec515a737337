// Package ledger implements the append-only, hash-chained audit log. Each
// record's hash covers the previous record's hash, so any retroactive edit
// breaks every subsequent link. The Postgres-backed sink enforces the chain
// at append time instead of trusting callers.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/yourorg/warrant/internal/canonical"
)

// GenesisHash is the prev_hash sentinel carried by the first record of every
// chain.
const GenesisHash = "GENESIS"

// Record wraps one decision/outcome payload in the chain envelope.
// RecordedAt is Unix milliseconds so canonical bytes are stable. A record is
// never edited after creation — correction requires a new record.
type Record struct {
	ChainID    string         `json:"chainId"`
	Seq        int64          `json:"seq"`
	RecordedAt int64          `json:"recordedAt"`
	PrevHash   string         `json:"prevHash"`
	RecordHash string         `json:"recordHash"`
	Payload    map[string]any `json:"payload"`
}

// ComputeRecordHash hashes the canonicalized record excluding RecordHash
// itself.
func ComputeRecordHash(r *Record) (string, error) {
	b, err := canonical.Canonicalize(map[string]any{
		"chainId":    r.ChainID,
		"seq":        r.Seq,
		"recordedAt": r.RecordedAt,
		"prevHash":   r.PrevHash,
		"payload":    r.Payload,
	})
	if err != nil {
		return "", fmt.Errorf("record hash: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// NewRecord builds the next record of a chain and seals its hash.
func NewRecord(chainID string, seq int64, prevHash string, payload map[string]any) (Record, error) {
	r := Record{
		ChainID:    chainID,
		Seq:        seq,
		RecordedAt: time.Now().UnixMilli(),
		PrevHash:   prevHash,
		Payload:    payload,
	}
	hash, err := ComputeRecordHash(&r)
	if err != nil {
		return Record{}, err
	}
	r.RecordHash = hash
	return r, nil
}

// ChainReport is the outcome of ValidateChain. BadIndex is -1 on success.
type ChainReport struct {
	Valid    bool
	BadIndex int
	Reason   string
}

// ValidateChain walks records checking sequence continuity, prev-hash
// linkage and that each stored hash matches a fresh recomputation. It
// reports the first violated index; it never repairs — that is an operator
// decision.
func ValidateChain(records []Record) ChainReport {
	prevHash := GenesisHash
	for i := range records {
		r := &records[i]
		if r.Seq != int64(i)+1 {
			return ChainReport{BadIndex: i,
				Reason: fmt.Sprintf("sequence break: record %d has seq %d, want %d", i, r.Seq, i+1)}
		}
		if r.PrevHash != prevHash {
			return ChainReport{BadIndex: i,
				Reason: fmt.Sprintf("hash chain break at seq %d: prevHash %s, want %s", r.Seq, r.PrevHash, prevHash)}
		}
		recomputed, err := ComputeRecordHash(r)
		if err != nil {
			return ChainReport{BadIndex: i,
				Reason: fmt.Sprintf("seq %d: %v", r.Seq, err)}
		}
		if recomputed != r.RecordHash {
			return ChainReport{BadIndex: i,
				Reason: fmt.Sprintf("content hash mismatch at seq %d: stored %s, recomputed %s", r.Seq, r.RecordHash, recomputed)}
		}
		prevHash = r.RecordHash
	}
	return ChainReport{Valid: true, BadIndex: -1}
}

// ValidateChainFrom is ValidateChain for a slice that starts mid-chain, as
// exported segments do. firstPrev is the expected prevHash of records[0] and
// records[0].Seq anchors the sequence check.
func ValidateChainFrom(records []Record, firstPrev string) ChainReport {
	if len(records) == 0 {
		return ChainReport{Valid: true, BadIndex: -1}
	}
	prevHash := firstPrev
	startSeq := records[0].Seq
	for i := range records {
		r := &records[i]
		if r.Seq != startSeq+int64(i) {
			return ChainReport{BadIndex: i,
				Reason: fmt.Sprintf("sequence break: record %d has seq %d, want %d", i, r.Seq, startSeq+int64(i))}
		}
		if r.PrevHash != prevHash {
			return ChainReport{BadIndex: i,
				Reason: fmt.Sprintf("hash chain break at seq %d", r.Seq)}
		}
		recomputed, err := ComputeRecordHash(r)
		if err != nil {
			return ChainReport{BadIndex: i, Reason: fmt.Sprintf("seq %d: %v", r.Seq, err)}
		}
		if recomputed != r.RecordHash {
			return ChainReport{BadIndex: i,
				Reason: fmt.Sprintf("content hash mismatch at seq %d", r.Seq)}
		}
		prevHash = r.RecordHash
	}
	return ChainReport{Valid: true, BadIndex: -1}
}
