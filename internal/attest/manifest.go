// Package attest produces and verifies signed manifests over exported audit
// ledger segments. Verification is deliberately independent of the ledger
// process: given only the JSONL bytes, a manifest and a public key, anyone
// can re-establish integrity and provenance.
package attest

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/yourorg/warrant/internal/canonical"
	"github.com/yourorg/warrant/internal/keys"
	"github.com/yourorg/warrant/internal/ledger"
)

// Manifest is the signed metadata for one exported segment.
type Manifest struct {
	ChainID        string `json:"chainId"`
	SegmentName    string `json:"segmentName"`
	SeqStart       int64  `json:"seqStart"`
	SeqEnd         int64  `json:"seqEnd"`
	RecordCount    int64  `json:"recordCount"`
	HeadHash       string `json:"headHash"`
	Digest         string `json:"digest"`
	Signature      string `json:"signature"`
	KeyFingerprint string `json:"keyFingerprint"`
	CreatedAt      int64  `json:"createdAt"`
}

// ComputeSegmentDigest hashes an exported segment's bytes after normalizing
// every line ending to a single LF. Two independently produced exports of
// the same logical content therefore hash identically regardless of the
// platform that wrote them.
func ComputeSegmentDigest(jsonl []byte) string {
	normalized := bytes.ReplaceAll(jsonl, []byte("\r\n"), []byte("\n"))
	normalized = bytes.ReplaceAll(normalized, []byte("\r"), []byte("\n"))
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:])
}

// BuildManifest signs the digest of jsonl and bundles the segment metadata.
// records must be the exact records the export serialized.
func BuildManifest(segmentName string, jsonl []byte, records []ledger.Record, provider *keys.Provider) (Manifest, error) {
	if len(records) == 0 {
		return Manifest{}, fmt.Errorf("build manifest: empty segment")
	}
	digest := ComputeSegmentDigest(jsonl)
	sig, err := provider.Sign([]byte(digest))
	if err != nil {
		return Manifest{}, fmt.Errorf("build manifest: %w", err)
	}
	last := records[len(records)-1]
	return Manifest{
		ChainID:        last.ChainID,
		SegmentName:    segmentName,
		SeqStart:       records[0].Seq,
		SeqEnd:         last.Seq,
		RecordCount:    int64(len(records)),
		HeadHash:       last.RecordHash,
		Digest:         digest,
		Signature:      base64.StdEncoding.EncodeToString(sig),
		KeyFingerprint: provider.Fingerprint(),
		CreatedAt:      time.Now().UnixMilli(),
	}, nil
}

// Marshal serializes the manifest canonically, which is the storage and
// interchange format.
func (m Manifest) Marshal() ([]byte, error) {
	return canonical.Canonicalize(m)
}
