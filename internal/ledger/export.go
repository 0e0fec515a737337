package ledger

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/yourorg/warrant/internal/canonical"
)

// ExportSegment serializes a contiguous seq range of chainID as
// line-delimited JSON, one canonical record per line. Canonical
// serialization per line means two independent exports of the same range
// are byte-identical, which is what segment digests rely on.
func (s *Sink) ExportSegment(ctx context.Context, chainID string, from, to int64) ([]byte, []Record, error) {
	if from < 1 || to < from {
		return nil, nil, fmt.Errorf("invalid segment range [%d, %d]", from, to)
	}
	records, err := s.ReadRange(ctx, chainID, from, to)
	if err != nil {
		return nil, nil, err
	}
	if int64(len(records)) != to-from+1 {
		return nil, nil, fmt.Errorf("segment [%d, %d] incomplete: %d of %d records present",
			from, to, len(records), to-from+1)
	}

	var buf bytes.Buffer
	for i := range records {
		line, err := canonical.Canonicalize(records[i])
		if err != nil {
			return nil, nil, fmt.Errorf("serialize seq %d: %w", records[i].Seq, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), records, nil
}

// ParseSegment decodes a JSONL export back into records. Blank lines are
// skipped; any undecodable line is an error naming its line number.
func ParseSegment(jsonl []byte) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(bytes.NewReader(jsonl))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var r Record
		if err := decodeRecordLine(line, &r); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan segment: %w", err)
	}
	return out, nil
}
