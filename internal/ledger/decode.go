package ledger

import (
	"encoding/json"
	"fmt"
)

func decodeRecordLine(line string, r *Record) error {
	if err := json.Unmarshal([]byte(line), r); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if r.ChainID == "" || r.Seq == 0 || r.RecordHash == "" {
		return fmt.Errorf("record missing chain envelope fields")
	}
	return nil
}
