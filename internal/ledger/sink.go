package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yourorg/warrant/internal/metrics"
)

// ErrAppendOnlyViolation is returned when a record does not extend the
// current head: wrong sequence number or wrong prevHash.
var ErrAppendOnlyViolation = errors.New("ledger: append-only violation")

// Sink is the durable chain writer. The head row is locked inside the
// append transaction, so the chain has a single writer at a time by
// construction.
type Sink struct {
	Pool *pgxpool.Pool
}

func NewSink(pool *pgxpool.Pool) *Sink {
	return &Sink{Pool: pool}
}

// head returns the current length and head hash of chainID, locking the head
// row for the duration of the transaction. An empty chain yields (0, GENESIS).
func head(ctx context.Context, tx pgx.Tx, chainID string) (int64, string, error) {
	var seq int64
	var hash string
	err := tx.QueryRow(ctx, `
		SELECT seq, record_hash FROM audit_records
		WHERE chain_id = $1
		ORDER BY seq DESC
		LIMIT 1
		FOR UPDATE`, chainID).Scan(&seq, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		// Rotation may have moved the live prefix away; the archive still
		// holds the head the next record must link to.
		err = tx.QueryRow(ctx, `
			SELECT seq, record_hash FROM audit_records_archive
			WHERE chain_id = $1
			ORDER BY seq DESC
			LIMIT 1`, chainID).Scan(&seq, &hash)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, GenesisHash, nil
		}
	}
	if err != nil {
		return 0, "", fmt.Errorf("read chain head: %w", err)
	}
	return seq, hash, nil
}

// Append writes r if and only if it extends the chain: seq must equal the
// current length plus one and prevHash must equal the head's hash (or the
// genesis sentinel on an empty chain). Anything else fails with
// ErrAppendOnlyViolation — the sink enforces integrity instead of trusting
// callers.
func (s *Sink) Append(ctx context.Context, r Record) error {
	if hash, err := ComputeRecordHash(&r); err != nil {
		return err
	} else if hash != r.RecordHash {
		return fmt.Errorf("%w: record hash does not match content", ErrAppendOnlyViolation)
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	headSeq, headHash, err := head(ctx, tx, r.ChainID)
	if err != nil {
		return err
	}
	if r.Seq != headSeq+1 {
		return fmt.Errorf("%w: seq %d, chain head is %d", ErrAppendOnlyViolation, r.Seq, headSeq)
	}
	if r.PrevHash != headHash {
		return fmt.Errorf("%w: prevHash %s, head hash is %s", ErrAppendOnlyViolation, r.PrevHash, headHash)
	}

	payloadJSON, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO audit_records (chain_id, seq, recorded_at, prev_hash, record_hash, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ChainID, r.Seq, r.RecordedAt, r.PrevHash, r.RecordHash, payloadJSON)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	metrics.LedgerAppendsTotal.WithLabelValues(r.ChainID).Inc()
	return nil
}

// AppendPayload builds the next record for chainID around payload and
// appends it, holding the head lock across both steps so concurrent
// appenders serialize cleanly.
func (s *Sink) AppendPayload(ctx context.Context, chainID string, payload map[string]any) (Record, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	headSeq, headHash, err := head(ctx, tx, chainID)
	if err != nil {
		return Record{}, err
	}
	r, err := NewRecord(chainID, headSeq+1, headHash, payload)
	if err != nil {
		return Record{}, err
	}

	payloadJSON, err := json.Marshal(r.Payload)
	if err != nil {
		return Record{}, fmt.Errorf("marshal payload: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO audit_records (chain_id, seq, recorded_at, prev_hash, record_hash, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ChainID, r.Seq, r.RecordedAt, r.PrevHash, r.RecordHash, payloadJSON)
	if err != nil {
		return Record{}, fmt.Errorf("insert audit record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("commit append: %w", err)
	}
	metrics.LedgerAppendsTotal.WithLabelValues(chainID).Inc()
	return r, nil
}

// ReadRange returns records of chainID with seq in [from, to], checking the
// archive for rotated prefixes. Results are seq-ascending.
func (s *Sink) ReadRange(ctx context.Context, chainID string, from, to int64) ([]Record, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT chain_id, seq, recorded_at, prev_hash, record_hash, payload FROM (
			SELECT chain_id, seq, recorded_at, prev_hash, record_hash, payload
			FROM audit_records
			WHERE chain_id = $1 AND seq BETWEEN $2 AND $3
			UNION ALL
			SELECT chain_id, seq, recorded_at, prev_hash, record_hash, payload
			FROM audit_records_archive
			WHERE chain_id = $1 AND seq BETWEEN $2 AND $3
		) merged
		ORDER BY seq ASC`, chainID, from, to)
	if err != nil {
		return nil, fmt.Errorf("read range: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var payloadJSON []byte
		if err := rows.Scan(&r.ChainID, &r.Seq, &r.RecordedAt, &r.PrevHash, &r.RecordHash, &payloadJSON); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal(payloadJSON, &r.Payload); err != nil {
			return nil, fmt.Errorf("decode payload seq %d: %w", r.Seq, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Rotate moves the oldest prefix of chainID into the archive when the live
// table exceeds keep records. Content and hashes move unmodified — rotation
// is a read-side concern, never a tamper.
func (s *Sink) Rotate(ctx context.Context, chainID string, keep int64) (int64, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin rotate tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	headSeq, _, err := head(ctx, tx, chainID)
	if err != nil {
		return 0, err
	}
	cutoff := headSeq - keep
	if cutoff <= 0 {
		return 0, nil
	}

	tag, err := tx.Exec(ctx, `
		WITH moved AS (
			DELETE FROM audit_records
			WHERE chain_id = $1 AND seq <= $2
			RETURNING chain_id, seq, recorded_at, prev_hash, record_hash, payload
		)
		INSERT INTO audit_records_archive
			(chain_id, seq, recorded_at, prev_hash, record_hash, payload)
		SELECT chain_id, seq, recorded_at, prev_hash, record_hash, payload FROM moved`,
		chainID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("rotate chain: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit rotate: %w", err)
	}
	return tag.RowsAffected(), nil
}
