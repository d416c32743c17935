package logstore

import (
	"context"
	"fmt"

	"github.com/roach88/streamcore/internal/record"
)

// Append writes records to the end of the log in one transaction and
// returns their assigned positions. The Position field of the input is
// ignored. Either every record is appended or none is.
func (s *Store) Append(ctx context.Context, records ...record.Record) ([]int64, error) {
	if len(records) == 0 {
		return []int64{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records
		(source_position, partition_id, record_key, record_type, value_type, intent,
		 rejection_type, rejection_reason, request_stream_id, request_id, actor, value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("append: prepare: %w", err)
	}
	defer stmt.Close()

	positions := make([]int64, 0, len(records))
	for i, rec := range records {
		value := rec.Value
		if value == nil {
			value = []byte{}
		}
		res, err := stmt.ExecContext(ctx,
			rec.SourcePosition,
			rec.PartitionID,
			rec.Key,
			uint8(rec.RecordType),
			uint8(rec.ValueType),
			string(rec.Intent),
			string(rec.RejectionType),
			rec.RejectionReason,
			rec.RequestStreamID,
			rec.RequestID,
			rec.Authorization.Actor,
			value,
		)
		if err != nil {
			return nil, fmt.Errorf("append record %d: %w", i, err)
		}
		pos, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("append record %d: position: %w", i, err)
		}
		positions = append(positions, pos)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append: commit: %w", err)
	}
	return positions, nil
}
