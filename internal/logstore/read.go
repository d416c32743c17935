package logstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/streamcore/internal/record"
)

const recordColumns = `position, source_position, partition_id, record_key, record_type, value_type,
	intent, rejection_type, rejection_reason, request_stream_id, request_id, actor, value`

// ReadFrom returns up to limit records with position >= from, in position
// order. A limit <= 0 reads to the end of the log.
//
// Returns an empty slice (not nil) when there is nothing to read.
func (s *Store) ReadFrom(ctx context.Context, from int64, limit int) ([]record.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE position >= ?
		ORDER BY position ASC
		LIMIT ?
	`, from, limit)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return scanRecords(rows)
}

// ReadAll returns the whole log in position order.
func (s *Store) ReadAll(ctx context.Context) ([]record.Record, error) {
	return s.ReadFrom(ctx, 1, 0)
}

// ReadBySource returns the records produced while processing the command at
// the given position.
func (s *Store) ReadBySource(ctx context.Context, source int64) ([]record.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE source_position = ?
		ORDER BY position ASC
	`, source)
	if err != nil {
		return nil, fmt.Errorf("query records by source: %w", err)
	}
	return scanRecords(rows)
}

// ReadByKey returns every record carrying the given key.
func (s *Store) ReadByKey(ctx context.Context, key int64) ([]record.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE record_key = ?
		ORDER BY position ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("query records by key: %w", err)
	}
	return scanRecords(rows)
}

// ReadRecord returns the record at a position.
// Returns sql.ErrNoRows if there is none.
func (s *Store) ReadRecord(ctx context.Context, position int64) (record.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE position = ?`, position)
	return scanRecord(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (record.Record, error) {
	var (
		rec        record.Record
		recordType uint8
		valueType  uint8
		intent     string
		rejection  string
	)
	err := row.Scan(
		&rec.Position,
		&rec.SourcePosition,
		&rec.PartitionID,
		&rec.Key,
		&recordType,
		&valueType,
		&intent,
		&rejection,
		&rec.RejectionReason,
		&rec.RequestStreamID,
		&rec.RequestID,
		&rec.Authorization.Actor,
		&rec.Value,
	)
	if err != nil {
		return record.Record{}, err
	}
	rec.RecordType = record.RecordType(recordType)
	rec.ValueType = record.ValueType(valueType)
	rec.Intent = record.Intent(intent)
	rec.RejectionType = record.RejectionType(rejection)
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]record.Record, error) {
	defer rows.Close()

	records := []record.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
