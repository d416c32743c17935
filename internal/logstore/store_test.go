package logstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streamcore/internal/record"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testCommand(intent record.Intent, key int64) record.Record {
	return record.Record{
		PartitionID:     1,
		Key:             key,
		RecordType:      record.RecordTypeCommand,
		ValueType:       record.ValueTypeIncident,
		Intent:          intent,
		RequestStreamID: "stream-1",
		RequestID:       7,
		Authorization:   record.Authorization{Actor: "alice"},
		Value:           []byte(`{"job_key":0}`),
	}
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := setupTestStore(t)

	version, err := s.schemaVersion()
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpenRejectsOtherRecordFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE log_meta SET value = '0' WHERE name = 'record_format'`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	require.ErrorIs(t, err, ErrFormatMismatch)
	assert.Contains(t, err.Error(), "log has format 0, expected "+record.FormatVersion)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.db")

	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.Append(context.Background(), testCommand(record.IncidentResolve, 1))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	last, err := s2.LastPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)
}

func TestAppendAssignsIncreasingPositions(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	last, err := s.LastPosition(ctx)
	require.NoError(t, err)
	assert.Zero(t, last)

	positions, err := s.Append(ctx,
		testCommand(record.IncidentResolve, 10),
		testCommand(record.IncidentResolve, 11),
	)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, positions)

	positions, err = s.Append(ctx, testCommand(record.IncidentResolve, 12))
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, positions)

	empty, err := s.Append(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReadRoundTripsAllFields(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	cmd := testCommand(record.IncidentResolve, 42)
	_, err := s.Append(ctx, cmd)
	require.NoError(t, err)

	rejection := record.Record{
		SourcePosition:  1,
		PartitionID:     1,
		Key:             42,
		RecordType:      record.RecordTypeCommandRejection,
		ValueType:       record.ValueTypeIncident,
		Intent:          record.IncidentResolve,
		RejectionType:   record.RejectionNotFound,
		RejectionReason: "no such incident",
		Value:           cmd.Value,
	}
	_, err = s.Append(ctx, rejection)
	require.NoError(t, err)

	records, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	cmd.Position = 1
	assert.Equal(t, cmd, records[0])

	rejection.Position = 2
	rejection.Authorization = record.Authorization{}
	assert.Equal(t, rejection, records[1])
}

func TestReadFromHonoursLimit(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	for i := int64(1); i <= 5; i++ {
		_, err := s.Append(ctx, testCommand(record.IncidentResolve, i))
		require.NoError(t, err)
	}

	records, err := s.ReadFrom(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(2), records[0].Position)
	assert.Equal(t, int64(3), records[1].Position)

	rest, err := s.ReadFrom(ctx, 4, 0)
	require.NoError(t, err)
	assert.Len(t, rest, 2)

	none, err := s.ReadFrom(ctx, 99, 10)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestReadBySourceAndKey(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	_, err := s.Append(ctx, testCommand(record.IncidentResolve, 5))
	require.NoError(t, err)
	_, err = s.Append(ctx, record.Record{
		SourcePosition: 1,
		PartitionID:    1,
		Key:            5,
		RecordType:     record.RecordTypeEvent,
		ValueType:      record.ValueTypeIncident,
		Intent:         record.IncidentResolved,
		Value:          []byte(`{}`),
	})
	require.NoError(t, err)

	produced, err := s.ReadBySource(ctx, 1)
	require.NoError(t, err)
	require.Len(t, produced, 1)
	assert.Equal(t, record.IncidentResolved, produced[0].Intent)

	byKey, err := s.ReadByKey(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, byKey, 2)

	_, err = s.ReadRecord(ctx, 3)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	defer s.Close()

	positions, err := s.Append(ctx, testCommand(record.IncidentResolve, 1))
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, positions)

	records, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
