package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streamcore/internal/record"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObserveRound(t *testing.T) {
	// Partition 901 keeps these series apart from other tests.
	ObserveRound(Round{
		PartitionID: 901,
		Command: record.Record{
			RecordType: record.RecordTypeCommand,
			ValueType:  record.ValueTypeIncident,
			Intent:     record.IncidentResolve,
		},
		Records: []record.Record{
			{RecordType: record.RecordTypeEvent, ValueType: record.ValueTypeIncident, Intent: record.IncidentResolved},
			{RecordType: record.RecordTypeEvent, ValueType: record.ValueTypeProcessInstance, Intent: record.ElementActivating},
			{RecordType: record.RecordTypeEvent, ValueType: record.ValueTypeIncident, Intent: record.IncidentCreated},
		},
		Duration: time.Millisecond,
	})
	ObserveRound(Round{
		PartitionID: 901,
		Command: record.Record{
			RecordType: record.RecordTypeCommand,
			ValueType:  record.ValueTypeScale,
			Intent:     record.ScaleUp,
		},
		Records: []record.Record{
			{RecordType: record.RecordTypeCommandRejection, ValueType: record.ValueTypeScale, RejectionType: record.RejectionInvalidState},
		},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(CommandsProcessed.WithLabelValues("901", "INCIDENT", "RESOLVE")))
	assert.Equal(t, 2.0, testutil.ToFloat64(EventsWritten.WithLabelValues("901", "INCIDENT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(IncidentsCreated.WithLabelValues("901")))
	assert.Equal(t, 1.0, testutil.ToFloat64(IncidentsResolved.WithLabelValues("901")))
	assert.Equal(t, 1.0, testutil.ToFloat64(CommandsRejected.WithLabelValues("901", "SCALE", "INVALID_STATE")))
}

func TestObserveFailure(t *testing.T) {
	ObserveFailure(902)
	assert.Equal(t, 1.0, testutil.ToFloat64(ProcessingFailures.WithLabelValues("902")))
}
