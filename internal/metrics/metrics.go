// Package metrics defines the Prometheus collectors of the processing
// engine. Collectors are package-level so that every partition in a process
// reports into the same series, labelled by partition.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/streamcore/internal/record"
)

var (
	CommandsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcore_commands_processed_total",
		Help: "Commands processed, by value type and intent",
	}, []string{"partition", "value_type", "intent"})

	CommandsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcore_commands_rejected_total",
		Help: "Commands rejected, by rejection type",
	}, []string{"partition", "value_type", "rejection_type"})

	EventsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcore_events_written_total",
		Help: "Events appended to the log, by value type",
	}, []string{"partition", "value_type"})

	IncidentsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcore_incidents_created_total",
		Help: "Incidents raised",
	}, []string{"partition"})

	IncidentsResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcore_incidents_resolved_total",
		Help: "Incidents resolved",
	}, []string{"partition"})

	ProcessingFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcore_processing_failures_total",
		Help: "Rounds aborted with a fatal error",
	}, []string{"partition"})

	RoundDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streamcore_round_duration_ms",
		Help:    "Duration of one processing round in milliseconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"partition"})
)

var collectors = []prometheus.Collector{
	CommandsProcessed,
	CommandsRejected,
	EventsWritten,
	IncidentsCreated,
	IncidentsResolved,
	ProcessingFailures,
	RoundDuration,
}

// Register registers the engine metrics on the given registry (or default if nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// Round describes one committed processing round.
type Round struct {
	PartitionID int32
	Command     record.Record
	Records     []record.Record
	Duration    time.Duration
}

// ObserveRound records a committed round. Duration is wall-clock time and
// only ever reaches metrics, never records or state.
func ObserveRound(r Round) {
	partition := strconv.Itoa(int(r.PartitionID))
	CommandsProcessed.WithLabelValues(partition, r.Command.ValueType.String(), string(r.Command.Intent)).Inc()
	RoundDuration.WithLabelValues(partition).Observe(float64(r.Duration.Microseconds()) / 1000)

	for _, rec := range r.Records {
		switch rec.RecordType {
		case record.RecordTypeCommandRejection:
			CommandsRejected.WithLabelValues(partition, rec.ValueType.String(), string(rec.RejectionType)).Inc()
		case record.RecordTypeEvent:
			EventsWritten.WithLabelValues(partition, rec.ValueType.String()).Inc()
			if rec.ValueType != record.ValueTypeIncident {
				continue
			}
			switch rec.Intent {
			case record.IncidentCreated:
				IncidentsCreated.WithLabelValues(partition).Inc()
			case record.IncidentResolved:
				IncidentsResolved.WithLabelValues(partition).Inc()
			}
		}
	}
}

// ObserveFailure records a round aborted with a fatal error.
func ObserveFailure(partitionID int32) {
	ProcessingFailures.WithLabelValues(strconv.Itoa(int(partitionID))).Inc()
}
