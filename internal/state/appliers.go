package state

import (
	"errors"
	"fmt"

	"github.com/roach88/streamcore/internal/record"
)

// ErrNoApplier is returned for an event without a registered applier.
var ErrNoApplier = errors.New("no event applier")

// EventApplier mutates state for one kind of event.
type EventApplier func(key int64, value record.Value) error

type applierKey struct {
	valueType record.ValueType
	intent    record.Intent
}

// EventAppliers is the only path by which events change state. The same
// appliers run while commands are processed and while the log is replayed,
// which is what makes replay reproduce state exactly.
type EventAppliers struct {
	state    *ProcessingState
	appliers map[applierKey]EventApplier
}

// NewEventAppliers registers the appliers of every event.
func NewEventAppliers(s *ProcessingState) *EventAppliers {
	a := &EventAppliers{state: s, appliers: map[applierKey]EventApplier{}}

	a.register(record.ValueTypeResource, record.ResourceCreated, a.resourceCreated)
	a.register(record.ValueTypeResource, record.ResourceDeleted, a.resourceDeleted)

	a.register(record.ValueTypeIncident, record.IncidentCreated, a.incidentCreated)
	a.register(record.ValueTypeIncident, record.IncidentResolved, a.incidentResolved)

	a.register(record.ValueTypeJob, record.JobCreated, a.jobCreated)
	a.register(record.ValueTypeJob, record.JobFailed, a.jobFailed)
	a.register(record.ValueTypeJob, record.JobRetriesUpdated, a.jobRetriesUpdated)
	a.register(record.ValueTypeJob, record.JobCompleted, a.jobCompleted)

	a.register(record.ValueTypeProcessInstance, record.ElementActivating, a.elementTransition(record.ElementActivating))
	a.register(record.ValueTypeProcessInstance, record.ElementActivated, a.elementTransition(record.ElementActivated))
	a.register(record.ValueTypeProcessInstance, record.ElementCompleting, a.elementTransition(record.ElementCompleting))
	a.register(record.ValueTypeProcessInstance, record.ElementCompleted, a.elementCompleted)

	a.register(record.ValueTypeVariableDocument, record.VariableDocumentUpdated, a.variablesUpdated)

	a.register(record.ValueTypeScale, record.ScalingUp, a.scalingUp)
	a.register(record.ValueTypeScale, record.PartitionBootstrapped, a.partitionBootstrapped)
	a.register(record.ValueTypeScale, record.ScaledUp, noop)
	a.register(record.ValueTypeScale, record.ScaleStatusResponse, noop)

	return a
}

func (a *EventAppliers) register(vt record.ValueType, intent record.Intent, fn EventApplier) {
	k := applierKey{vt, intent}
	if _, dup := a.appliers[k]; dup {
		panic(fmt.Sprintf("duplicate event applier for %s %s", vt, intent))
	}
	a.appliers[k] = fn
}

// Apply applies one event and advances the key generator past its key.
func (a *EventAppliers) Apply(key int64, intent record.Intent, value record.Value) error {
	fn, ok := a.appliers[applierKey{value.ValueType(), intent}]
	if !ok {
		return fmt.Errorf("%w for %s %s", ErrNoApplier, value.ValueType(), intent)
	}
	if err := fn(key, value); err != nil {
		return fmt.Errorf("apply %s %s (key %d): %w", value.ValueType(), intent, key, err)
	}
	return a.state.Keys.SetKeyIfHigher(key)
}

// HasApplier reports whether an applier is registered for an event.
func (a *EventAppliers) HasApplier(vt record.ValueType, intent record.Intent) bool {
	_, ok := a.appliers[applierKey{vt, intent}]
	return ok
}

func noop(int64, record.Value) error { return nil }

func (a *EventAppliers) resourceCreated(_ int64, value record.Value) error {
	return a.state.Resources.Put(value.(record.ResourceRecord))
}

func (a *EventAppliers) resourceDeleted(_ int64, value record.Value) error {
	return a.state.Resources.Delete(value.(record.ResourceRecord))
}

func (a *EventAppliers) incidentCreated(key int64, value record.Value) error {
	return a.state.Incidents.Create(key, value.(record.IncidentRecord))
}

func (a *EventAppliers) incidentResolved(key int64, value record.Value) error {
	incident := value.(record.IncidentRecord)
	if incident.IsJobRelated() {
		job, status, found, err := a.state.Jobs.Get(incident.JobKey)
		if err != nil {
			return err
		}
		if found && status == JobFailed && job.Retries > 0 {
			if err := a.state.Jobs.MakeActivatable(incident.JobKey); err != nil {
				return err
			}
		}
	}
	return a.state.Incidents.Delete(key)
}

func (a *EventAppliers) jobCreated(key int64, value record.Value) error {
	job := value.(record.JobRecord)
	if err := a.state.Jobs.Create(key, job); err != nil {
		return err
	}
	return a.state.Elements.SetJobKey(job.ElementInstanceKey, key)
}

func (a *EventAppliers) jobFailed(key int64, value record.Value) error {
	return a.state.Jobs.Fail(key, value.(record.JobRecord))
}

func (a *EventAppliers) jobRetriesUpdated(key int64, value record.Value) error {
	return a.state.Jobs.UpdateRetries(key, value.(record.JobRecord).Retries)
}

func (a *EventAppliers) jobCompleted(key int64, value record.Value) error {
	job := value.(record.JobRecord)
	if err := a.state.Jobs.Delete(key); err != nil {
		return err
	}
	return a.state.Elements.SetJobKey(job.ElementInstanceKey, 0)
}

func (a *EventAppliers) elementTransition(state record.Intent) EventApplier {
	return func(key int64, value record.Value) error {
		return a.state.Elements.Transition(key, state, value.(record.ProcessInstanceRecord))
	}
}

func (a *EventAppliers) elementCompleted(key int64, _ record.Value) error {
	return a.state.Elements.Remove(key)
}

func (a *EventAppliers) variablesUpdated(_ int64, value record.Value) error {
	doc := value.(record.VariableDocumentRecord)
	return a.state.Elements.MergeVariables(doc.ScopeKey, doc.Variables)
}

func (a *EventAppliers) scalingUp(_ int64, value record.Value) error {
	return a.state.Routing.SetDesiredPartitions(value.(record.ScaleRecord).DesiredPartitions)
}

func (a *EventAppliers) partitionBootstrapped(_ int64, value record.Value) error {
	for _, id := range value.(record.ScaleRecord).RedistributedPartitions {
		if err := a.state.Routing.ActivatePartition(id); err != nil {
			return err
		}
	}
	return nil
}
