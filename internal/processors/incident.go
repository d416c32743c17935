package processors

import (
	"errors"
	"fmt"

	"github.com/roach88/streamcore/internal/engine"
	"github.com/roach88/streamcore/internal/record"
)

// ErrUnsupportedPausedState means an incident's element instance is paused
// in a state no command can be retried from.
var ErrUnsupportedPausedState = errors.New("unsupported paused state")

// retryIntents maps the state an element pauses in to the command that was
// being processed when it paused.
var retryIntents = map[record.Intent]record.Intent{
	record.ElementActivating: record.ActivateElement,
	record.ElementCompleting: record.CompleteElement,
}

// incidentResolveProcessor resolves an incident and retries what failed.
//
// A job incident is retried by publishing the job again, once its retries
// were restored. Any other incident is retried by re-issuing the command
// the element instance paused in, built from the persisted element
// instance and dispatched in the same round.
type incidentResolveProcessor struct {
	base
	dispatcher engine.Dispatcher
}

func (p *incidentResolveProcessor) Process(cmd engine.Command) error {
	key := cmd.Key()
	incident, found, err := p.st.Incidents.Get(key)
	if err != nil {
		return err
	}
	if !found {
		return p.reject(cmd, record.RejectionNotFound, fmt.Sprintf(
			"Expected to resolve incident with key '%d', but no such incident was found", key))
	}
	if !p.authorized(cmd, ResourceTypeProcessDefinition, PermissionUpdateProcessInstance, incident.ResourceID) {
		return p.reject(cmd, record.RejectionUnauthorized,
			unauthorizedReason(PermissionUpdateProcessInstance, ResourceTypeProcessDefinition, incident.ResourceID))
	}

	var job record.JobRecord
	if incident.IsJobRelated() {
		var jobFound bool
		job, _, jobFound, err = p.st.Jobs.Get(incident.JobKey)
		if err != nil {
			return err
		}
		if !jobFound || job.Retries <= 0 {
			return p.reject(cmd, record.RejectionInvalidState, fmt.Sprintf(
				"Expected to resolve incident with key '%d', but job with key '%d' has no retries left; update the job retries first",
				key, incident.JobKey))
		}
	}

	if err := p.w.State.AppendFollowUpEvent(key, record.IncidentResolved, incident); err != nil {
		return err
	}
	if err := p.w.Response.WriteEventOnCommand(key, record.IncidentResolved, incident, cmd); err != nil {
		return err
	}

	if incident.IsJobRelated() {
		jobKey := incident.JobKey
		p.w.SideEffect.AppendSideEffect(func() error {
			return p.deps.Publisher.Publish(jobKey, job)
		})
		return nil
	}
	return p.retry(incident)
}

func (p *incidentResolveProcessor) retry(incident record.IncidentRecord) error {
	instance, found, err := p.st.Elements.Get(incident.ElementInstanceKey)
	if err != nil {
		return err
	}
	if !found {
		p.deps.Logger.Warn("no paused element instance to retry",
			"element_instance_key", incident.ElementInstanceKey,
			"element_id", incident.ElementID,
		)
		return nil
	}

	intent, ok := retryIntents[instance.State]
	if !ok {
		return fmt.Errorf("%w: element instance %d is in state %s", ErrUnsupportedPausedState, instance.Key, instance.State)
	}
	return p.dispatcher.Dispatch(engine.NewInternalCommand(instance.Key, intent, instance.Value))
}
