package processors

import (
	"fmt"
	"strings"

	"github.com/roach88/streamcore/internal/engine"
	"github.com/roach88/streamcore/internal/record"
	"github.com/roach88/streamcore/internal/state"
)

// activateElementProcessor activates an element instance. A command with
// key 0 creates a new instance; a command with the key of an instance
// paused in ELEMENT_ACTIVATING continues its activation.
type activateElementProcessor struct{ base }

func (p *activateElementProcessor) Process(cmd engine.Command) error {
	value := cmd.Value().(record.ProcessInstanceRecord)
	key := cmd.Key()

	if key == 0 {
		newKey, err := p.st.Keys.NextKey()
		if err != nil {
			return err
		}
		key = newKey
		if value.ProcessInstanceKey == 0 {
			value.ProcessInstanceKey = key
		}
		if value.TenantID == "" {
			value.TenantID = record.DefaultTenantID
		}
		if err := p.w.State.AppendFollowUpEvent(key, record.ElementActivating, value); err != nil {
			return err
		}
	} else {
		instance, ok, err := p.paused(cmd, record.ElementActivating)
		if err != nil || !ok {
			return err
		}
		value = instance.Value
	}

	if value.ResourceID != "" {
		res, found, err := p.findResource(value)
		if err != nil {
			return err
		}
		if !found {
			message := fmt.Sprintf("Expected to find resource with id '%s', but none was deployed", value.ResourceID)
			if value.Version > 0 {
				message = fmt.Sprintf("Expected to find version %d of resource '%s', but it was not deployed", value.Version, value.ResourceID)
			}
			if err := p.createIncident(record.ErrorTypeResourceNotFound, message, key, value, 0); err != nil {
				return err
			}
			return p.w.Response.WriteEventOnCommand(key, record.ElementActivating, value, cmd)
		}
		value.ResourceKey = res.ResourceKey
		value.Version = res.Version
	}

	if value.JobType != "" {
		if err := p.createJob(key, value); err != nil {
			return err
		}
	}

	if err := p.w.State.AppendFollowUpEvent(key, record.ElementActivated, value); err != nil {
		return err
	}
	return p.w.Response.WriteEventOnCommand(key, record.ElementActivated, value, cmd)
}

func (p *activateElementProcessor) findResource(value record.ProcessInstanceRecord) (record.ResourceRecord, bool, error) {
	if value.Version > 0 {
		return p.st.Resources.FindByIDAndVersion(value.TenantID, value.ResourceID, value.Version)
	}
	return p.st.Resources.FindLatestByID(value.TenantID, value.ResourceID)
}

func (p *activateElementProcessor) createJob(instanceKey int64, value record.ProcessInstanceRecord) error {
	jobKey, err := p.st.Keys.NextKey()
	if err != nil {
		return err
	}
	retries := value.JobRetries
	if retries <= 0 {
		retries = p.deps.DefaultJobRetries
	}
	job := record.JobRecord{
		Type:               value.JobType,
		Retries:            retries,
		ResourceID:         value.ResourceID,
		ProcessInstanceKey: value.ProcessInstanceKey,
		ElementID:          value.ElementID,
		ElementInstanceKey: instanceKey,
		TenantID:           value.TenantID,
		Variables:          value.Variables,
	}
	if err := p.w.State.AppendFollowUpEvent(jobKey, record.JobCreated, job); err != nil {
		return err
	}
	p.w.SideEffect.AppendSideEffect(func() error {
		return p.deps.Publisher.Publish(jobKey, job)
	})
	return nil
}

// completeElementProcessor completes an activated element instance, or
// continues the completion of an instance paused in ELEMENT_COMPLETING.
// Variables of the command are merged into the instance first.
type completeElementProcessor struct{ base }

func (p *completeElementProcessor) Process(cmd engine.Command) error {
	key := cmd.Key()
	instance, found, err := p.st.Elements.Get(key)
	if err != nil {
		return err
	}
	if !found {
		return p.reject(cmd, record.RejectionNotFound, fmt.Sprintf(
			"Expected to complete element instance with key '%d', but no such element instance was found", key))
	}

	value := instance.Value
	switch instance.State {
	case record.ElementActivated:
		if instance.JobKey != 0 {
			return p.reject(cmd, record.RejectionInvalidState, fmt.Sprintf(
				"Expected to complete element instance with key '%d', but it waits for job '%d'", key, instance.JobKey))
		}
		merged, err := value.Variables.Merge(cmd.Value().(record.ProcessInstanceRecord).Variables)
		if err != nil {
			return err
		}
		value.Variables = merged
		if err := p.w.State.AppendFollowUpEvent(key, record.ElementCompleting, value); err != nil {
			return err
		}
	case record.ElementCompleting:
		if _, ok, err := p.paused(cmd, record.ElementCompleting); err != nil || !ok {
			return err
		}
	default:
		return p.reject(cmd, record.RejectionInvalidState, fmt.Sprintf(
			"Expected to complete element instance with key '%d', but it is in state %s", key, instance.State))
	}

	if missing := value.MissingVariables(); len(missing) > 0 {
		message := fmt.Sprintf("Expected variables [%s] to be set before completing element '%s', but they are missing",
			strings.Join(missing, ", "), value.ElementID)
		if err := p.createIncident(record.ErrorTypeIOMapping, message, key, value, 0); err != nil {
			return err
		}
		return p.w.Response.WriteEventOnCommand(key, record.ElementCompleting, value, cmd)
	}

	if err := p.w.State.AppendFollowUpEvent(key, record.ElementCompleted, value); err != nil {
		return err
	}
	return p.w.Response.WriteEventOnCommand(key, record.ElementCompleted, value, cmd)
}

// paused loads the element instance of cmd and checks that it is paused in
// want without active incidents. It rejects the command otherwise.
func (b base) paused(cmd engine.Command, want record.Intent) (state.ElementInstance, bool, error) {
	instance, found, err := b.st.Elements.Get(cmd.Key())
	if err != nil {
		return state.ElementInstance{}, false, err
	}
	if !found {
		return state.ElementInstance{}, false, b.reject(cmd, record.RejectionNotFound, fmt.Sprintf(
			"Expected to continue element instance with key '%d', but no such element instance was found", cmd.Key()))
	}
	if instance.State != want {
		return state.ElementInstance{}, false, b.reject(cmd, record.RejectionInvalidState, fmt.Sprintf(
			"Expected element instance with key '%d' to be in state %s, but it is in state %s", cmd.Key(), want, instance.State))
	}
	incidents, err := b.st.Incidents.KeysForElement(cmd.Key())
	if err != nil {
		return state.ElementInstance{}, false, err
	}
	if len(incidents) > 0 {
		return state.ElementInstance{}, false, b.reject(cmd, record.RejectionInvalidState, fmt.Sprintf(
			"Expected element instance with key '%d' to have no active incidents, but incident '%d' is active", cmd.Key(), incidents[0]))
	}
	return instance, true, nil
}
