package processors

import (
	"fmt"

	"github.com/roach88/streamcore/internal/engine"
	"github.com/roach88/streamcore/internal/record"
	"github.com/roach88/streamcore/internal/state"
)

// activeJob loads the job of cmd and rejects the command when it does not
// exist or has failed without retries.
func (b base) activeJob(cmd engine.Command, action string) (record.JobRecord, bool, error) {
	job, status, found, err := b.st.Jobs.Get(cmd.Key())
	if err != nil {
		return record.JobRecord{}, false, err
	}
	if !found {
		return record.JobRecord{}, false, b.reject(cmd, record.RejectionNotFound, fmt.Sprintf(
			"Expected to %s job with key '%d', but no such job was found", action, cmd.Key()))
	}
	if status == state.JobFailed {
		return record.JobRecord{}, false, b.reject(cmd, record.RejectionInvalidState, fmt.Sprintf(
			"Expected to %s job with key '%d', but it is failed and has no retries left", action, cmd.Key()))
	}
	return job, true, nil
}

// jobFailProcessor records a failed job attempt. A job without retries
// left raises an incident; otherwise it is published again.
type jobFailProcessor struct{ base }

func (p *jobFailProcessor) Process(cmd engine.Command) error {
	job, ok, err := p.activeJob(cmd, "fail")
	if err != nil || !ok {
		return err
	}
	update := cmd.Value().(record.JobRecord)
	job.Retries = update.Retries
	job.ErrorMessage = update.ErrorMessage

	key := cmd.Key()
	if err := p.w.State.AppendFollowUpEvent(key, record.JobFailed, job); err != nil {
		return err
	}

	if job.Retries <= 0 {
		message := job.ErrorMessage
		if message == "" {
			message = "No more retries left."
		}
		value := record.ProcessInstanceRecord{
			ResourceID:         job.ResourceID,
			ProcessInstanceKey: job.ProcessInstanceKey,
			ElementID:          job.ElementID,
			TenantID:           job.TenantID,
		}
		if err := p.createIncident(record.ErrorTypeJobNoRetries, message, job.ElementInstanceKey, value, key); err != nil {
			return err
		}
	} else {
		p.w.SideEffect.AppendSideEffect(func() error {
			return p.deps.Publisher.Publish(key, job)
		})
	}
	return p.w.Response.WriteEventOnCommand(key, record.JobFailed, job, cmd)
}

// jobUpdateRetriesProcessor sets the retries of a job. It also applies to
// failed jobs: restoring retries is what allows their incident to be
// resolved.
type jobUpdateRetriesProcessor struct{ base }

func (p *jobUpdateRetriesProcessor) Process(cmd engine.Command) error {
	key := cmd.Key()
	job, _, found, err := p.st.Jobs.Get(key)
	if err != nil {
		return err
	}
	if !found {
		return p.reject(cmd, record.RejectionNotFound, fmt.Sprintf(
			"Expected to update retries of job with key '%d', but no such job was found", key))
	}
	retries := cmd.Value().(record.JobRecord).Retries
	if retries < 1 {
		return p.reject(cmd, record.RejectionInvalidArgument, fmt.Sprintf(
			"Expected to update retries of job with key '%d' to a positive number, but got %d", key, retries))
	}

	job.Retries = retries
	if err := p.w.State.AppendFollowUpEvent(key, record.JobRetriesUpdated, job); err != nil {
		return err
	}
	return p.w.Response.WriteEventOnCommand(key, record.JobRetriesUpdated, job, cmd)
}

// jobCompleteProcessor completes a job and continues its element instance
// with a follow-up COMPLETE_ELEMENT command.
type jobCompleteProcessor struct{ base }

func (p *jobCompleteProcessor) Process(cmd engine.Command) error {
	job, ok, err := p.activeJob(cmd, "complete")
	if err != nil || !ok {
		return err
	}
	job.Variables = cmd.Value().(record.JobRecord).Variables

	key := cmd.Key()
	if err := p.w.State.AppendFollowUpEvent(key, record.JobCompleted, job); err != nil {
		return err
	}
	if err := p.w.Command.AppendFollowUpCommand(job.ElementInstanceKey, record.CompleteElement, record.ProcessInstanceRecord{
		ResourceID:         job.ResourceID,
		ProcessInstanceKey: job.ProcessInstanceKey,
		ElementID:          job.ElementID,
		Variables:          job.Variables,
		TenantID:           job.TenantID,
	}); err != nil {
		return err
	}
	return p.w.Response.WriteEventOnCommand(key, record.JobCompleted, job, cmd)
}
