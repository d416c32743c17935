package processors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streamcore/internal/engine"
	"github.com/roach88/streamcore/internal/record"
	"github.com/roach88/streamcore/internal/state"
)

func TestIncidentResolve_NotFound(t *testing.T) {
	f := newFixture(t, 1)

	for _, k := range []int64{0, 1, key(1), key(99)} {
		recs := f.command(k, record.IncidentResolve, record.IncidentRecord{})
		assert.Equal(t, []string{"R INCIDENT RESOLVE NOT_FOUND"}, summary(recs), "key %d", k)
		assert.True(t, f.lastResponse().Rejected())
	}

	lastApplied, err := f.state.Positions.LastApplied()
	require.NoError(t, err)
	assert.Equal(t, int64(0), lastApplied, "no event was ever appended")
}

// activateMissingResource activates an element whose resource is not
// deployed, which raises a RESOURCE_NOT_FOUND incident. It returns the
// element instance key and the incident key.
func activateMissingResource(t *testing.T, f *fixture, resourceID string) (int64, int64) {
	t.Helper()
	recs := f.command(0, record.ActivateElement, record.ProcessInstanceRecord{ResourceID: resourceID, ElementID: "task"})
	require.Equal(t, []string{
		"E PROCESS_INSTANCE ELEMENT_ACTIVATING",
		"E INCIDENT CREATED",
	}, summary(recs))
	incident := decode[record.IncidentRecord](t, recs[1])
	assert.Equal(t, record.ErrorTypeResourceNotFound, incident.ErrorType)
	assert.Equal(t, recs[0].Key, incident.ElementInstanceKey)
	assert.False(t, incident.IsJobRelated())
	return recs[0].Key, recs[1].Key
}

func TestIncidentResolve_Unauthorized(t *testing.T) {
	f := newFixture(t, 1, withAuthorizer(StaticAuthorizer{Grants: []Grant{
		{Actor: "alice", ResourceType: "*", Permission: "*", ResourceID: "*"},
		{Actor: "bob", ResourceType: ResourceTypeProcessDefinition, Permission: PermissionUpdateProcessInstance, ResourceID: "invoice"},
	}}))
	_, incidentKey := activateMissingResource(t, f, "order")

	recs := f.commandAs("bob", incidentKey, record.IncidentResolve, record.IncidentRecord{})
	assert.Equal(t, []string{"R INCIDENT RESOLVE UNAUTHORIZED"}, summary(recs))
	assert.Contains(t, recs[0].RejectionReason, "UPDATE_PROCESS_INSTANCE")

	_, found, err := f.state.Incidents.Get(incidentKey)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestIncidentResolve_RetriesActivation(t *testing.T) {
	f := newFixture(t, 1)
	instanceKey, incidentKey := activateMissingResource(t, f, "order")
	resourceKey := f.deploy("order", "v1")

	recs := f.command(incidentKey, record.IncidentResolve, record.IncidentRecord{})
	require.Equal(t, []string{
		"E INCIDENT RESOLVED",
		"E PROCESS_INSTANCE ELEMENT_ACTIVATED",
	}, summary(recs))
	assert.Equal(t, incidentKey, recs[0].Key)
	assert.Equal(t, instanceKey, recs[1].Key, "the retry targets the paused element instance")

	resp := f.lastResponse()
	assert.Equal(t, record.IncidentResolved, resp.Intent)
	assert.Equal(t, incidentKey, resp.Key)

	instance, found, err := f.state.Elements.Get(instanceKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, record.ElementActivated, instance.State)
	assert.Equal(t, resourceKey, instance.Value.ResourceKey)

	// Resolution is terminal.
	recs = f.command(incidentKey, record.IncidentResolve, record.IncidentRecord{})
	assert.Equal(t, []string{"R INCIDENT RESOLVE NOT_FOUND"}, summary(recs))
}

func TestIncidentResolve_FailedRetryRaisesNewIncident(t *testing.T) {
	f := newFixture(t, 1)
	instanceKey, incidentKey := activateMissingResource(t, f, "order")

	recs := f.command(incidentKey, record.IncidentResolve, record.IncidentRecord{})
	require.Equal(t, []string{
		"E INCIDENT RESOLVED",
		"E INCIDENT CREATED",
	}, summary(recs))
	assert.NotEqual(t, incidentKey, recs[1].Key)

	keys, err := f.state.Incidents.KeysForElement(instanceKey)
	require.NoError(t, err)
	assert.Equal(t, []int64{recs[1].Key}, keys)
}

func TestIncidentResolve_RetriesCompletion(t *testing.T) {
	f := newFixture(t, 1)

	recs := f.command(0, record.ActivateElement, record.ProcessInstanceRecord{ElementID: "task", RequiredVariables: []string{"amount"}})
	require.Equal(t, []string{
		"E PROCESS_INSTANCE ELEMENT_ACTIVATING",
		"E PROCESS_INSTANCE ELEMENT_ACTIVATED",
	}, summary(recs))
	instanceKey := recs[0].Key

	recs = f.command(instanceKey, record.CompleteElement, record.ProcessInstanceRecord{})
	require.Equal(t, []string{
		"E PROCESS_INSTANCE ELEMENT_COMPLETING",
		"E INCIDENT CREATED",
	}, summary(recs))
	incidentKey := recs[1].Key
	incident := decode[record.IncidentRecord](t, recs[1])
	assert.Equal(t, record.ErrorTypeIOMapping, incident.ErrorType)
	assert.Contains(t, incident.ErrorMessage, "amount")

	recs = f.command(0, record.VariableDocumentUpdate, record.VariableDocumentRecord{
		ScopeKey:  instanceKey,
		Variables: record.Variables{"amount": int64(10)},
	})
	require.Equal(t, []string{"E VARIABLE_DOCUMENT UPDATED"}, summary(recs))

	recs = f.command(incidentKey, record.IncidentResolve, record.IncidentRecord{})
	require.Equal(t, []string{
		"E INCIDENT RESOLVED",
		"E PROCESS_INSTANCE ELEMENT_COMPLETED",
	}, summary(recs))
	assert.Equal(t, instanceKey, recs[1].Key)
	assert.Equal(t, record.Variables{"amount": int64(10)}, decode[record.ProcessInstanceRecord](t, recs[1]).Variables)

	_, found, err := f.state.Elements.Get(instanceKey)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIncidentResolve_JobWithoutRetries(t *testing.T) {
	f := newFixture(t, 1)
	f.deploy("order", "v1")

	recs := f.command(0, record.ActivateElement, record.ProcessInstanceRecord{ResourceID: "order", ElementID: "charge", JobType: "payment"})
	require.Equal(t, []string{
		"E PROCESS_INSTANCE ELEMENT_ACTIVATING",
		"E JOB CREATED",
		"E PROCESS_INSTANCE ELEMENT_ACTIVATED",
	}, summary(recs))
	instanceKey, jobKey := recs[0].Key, recs[1].Key
	assert.Equal(t, []int64{jobKey}, f.jobs.Keys())

	recs = f.command(jobKey, record.JobFail, record.JobRecord{Retries: 0, ErrorMessage: "card declined"})
	require.Equal(t, []string{"E JOB FAILED", "E INCIDENT CREATED"}, summary(recs))
	incidentKey := recs[1].Key
	incident := decode[record.IncidentRecord](t, recs[1])
	assert.Equal(t, record.ErrorTypeJobNoRetries, incident.ErrorType)
	assert.Equal(t, jobKey, incident.JobKey)
	assert.Equal(t, "card declined", incident.ErrorMessage)

	recs = f.command(incidentKey, record.IncidentResolve, record.IncidentRecord{})
	assert.Equal(t, []string{"R INCIDENT RESOLVE INVALID_STATE"}, summary(recs))

	recs = f.command(jobKey, record.JobUpdateRetries, record.JobRecord{Retries: 2})
	require.Equal(t, []string{"E JOB RETRIES_UPDATED"}, summary(recs))
	_, status, _, err := f.state.Jobs.Get(jobKey)
	require.NoError(t, err)
	assert.Equal(t, state.JobFailed, status, "restoring retries alone does not reactivate the job")

	recs = f.command(incidentKey, record.IncidentResolve, record.IncidentRecord{})
	require.Equal(t, []string{"E INCIDENT RESOLVED"}, summary(recs))
	assert.Equal(t, []int64{jobKey, jobKey}, f.jobs.Keys(), "the job is published again after commit")

	job, status, found, err := f.state.Jobs.Get(jobKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, state.JobActivatable, status)
	assert.Equal(t, int32(2), job.Retries)

	recs = f.command(jobKey, record.JobComplete, record.JobRecord{Variables: record.Variables{"paid": true}})
	require.Equal(t, []string{
		"E JOB COMPLETED",
		"C PROCESS_INSTANCE COMPLETE_ELEMENT",
		"E PROCESS_INSTANCE ELEMENT_COMPLETING",
		"E PROCESS_INSTANCE ELEMENT_COMPLETED",
	}, summary(recs))
	assert.Equal(t, instanceKey, recs[1].Key)
}

// pauseElement stores an element instance in the given state with a
// non-job incident, bypassing the processors.
func pauseElement(t *testing.T, f *fixture, instanceState record.Intent) int64 {
	t.Helper()
	instanceKey, incidentKey := key(100), key(101)
	value := record.ProcessInstanceRecord{ElementID: "task", TenantID: record.DefaultTenantID}
	require.NoError(t, f.appliers.Apply(instanceKey, instanceState, value))
	require.NoError(t, f.appliers.Apply(incidentKey, record.IncidentCreated, record.IncidentRecord{
		ErrorType:          record.ErrorTypeUnknown,
		ElementID:          "task",
		ElementInstanceKey: instanceKey,
		TenantID:           record.DefaultTenantID,
	}))
	require.NoError(t, f.state.Commit())
	return incidentKey
}

func TestIncidentResolve_UnsupportedPausedStateIsFatal(t *testing.T) {
	f := newFixture(t, 1)
	incidentKey := pauseElement(t, f, record.ElementActivated)

	pos, err := f.engine.Append(f.ctx, engine.CommandRequest{Key: incidentKey, Intent: record.IncidentResolve, Value: record.IncidentRecord{}})
	require.NoError(t, err)

	err = f.engine.ProcessUntilIdle(f.ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedPausedState)
	assert.True(t, engine.IsFatal(err))

	recs, err := f.log.ReadFrom(f.ctx, pos+1, 0)
	require.NoError(t, err)
	assert.Empty(t, recs, "the aborted round appends nothing")

	_, found, err := f.state.Incidents.Get(incidentKey)
	require.NoError(t, err)
	assert.True(t, found, "the incident stays active")
}

func TestIncidentResolve_PausedStatesMapToRetryCommands(t *testing.T) {
	tests := []struct {
		paused record.Intent
		want   []string
	}{
		{record.ElementActivating, []string{"E INCIDENT RESOLVED", "E PROCESS_INSTANCE ELEMENT_ACTIVATED"}},
		{record.ElementCompleting, []string{"E INCIDENT RESOLVED", "E PROCESS_INSTANCE ELEMENT_COMPLETED"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.paused), func(t *testing.T) {
			f := newFixture(t, 1)
			incidentKey := pauseElement(t, f, tt.paused)

			recs := f.command(incidentKey, record.IncidentResolve, record.IncidentRecord{})
			assert.Equal(t, tt.want, summary(recs))
			assert.Equal(t, key(100), recs[1].Key)
		})
	}
}

func TestIncidentResolve_WithoutElementInstance(t *testing.T) {
	f := newFixture(t, 1)
	require.NoError(t, f.appliers.Apply(key(5), record.IncidentCreated, record.IncidentRecord{
		ErrorType:          record.ErrorTypeUnknown,
		ElementInstanceKey: key(4),
	}))
	require.NoError(t, f.state.Commit())

	recs := f.command(key(5), record.IncidentResolve, record.IncidentRecord{})
	assert.Equal(t, []string{"E INCIDENT RESOLVED"}, summary(recs))
}
