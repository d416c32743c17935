package processors

import (
	"fmt"
	"log/slog"

	"github.com/roach88/streamcore/internal/engine"
	"github.com/roach88/streamcore/internal/record"
	"github.com/roach88/streamcore/internal/state"
)

// Resource types and permissions checked by the processors.
const (
	ResourceTypeProcessDefinition = "PROCESS_DEFINITION"
	ResourceTypeResource          = "RESOURCE"

	PermissionUpdateProcessInstance = "UPDATE_PROCESS_INSTANCE"
	PermissionCreate                = "CREATE"
	PermissionDelete                = "DELETE"
)

// DefaultJobRetries is the number of retries of a job whose element does
// not name one.
const DefaultJobRetries = 3

// Authorizer decides whether an actor holds a permission on a resource.
type Authorizer interface {
	IsAuthorized(actor, resourceType, permission, resourceID string) bool
}

// AllowAll authorizes everything.
type AllowAll struct{}

// IsAuthorized always returns true.
func (AllowAll) IsAuthorized(string, string, string, string) bool { return true }

// Grant is one permission of an actor. "*" matches any value.
type Grant struct {
	Actor        string `json:"actor"`
	ResourceType string `json:"resourceType"`
	Permission   string `json:"permission"`
	ResourceID   string `json:"resourceId"`
}

func (g Grant) matches(actor, resourceType, permission, resourceID string) bool {
	return matchWildcard(g.Actor, actor) &&
		matchWildcard(g.ResourceType, resourceType) &&
		matchWildcard(g.Permission, permission) &&
		matchWildcard(g.ResourceID, resourceID)
}

func matchWildcard(pattern, value string) bool {
	return pattern == "*" || pattern == value
}

// StaticAuthorizer authorizes from a fixed list of grants.
type StaticAuthorizer struct {
	Grants []Grant
}

// IsAuthorized reports whether any grant matches.
func (a StaticAuthorizer) IsAuthorized(actor, resourceType, permission, resourceID string) bool {
	for _, g := range a.Grants {
		if g.matches(actor, resourceType, permission, resourceID) {
			return true
		}
	}
	return false
}

// JobPublisher hands jobs that became activatable to workers. Publish runs
// as a side effect after the round is committed; its error is logged and
// otherwise ignored.
type JobPublisher interface {
	Publish(jobKey int64, job record.JobRecord) error
}

// JobPublisherFunc adapts a function to the JobPublisher interface.
type JobPublisherFunc func(jobKey int64, job record.JobRecord) error

// Publish calls f(jobKey, job).
func (f JobPublisherFunc) Publish(jobKey int64, job record.JobRecord) error {
	return f(jobKey, job)
}

// Deps are the collaborators and settings of the processors.
type Deps struct {
	Authorizer        Authorizer
	Publisher         JobPublisher
	MaxPartitionCount int32
	DefaultJobRetries int32
	Logger            *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Authorizer == nil {
		d.Authorizer = AllowAll{}
	}
	if d.Publisher == nil {
		d.Publisher = JobPublisherFunc(func(int64, record.JobRecord) error { return nil })
	}
	if d.MaxPartitionCount <= 0 || d.MaxPartitionCount > record.MaxPartitionID {
		d.MaxPartitionCount = record.MaxPartitionID
	}
	if d.DefaultJobRetries <= 0 {
		d.DefaultJobRetries = DefaultJobRetries
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// base is embedded by every processor.
type base struct {
	st   *state.ProcessingState
	w    *engine.Writers
	deps Deps
}

func (b base) reject(cmd engine.Command, rejectionType record.RejectionType, reason string) error {
	b.w.Rejection.AppendRejection(cmd, rejectionType, reason)
	b.w.Response.WriteRejectionOnCommand(cmd, rejectionType, reason)
	return nil
}

func (b base) authorized(cmd engine.Command, resourceType, permission, resourceID string) bool {
	// Internal commands were authorized with the command that caused them.
	if _, logged := cmd.Origin(); !logged {
		return true
	}
	return b.deps.Authorizer.IsAuthorized(engine.Actor(cmd), resourceType, permission, resourceID)
}

func unauthorizedReason(permission, resourceType, resourceID string) string {
	return fmt.Sprintf("Insufficient permissions to perform operation '%s' on resource '%s', required resource identifiers are one of '[*, %s]'",
		permission, resourceType, resourceID)
}

// createIncident raises an incident for an element instance.
func (b base) createIncident(errorType record.ErrorType, message string, instanceKey int64, value record.ProcessInstanceRecord, jobKey int64) error {
	key, err := b.st.Keys.NextKey()
	if err != nil {
		return err
	}
	return b.w.State.AppendFollowUpEvent(key, record.IncidentCreated, record.IncidentRecord{
		ErrorType:          errorType,
		ErrorMessage:       message,
		ResourceID:         value.ResourceID,
		ProcessInstanceKey: value.ProcessInstanceKey,
		ElementID:          value.ElementID,
		ElementInstanceKey: instanceKey,
		JobKey:             jobKey,
		TenantID:           value.TenantID,
	})
}

// Register builds every processor and registers it on the table.
func Register(table *engine.Table, st *state.ProcessingState, w *engine.Writers, deps Deps) {
	deps = deps.withDefaults()
	b := base{st: st, w: w, deps: deps}

	table.Register(record.ValueTypeResource, record.ResourceCreate, &resourceCreateProcessor{b})
	table.Register(record.ValueTypeResource, record.ResourceDelete, &resourceDeleteProcessor{b})

	table.Register(record.ValueTypeIncident, record.IncidentResolve, &incidentResolveProcessor{base: b, dispatcher: table})

	table.Register(record.ValueTypeProcessInstance, record.ActivateElement, &activateElementProcessor{b})
	table.Register(record.ValueTypeProcessInstance, record.CompleteElement, &completeElementProcessor{b})

	table.Register(record.ValueTypeVariableDocument, record.VariableDocumentUpdate, &variableUpdateProcessor{b})

	table.Register(record.ValueTypeJob, record.JobFail, &jobFailProcessor{b})
	table.Register(record.ValueTypeJob, record.JobUpdateRetries, &jobUpdateRetriesProcessor{b})
	table.Register(record.ValueTypeJob, record.JobComplete, &jobCompleteProcessor{b})

	table.Register(record.ValueTypeScale, record.ScaleUp, &scaleUpProcessor{b})
	table.Register(record.ValueTypeScale, record.MarkPartitionBootstrapped, &markBootstrappedProcessor{b})
	table.Register(record.ValueTypeScale, record.ScaleStatus, &scaleStatusProcessor{b})
}
