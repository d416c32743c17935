package record

import (
	"slices"
	"strings"
)

// Value is implemented by every record value.
type Value interface {
	ValueType() ValueType
}

// ResourceRecord is a deployed, versioned resource. Resources are immutable
// once created and are removed only by a deletion event.
type ResourceRecord struct {
	ResourceID    string `json:"resource_id"`
	Version       int64  `json:"version"`
	ResourceKey   int64  `json:"resource_key"`
	TenantID      string `json:"tenant_id"`
	DeploymentKey int64  `json:"deployment_key"`
	VersionTag    string `json:"version_tag,omitempty"`
	ResourceName  string `json:"resource_name,omitempty"`
	Checksum      string `json:"checksum,omitempty"`
	Payload       []byte `json:"payload,omitempty"`
}

func (ResourceRecord) ValueType() ValueType { return ValueTypeResource }

// HasVersionTag reports whether the resource carries a non-blank version tag.
func (r ResourceRecord) HasVersionTag() bool {
	return strings.TrimSpace(r.VersionTag) != ""
}

// IncidentRecord describes a business failure that pauses an element
// instance until it is resolved. JobKey is 0 when the incident is not
// related to a job.
type IncidentRecord struct {
	ErrorType          ErrorType `json:"error_type"`
	ErrorMessage       string    `json:"error_message"`
	ResourceID         string    `json:"resource_id"`
	ProcessInstanceKey int64     `json:"process_instance_key"`
	ElementID          string    `json:"element_id"`
	ElementInstanceKey int64     `json:"element_instance_key"`
	JobKey             int64     `json:"job_key"`
	TenantID           string    `json:"tenant_id"`
}

func (IncidentRecord) ValueType() ValueType { return ValueTypeIncident }

// IsJobRelated reports whether the incident was raised for a job.
func (r IncidentRecord) IsJobRelated() bool {
	return r.JobKey > 0
}

// JobRecord is a unit of work handed to an external worker.
type JobRecord struct {
	Type               string    `json:"type"`
	Retries            int32     `json:"retries"`
	ErrorMessage       string    `json:"error_message,omitempty"`
	ResourceID         string    `json:"resource_id"`
	ProcessInstanceKey int64     `json:"process_instance_key"`
	ElementID          string    `json:"element_id"`
	ElementInstanceKey int64     `json:"element_instance_key"`
	TenantID           string    `json:"tenant_id"`
	Variables          Variables `json:"variables,omitempty"`
}

func (JobRecord) ValueType() ValueType { return ValueTypeJob }

// ProcessInstanceRecord is the value of an element instance of a process.
//
// JobType, when set, makes activation create a job. RequiredVariables must
// all be present before the element can complete.
type ProcessInstanceRecord struct {
	ResourceID         string    `json:"resource_id"`
	ResourceKey        int64     `json:"resource_key"`
	Version            int64     `json:"version"`
	ProcessInstanceKey int64     `json:"process_instance_key"`
	ElementID          string    `json:"element_id"`
	JobType            string    `json:"job_type,omitempty"`
	JobRetries         int32     `json:"job_retries,omitempty"`
	RequiredVariables  []string  `json:"required_variables,omitempty"`
	Variables          Variables `json:"variables,omitempty"`
	TenantID           string    `json:"tenant_id"`
}

func (ProcessInstanceRecord) ValueType() ValueType { return ValueTypeProcessInstance }

// MissingVariables returns the required variables that are not set, sorted.
func (r ProcessInstanceRecord) MissingVariables() []string {
	var missing []string
	for _, name := range r.RequiredVariables {
		if _, ok := r.Variables[name]; !ok {
			missing = append(missing, name)
		}
	}
	slices.Sort(missing)
	return missing
}

// VariableDocumentRecord updates the variables of an element instance.
type VariableDocumentRecord struct {
	ScopeKey  int64     `json:"scope_key"`
	Variables Variables `json:"variables"`
	TenantID  string    `json:"tenant_id"`
}

func (VariableDocumentRecord) ValueType() ValueType { return ValueTypeVariableDocument }

// ScaleRecord drives the partition scale-up protocol.
type ScaleRecord struct {
	DesiredPartitionCount   int32   `json:"desired_partition_count"`
	RedistributedPartitions []int32 `json:"redistributed_partitions,omitempty"`
	DesiredPartitions       []int32 `json:"desired_partitions,omitempty"`
	CurrentPartitions       []int32 `json:"current_partitions,omitempty"`
}

func (ScaleRecord) ValueType() ValueType { return ValueTypeScale }
