package record

import (
	"fmt"
	"strings"
)

// RecordType distinguishes commands, events and command rejections.
type RecordType uint8

const (
	RecordTypeCommand RecordType = iota + 1
	RecordTypeEvent
	RecordTypeCommandRejection
)

func (t RecordType) String() string {
	switch t {
	case RecordTypeCommand:
		return "COMMAND"
	case RecordTypeEvent:
		return "EVENT"
	case RecordTypeCommandRejection:
		return "COMMAND_REJECTION"
	default:
		return fmt.Sprintf("RecordType(%d)", uint8(t))
	}
}

// Letter returns the single-letter form used in compact traces.
func (t RecordType) Letter() string {
	switch t {
	case RecordTypeCommand:
		return "C"
	case RecordTypeEvent:
		return "E"
	case RecordTypeCommandRejection:
		return "R"
	default:
		return "?"
	}
}

// ValueType identifies the kind of value a record carries.
type ValueType uint8

const (
	ValueTypeResource ValueType = iota + 1
	ValueTypeIncident
	ValueTypeJob
	ValueTypeProcessInstance
	ValueTypeVariableDocument
	ValueTypeScale
)

var valueTypeNames = map[ValueType]string{
	ValueTypeResource:         "RESOURCE",
	ValueTypeIncident:         "INCIDENT",
	ValueTypeJob:              "JOB",
	ValueTypeProcessInstance:  "PROCESS_INSTANCE",
	ValueTypeVariableDocument: "VARIABLE_DOCUMENT",
	ValueTypeScale:            "SCALE",
}

func (v ValueType) String() string {
	if name, ok := valueTypeNames[v]; ok {
		return name
	}
	return fmt.Sprintf("ValueType(%d)", uint8(v))
}

// ParseValueType parses the upper-case name of a value type.
func ParseValueType(s string) (ValueType, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for vt, name := range valueTypeNames {
		if name == want {
			return vt, nil
		}
	}
	return 0, fmt.Errorf("unknown value type %q", s)
}

// Intent names what a record means for its value type. Intents are only
// unique together with a value type: RESOURCE CREATED and INCIDENT CREATED
// share a name.
type Intent string

// Resource intents.
const (
	ResourceCreate  Intent = "CREATE"
	ResourceCreated Intent = "CREATED"
	ResourceDelete  Intent = "DELETE"
	ResourceDeleted Intent = "DELETED"
)

// Incident intents.
const (
	IncidentCreated  Intent = "CREATED"
	IncidentResolve  Intent = "RESOLVE"
	IncidentResolved Intent = "RESOLVED"
)

// Job intents.
const (
	JobCreated        Intent = "CREATED"
	JobFail           Intent = "FAIL"
	JobFailed         Intent = "FAILED"
	JobUpdateRetries  Intent = "UPDATE_RETRIES"
	JobRetriesUpdated Intent = "RETRIES_UPDATED"
	JobComplete       Intent = "COMPLETE"
	JobCompleted      Intent = "COMPLETED"
)

// Process instance intents.
const (
	ActivateElement   Intent = "ACTIVATE_ELEMENT"
	ElementActivating Intent = "ELEMENT_ACTIVATING"
	ElementActivated  Intent = "ELEMENT_ACTIVATED"
	CompleteElement   Intent = "COMPLETE_ELEMENT"
	ElementCompleting Intent = "ELEMENT_COMPLETING"
	ElementCompleted  Intent = "ELEMENT_COMPLETED"
)

// Variable document intents.
const (
	VariableDocumentUpdate  Intent = "UPDATE"
	VariableDocumentUpdated Intent = "UPDATED"
)

// Scale intents.
const (
	ScaleUp                   Intent = "SCALE_UP"
	ScalingUp                 Intent = "SCALING_UP"
	MarkPartitionBootstrapped Intent = "MARK_PARTITION_BOOTSTRAPPED"
	PartitionBootstrapped     Intent = "PARTITION_BOOTSTRAPPED"
	ScaledUp                  Intent = "SCALED_UP"
	ScaleStatus               Intent = "STATUS"
	ScaleStatusResponse       Intent = "STATUS_RESPONSE"
)

// intents maps every known (value type, intent) pair to whether it is an event.
var intents = map[ValueType]map[Intent]bool{
	ValueTypeResource: {
		ResourceCreate: false, ResourceCreated: true,
		ResourceDelete: false, ResourceDeleted: true,
	},
	ValueTypeIncident: {
		IncidentCreated: true, IncidentResolve: false, IncidentResolved: true,
	},
	ValueTypeJob: {
		JobCreated: true,
		JobFail:    false, JobFailed: true,
		JobUpdateRetries: false, JobRetriesUpdated: true,
		JobComplete: false, JobCompleted: true,
	},
	ValueTypeProcessInstance: {
		ActivateElement: false, ElementActivating: true, ElementActivated: true,
		CompleteElement: false, ElementCompleting: true, ElementCompleted: true,
	},
	ValueTypeVariableDocument: {
		VariableDocumentUpdate: false, VariableDocumentUpdated: true,
	},
	ValueTypeScale: {
		ScaleUp: false, ScalingUp: true,
		MarkPartitionBootstrapped: false, PartitionBootstrapped: true,
		ScaledUp:    true,
		ScaleStatus: false, ScaleStatusResponse: true,
	},
}

// IsKnown reports whether intent is defined for the value type.
func IsKnown(vt ValueType, intent Intent) bool {
	_, ok := intents[vt][intent]
	return ok
}

// IsEvent reports whether intent is an event intent of the value type.
func IsEvent(vt ValueType, intent Intent) bool {
	return intents[vt][intent]
}

// IsCommand reports whether intent is a command intent of the value type.
func IsCommand(vt ValueType, intent Intent) bool {
	isEvent, ok := intents[vt][intent]
	return ok && !isEvent
}

// RejectionType classifies why a command was rejected.
type RejectionType string

const (
	RejectionNone            RejectionType = ""
	RejectionNotFound        RejectionType = "NOT_FOUND"
	RejectionUnauthorized    RejectionType = "UNAUTHORIZED"
	RejectionInvalidState    RejectionType = "INVALID_STATE"
	RejectionInvalidArgument RejectionType = "INVALID_ARGUMENT"
	RejectionAlreadyExists   RejectionType = "ALREADY_EXISTS"
	RejectionProcessingError RejectionType = "PROCESSING_ERROR"
)

// ErrorType classifies the business failure behind an incident.
type ErrorType string

const (
	ErrorTypeResourceNotFound ErrorType = "RESOURCE_NOT_FOUND"
	ErrorTypeIOMapping        ErrorType = "IO_MAPPING_ERROR"
	ErrorTypeJobNoRetries     ErrorType = "JOB_NO_RETRIES"
	ErrorTypeUnknown          ErrorType = "UNKNOWN"
)
