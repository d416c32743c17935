package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/streamcore/internal/record"
)

// Scenario is a sequence of commands with expectations on the records the
// partitions write for them.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Partitions is the number of partitions to open. Default: 1.
	Partitions int32 `yaml:"partitions,omitempty"`

	// MaxPartitions bounds SCALE_UP. Default: 8.
	MaxPartitions int32 `yaml:"max_partitions,omitempty"`

	// Grants enables authorization. Without grants every actor may do
	// everything.
	Grants []Grant `yaml:"grants,omitempty"`

	// Steps are executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the records after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Grant is one permission of an actor. "*" matches any value.
type Grant struct {
	Actor        string `yaml:"actor"`
	ResourceType string `yaml:"resource_type"`
	Permission   string `yaml:"permission"`
	ResourceID   string `yaml:"resource_id"`
}

// Step submits one command.
type Step struct {
	// Partition receives the command. Default: 1.
	Partition int32 `yaml:"partition,omitempty"`

	// Command is "<VALUE_TYPE> <INTENT>", e.g. "INCIDENT RESOLVE".
	Command string `yaml:"command"`

	// Key is the command key. Mutually exclusive with KeyOf.
	Key int64 `yaml:"key,omitempty"`

	// KeyOf takes the key of the last record matching
	// "<VALUE_TYPE> <INTENT>" in the step's partition.
	KeyOf string `yaml:"key_of,omitempty"`

	// Actor submits the command. Default: "harness".
	Actor string `yaml:"actor,omitempty"`

	// Value holds the fields of the command value.
	Value map[string]any `yaml:"value,omitempty"`

	// Expect validates the response to the command.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the expected response. Exactly one of Intent and
// Rejection is set.
type Expect struct {
	// Intent is the intent of the response event.
	Intent string `yaml:"intent,omitempty"`

	// Rejection is the expected rejection type.
	Rejection string `yaml:"rejection,omitempty"`

	// Reason must be contained in the rejection reason.
	Reason string `yaml:"reason,omitempty"`
}

// Assertion validates the records of a partition.
type Assertion struct {
	// Type specifies the assertion type:
	// - "intent_sequence": event intents of ValueType equal Intents
	// - "rejection": a Record command was rejected with Rejection
	// - "count": Record occurs exactly Count times
	// - "latest_version": the latest version of ResourceID is Version
	Type string `yaml:"type"`

	// Partition whose records are checked. Default: 1.
	Partition int32 `yaml:"partition,omitempty"`

	// ValueType is used by intent_sequence.
	ValueType string `yaml:"value_type,omitempty"`

	// Intents is the expected sequence (intent_sequence).
	Intents []string `yaml:"intents,omitempty"`

	// Record is "<VALUE_TYPE> <INTENT>" (rejection, count).
	Record string `yaml:"record,omitempty"`

	// Rejection is the expected rejection type (rejection).
	Rejection string `yaml:"rejection,omitempty"`

	// Count is the expected number of records (count).
	Count int `yaml:"count,omitempty"`

	// Tenant, ResourceID and Version are used by latest_version. Version 0
	// expects no remaining version.
	Tenant     string `yaml:"tenant,omitempty"`
	ResourceID string `yaml:"resource_id,omitempty"`
	Version    int64  `yaml:"version,omitempty"`
}

// Assertion type constants.
const (
	AssertIntentSequence = "intent_sequence"
	AssertRejection      = "rejection"
	AssertCount          = "count"
	AssertLatestVersion  = "latest_version"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is invalid.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses a scenario from YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that the scenario can run.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	if s.Partitions < 0 || s.Partitions > record.MaxPartitionID {
		return fmt.Errorf("partitions must be between 1 and %d", record.MaxPartitionID)
	}
	count := s.partitionCount()

	for i, step := range s.Steps {
		if _, _, err := ParseCommand(step.Command); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if step.Partition < 0 || step.Partition > count {
			return fmt.Errorf("step %d: partition %d is not one of the %d partitions", i, step.Partition, count)
		}
		if step.Key != 0 && step.KeyOf != "" {
			return fmt.Errorf("step %d: key and key_of are mutually exclusive", i)
		}
		if step.KeyOf != "" {
			if _, _, err := ParseRecordName(step.KeyOf); err != nil {
				return fmt.Errorf("step %d: key_of: %w", i, err)
			}
		}
		if e := step.Expect; e != nil && (e.Intent == "") == (e.Rejection == "") {
			return fmt.Errorf("step %d: expect needs exactly one of intent and rejection", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertion %d (%s): %w", i, a.Type, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertIntentSequence:
		if _, err := record.ParseValueType(a.ValueType); err != nil {
			return err
		}
	case AssertRejection:
		if a.Rejection == "" {
			return fmt.Errorf("rejection is required")
		}
		if _, _, err := ParseRecordName(a.Record); err != nil {
			return err
		}
	case AssertCount:
		if _, _, err := ParseRecordName(a.Record); err != nil {
			return err
		}
	case AssertLatestVersion:
		if a.ResourceID == "" {
			return fmt.Errorf("resource_id is required")
		}
	default:
		return fmt.Errorf("unknown assertion type")
	}
	return nil
}

func (s *Scenario) partitionCount() int32 {
	if s.Partitions == 0 {
		return 1
	}
	return s.Partitions
}

// ParseRecordName parses "<VALUE_TYPE> <INTENT>", for example
// "INCIDENT CREATED".
func ParseRecordName(name string) (record.ValueType, record.Intent, error) {
	fields := strings.Fields(name)
	if len(fields) != 2 {
		return 0, "", fmt.Errorf("expected \"<VALUE_TYPE> <INTENT>\", got %q", name)
	}
	vt, err := record.ParseValueType(fields[0])
	if err != nil {
		return 0, "", err
	}
	intent := record.Intent(fields[1])
	if !record.IsKnown(vt, intent) {
		return 0, "", fmt.Errorf("unknown intent %s of %s", intent, vt)
	}
	return vt, intent, nil
}

// ParseCommand parses a record name that must be a command.
func ParseCommand(name string) (record.ValueType, record.Intent, error) {
	vt, intent, err := ParseRecordName(name)
	if err != nil {
		return 0, "", err
	}
	if !record.IsCommand(vt, intent) {
		return 0, "", fmt.Errorf("%s %s is not a command", vt, intent)
	}
	return vt, intent, nil
}
