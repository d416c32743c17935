package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/streamcore/internal/partition"
	"github.com/roach88/streamcore/internal/record"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string          // Assertion type for categorization
	Expected string          // Human-readable expected outcome
	Actual   string          // Human-readable actual outcome
	Trace    []record.Record // Records of the partition for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, rec := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", rec.Compact())
		}
	}
	return buf.String()
}

// AssertionContext gives assertions access to the records and the state of
// the partitions.
type AssertionContext struct {
	Ctx        context.Context
	Records    map[int32][]record.Record
	Partitions map[int32]*partition.Partition
}

// assertIntentSequence checks that the events of a value type carry
// exactly the expected intents, in log order.
func assertIntentSequence(records []record.Record, assertion Assertion) error {
	vt, err := record.ParseValueType(assertion.ValueType)
	if err != nil {
		return err
	}
	var actual []string
	for _, rec := range records {
		if rec.IsEvent() && rec.ValueType == vt {
			actual = append(actual, string(rec.Intent))
		}
	}
	expected := assertion.Intents
	if expected == nil {
		expected = []string{}
	}
	if actual == nil {
		actual = []string{}
	}
	if !slices.Equal(actual, expected) {
		return &AssertionError{
			Type:     AssertIntentSequence,
			Expected: fmt.Sprintf("%s events %v", vt, expected),
			Actual:   fmt.Sprintf("%v", actual),
			Trace:    records,
		}
	}
	return nil
}

// assertRejection checks that a command was rejected with the given type.
func assertRejection(records []record.Record, assertion Assertion) error {
	vt, intent, err := ParseRecordName(assertion.Record)
	if err != nil {
		return err
	}
	var seen []string
	for _, rec := range records {
		if rec.RecordType != record.RecordTypeCommandRejection || rec.ValueType != vt || rec.Intent != intent {
			continue
		}
		if string(rec.RejectionType) == assertion.Rejection {
			return nil
		}
		seen = append(seen, string(rec.RejectionType))
	}
	actual := "no rejection"
	if len(seen) > 0 {
		actual = fmt.Sprintf("rejections %v", seen)
	}
	return &AssertionError{
		Type:     AssertRejection,
		Expected: fmt.Sprintf("%s rejected with %s", assertion.Record, assertion.Rejection),
		Actual:   actual,
		Trace:    records,
	}
}

// assertCount checks how often a value type and intent occur.
func assertCount(records []record.Record, assertion Assertion) error {
	vt, intent, err := ParseRecordName(assertion.Record)
	if err != nil {
		return err
	}
	count := 0
	for _, rec := range records {
		if rec.RecordType != record.RecordTypeCommandRejection && rec.ValueType == vt && rec.Intent == intent {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Record),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    records,
		}
	}
	return nil
}

// assertLatestVersion checks the latest remaining version of a resource.
func assertLatestVersion(p *partition.Partition, assertion Assertion) error {
	tenant := assertion.Tenant
	if tenant == "" {
		tenant = record.DefaultTenantID
	}
	res, found, err := p.State().Resources.FindLatestByID(tenant, assertion.ResourceID)
	if err != nil {
		return err
	}
	actual := "no version"
	if found {
		actual = fmt.Sprintf("version %d", res.Version)
		if res.Version == assertion.Version {
			return nil
		}
	} else if assertion.Version == 0 {
		return nil
	}
	expected := "no version"
	if assertion.Version > 0 {
		expected = fmt.Sprintf("version %d", assertion.Version)
	}
	return &AssertionError{
		Type:     AssertLatestVersion,
		Expected: fmt.Sprintf("latest %s of resource '%s' (tenant %s)", expected, assertion.ResourceID, tenant),
		Actual:   actual,
	}
}

// EvaluateAssertions evaluates all assertions.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		id := assertion.Partition
		if id == 0 {
			id = 1
		}
		records := actx.Records[id]

		var err error
		switch assertion.Type {
		case AssertIntentSequence:
			err = assertIntentSequence(records, assertion)
		case AssertRejection:
			err = assertRejection(records, assertion)
		case AssertCount:
			err = assertCount(records, assertion)
		case AssertLatestVersion:
			p, ok := actx.Partitions[id]
			if !ok {
				err = fmt.Errorf("assertion[%d]: unknown partition %d", i, id)
			} else {
				err = assertLatestVersion(p, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
