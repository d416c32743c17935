// Package harness runs scenarios against real partitions and checks the
// records they write.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: job_incident
//	description: "A job without retries raises an incident"
//	partitions: 1
//	steps:
//	  - command: RESOURCE CREATE
//	    value: { resource_id: order, checksum: c1 }
//	    expect: { intent: CREATED }
//	  - command: JOB FAIL
//	    key_of: JOB CREATED
//	    value: { retries: 0 }
//	  - command: INCIDENT RESOLVE
//	    key_of: INCIDENT CREATED
//	    expect: { rejection: INVALID_STATE }
//	assertions:
//	  - type: intent_sequence
//	    value_type: INCIDENT
//	    intents: [CREATED]
//	  - type: count
//	    record: JOB FAILED
//	    count: 1
//
// A step submits one command and processes the partition until it is
// idle, follow-up commands included. key_of takes the key of the last
// record of the partition with the given value type and intent. Values use
// the JSON field names of the record values.
//
// # Assertion Types
//
//   - intent_sequence: the event intents of a value type, in log order
//   - rejection: a command was rejected with the given type
//   - count: number of records with a value type and intent
//   - latest_version: the latest version of a resource
//
// # Determinism
//
// Every scenario runs in fresh in-memory partitions with a fixed request
// stream id, so traces are identical across runs. After the assertions,
// each partition is reprocessed and rebuilt from its log; a difference is
// reported as an error.
//
// # Golden Traces
//
// RunWithGolden compares the compact trace of a scenario with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
