package record

import (
	"fmt"
	"strings"
)

// DefaultTenantID is used when a command does not name a tenant.
const DefaultTenantID = "<default>"

// Authorization carries the identity a command was submitted with.
// It is always a value, never a pointer, so records compare and encode
// without nil checks.
type Authorization struct {
	Actor string `json:"actor"`
}

// Record is one entry of a partition log.
//
// Position is assigned by the log on append and is strictly increasing per
// partition. SourcePosition points at the command whose processing produced
// the record; it is 0 for commands submitted from outside the partition.
type Record struct {
	Position        int64         `json:"position"`
	SourcePosition  int64         `json:"source_position"`
	PartitionID     int32         `json:"partition_id"`
	Key             int64         `json:"key"`
	RecordType      RecordType    `json:"record_type"`
	ValueType       ValueType     `json:"value_type"`
	Intent          Intent        `json:"intent"`
	RejectionType   RejectionType `json:"rejection_type,omitempty"`
	RejectionReason string        `json:"rejection_reason,omitempty"`
	RequestStreamID string        `json:"request_stream_id,omitempty"`
	RequestID       int64         `json:"request_id,omitempty"`
	Authorization   Authorization `json:"authorization"`
	Value           []byte        `json:"value"`
}

// IsCommand reports whether the record is a command.
func (r Record) IsCommand() bool {
	return r.RecordType == RecordTypeCommand
}

// IsEvent reports whether the record is an event.
func (r Record) IsEvent() bool {
	return r.RecordType == RecordTypeEvent
}

// HasRequest reports whether a client is waiting for a response to the record.
func (r Record) HasRequest() bool {
	return r.RequestStreamID != ""
}

// Compact renders the record as a single trace line:
//
//	p1 #4 E INCIDENT RESOLVED key=2251799813685250 src=3
//
// Rejections append the rejection type. Compact lines are stable across
// replays and are used for golden traces.
func (r Record) Compact() string {
	var b strings.Builder
	fmt.Fprintf(&b, "p%d #%d %s %s %s key=%d src=%d",
		r.PartitionID, r.Position, r.RecordType.Letter(), r.ValueType, r.Intent, r.Key, r.SourcePosition)
	if r.RejectionType != RejectionNone {
		fmt.Fprintf(&b, " rejection=%s", r.RejectionType)
	}
	return b.String()
}
