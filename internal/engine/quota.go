package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxRoundRecords bounds the records one command may produce.
const DefaultMaxRoundRecords = 1024

// ErrRoundQuotaExceeded means a command produced more records than the
// round quota allows.
var ErrRoundQuotaExceeded = errors.New("round quota exceeded")

// RoundQuota limits how many records a single processing round appends.
//
// A processor that fans out without bound (an element with thousands of
// follow-ups, say) would otherwise write an arbitrarily large batch to the
// log in one append. The engine discards such a round and rejects the
// command instead. The limit is part of processing, so a partition must
// be replayed with the quota it was processed with.
type RoundQuota struct {
	maxRecords int
}

// NewRoundQuota creates a quota of maxRecords records per round. A
// non-positive limit disables the quota.
func NewRoundQuota(maxRecords int) RoundQuota {
	return RoundQuota{maxRecords: maxRecords}
}

// MaxRecords returns the limit, 0 when disabled.
func (q RoundQuota) MaxRecords() int {
	if q.maxRecords < 0 {
		return 0
	}
	return q.maxRecords
}

// Check returns a RoundQuotaError if records exceeds the limit.
func (q RoundQuota) Check(records int) error {
	if q.maxRecords <= 0 || records <= q.maxRecords {
		return nil
	}
	return &RoundQuotaError{Records: records, Limit: q.maxRecords}
}

// RoundQuotaError reports a round over the quota.
type RoundQuotaError struct {
	Records int
	Limit   int
}

// Error implements the error interface.
func (e *RoundQuotaError) Error() string {
	return fmt.Sprintf("the result of %d records exceeds the limit of %d records per command", e.Records, e.Limit)
}

// Unwrap returns ErrRoundQuotaExceeded.
func (e *RoundQuotaError) Unwrap() error {
	return ErrRoundQuotaExceeded
}
