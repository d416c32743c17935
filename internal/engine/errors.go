package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/streamcore/internal/record"
)

var (
	// ErrProcessingContract means a logged command produced both events and
	// a rejection, neither, or more than one rejection.
	ErrProcessingContract = errors.New("processing contract violated")

	// ErrInternalCommandRejected means an internal command was rejected.
	ErrInternalCommandRejected = errors.New("internal command rejected")

	// ErrNoProcessor is returned when dispatching a command nobody handles.
	ErrNoProcessor = errors.New("no processor registered")

	// ErrInvalidRecord is returned when a writer is asked to write a record
	// with an intent that does not fit (an event intent for a command, or
	// the reverse).
	ErrInvalidRecord = errors.New("invalid record")

	// ErrStopped is returned by Submit once the engine no longer runs.
	ErrStopped = errors.New("engine stopped")
)

// FatalError aborts processing of a partition. The round that failed was
// discarded: nothing it produced reached the log or the state.
type FatalError struct {
	PartitionID int32
	Position    int64
	ValueType   record.ValueType
	Intent      record.Intent
	Err         error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("partition %d: processing %s %s at position %d: %v",
		e.PartitionID, e.ValueType, e.Intent, e.Position, e.Err)
}

// Unwrap returns the cause.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if err is or wraps a FatalError.
// Uses errors.As to handle wrapped errors.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
