package engine

import (
	"fmt"

	"github.com/roach88/streamcore/internal/record"
	"github.com/roach88/streamcore/internal/state"
)

// StateWriter appends follow-up events. Each event is encoded, applied to
// state and buffered for the log immediately.
type StateWriter interface {
	AppendFollowUpEvent(key int64, intent record.Intent, value record.Value) error
}

// CommandWriter appends follow-up commands, processed in later rounds.
type CommandWriter interface {
	AppendFollowUpCommand(key int64, intent record.Intent, value record.Value) error
}

// RejectionWriter appends the rejection of a command.
type RejectionWriter interface {
	AppendRejection(cmd Command, rejectionType record.RejectionType, reason string)
}

// ResponseWriter answers the client that submitted a command. Commands
// without a waiting client, internal commands included, get no response.
type ResponseWriter interface {
	WriteEventOnCommand(key int64, intent record.Intent, value record.Value, cmd Command) error
	WriteRejectionOnCommand(cmd Command, rejectionType record.RejectionType, reason string)
}

// SideEffect runs after the round is committed. Side effects are skipped
// during replay.
type SideEffect func() error

// SideEffectWriter queues post-commit side effects.
type SideEffectWriter interface {
	AppendSideEffect(fn SideEffect)
}

// Writers is everything a processor may emit through.
type Writers struct {
	State      StateWriter
	Command    CommandWriter
	Rejection  RejectionWriter
	Response   ResponseWriter
	SideEffect SideEffectWriter
}

// Response answers one submitted command.
type Response struct {
	PartitionID     int32                `json:"partition_id"`
	RequestStreamID string               `json:"request_stream_id"`
	RequestID       int64                `json:"request_id"`
	Key             int64                `json:"key"`
	RecordType      record.RecordType    `json:"record_type"`
	ValueType       record.ValueType     `json:"value_type"`
	Intent          record.Intent        `json:"intent"`
	RejectionType   record.RejectionType `json:"rejection_type,omitempty"`
	RejectionReason string               `json:"rejection_reason,omitempty"`
	Value           []byte               `json:"value"`
}

// Rejected reports whether the command was rejected.
func (r Response) Rejected() bool {
	return r.RecordType == record.RecordTypeCommandRejection
}

// roundResult collects what one processing round produced.
type roundResult struct {
	records           []record.Record
	response          *Response
	sideEffects       []SideEffect
	events            int
	rejections        int
	internalRejection error
}

// checkContract verifies that a logged command produced exactly one of
// {at least one event, one rejection}.
func (r *roundResult) checkContract() error {
	if r.internalRejection != nil {
		return r.internalRejection
	}
	switch {
	case r.rejections > 1:
		return fmt.Errorf("%w: %d rejections written", ErrProcessingContract, r.rejections)
	case r.rejections == 1 && r.events > 0:
		return fmt.Errorf("%w: rejection written together with %d events", ErrProcessingContract, r.events)
	case r.rejections == 0 && r.events == 0:
		return fmt.Errorf("%w: neither an event nor a rejection written", ErrProcessingContract)
	}
	return nil
}

// resultBuilder implements every writer over the current round's result.
type resultBuilder struct {
	appliers *state.EventAppliers
	result   *roundResult
}

func newResultBuilder(appliers *state.EventAppliers) *resultBuilder {
	return &resultBuilder{appliers: appliers, result: &roundResult{}}
}

func (b *resultBuilder) reset() *roundResult {
	b.result = &roundResult{}
	return b.result
}

func (b *resultBuilder) writers() *Writers {
	return &Writers{
		State:      stateWriter{b},
		Command:    commandWriter{b},
		Rejection:  rejectionWriter{b},
		Response:   responseWriter{b},
		SideEffect: sideEffectWriter{b},
	}
}

type stateWriter struct{ b *resultBuilder }

func (w stateWriter) AppendFollowUpEvent(key int64, intent record.Intent, value record.Value) error {
	vt := value.ValueType()
	if !record.IsEvent(vt, intent) {
		return fmt.Errorf("%w: %s %s is not an event", ErrInvalidRecord, vt, intent)
	}
	data, err := record.EncodeValue(value)
	if err != nil {
		return err
	}
	// Apply what replay will apply: the value decoded from the logged bytes.
	decoded, err := record.DecodeValue(vt, data)
	if err != nil {
		return err
	}
	if err := w.b.appliers.Apply(key, intent, decoded); err != nil {
		return err
	}
	w.b.result.records = append(w.b.result.records, record.Record{
		Key:        key,
		RecordType: record.RecordTypeEvent,
		ValueType:  vt,
		Intent:     intent,
		Value:      data,
	})
	w.b.result.events++
	return nil
}

type commandWriter struct{ b *resultBuilder }

func (w commandWriter) AppendFollowUpCommand(key int64, intent record.Intent, value record.Value) error {
	vt := value.ValueType()
	if !record.IsCommand(vt, intent) {
		return fmt.Errorf("%w: %s %s is not a command", ErrInvalidRecord, vt, intent)
	}
	data, err := record.EncodeValue(value)
	if err != nil {
		return err
	}
	w.b.result.records = append(w.b.result.records, record.Record{
		Key:        key,
		RecordType: record.RecordTypeCommand,
		ValueType:  vt,
		Intent:     intent,
		Value:      data,
	})
	return nil
}

type rejectionWriter struct{ b *resultBuilder }

func (w rejectionWriter) AppendRejection(cmd Command, rejectionType record.RejectionType, reason string) {
	logged, ok := cmd.(*LoggedCommand)
	if !ok {
		w.b.result.internalRejection = fmt.Errorf("%w: %s %s (key %d) rejected with %s: %s",
			ErrInternalCommandRejected, cmd.ValueType(), cmd.Intent(), cmd.Key(), rejectionType, reason)
		return
	}
	rec := logged.Record()
	w.b.result.records = append(w.b.result.records, record.Record{
		Key:             rec.Key,
		RecordType:      record.RecordTypeCommandRejection,
		ValueType:       rec.ValueType,
		Intent:          rec.Intent,
		RejectionType:   rejectionType,
		RejectionReason: reason,
		RequestStreamID: rec.RequestStreamID,
		RequestID:       rec.RequestID,
		Authorization:   rec.Authorization,
		Value:           rec.Value,
	})
	w.b.result.rejections++
}

type responseWriter struct{ b *resultBuilder }

func (w responseWriter) WriteEventOnCommand(key int64, intent record.Intent, value record.Value, cmd Command) error {
	origin, ok := cmd.Origin()
	if !ok || origin.RequestStreamID == "" {
		return nil
	}
	data, err := record.EncodeValue(value)
	if err != nil {
		return err
	}
	w.b.result.response = &Response{
		RequestStreamID: origin.RequestStreamID,
		RequestID:       origin.RequestID,
		Key:             key,
		RecordType:      record.RecordTypeEvent,
		ValueType:       value.ValueType(),
		Intent:          intent,
		Value:           data,
	}
	return nil
}

func (w responseWriter) WriteRejectionOnCommand(cmd Command, rejectionType record.RejectionType, reason string) {
	logged, ok := cmd.(*LoggedCommand)
	if !ok || !logged.Record().HasRequest() {
		return
	}
	rec := logged.Record()
	w.b.result.response = &Response{
		RequestStreamID: rec.RequestStreamID,
		RequestID:       rec.RequestID,
		Key:             rec.Key,
		RecordType:      record.RecordTypeCommandRejection,
		ValueType:       rec.ValueType,
		Intent:          rec.Intent,
		RejectionType:   rejectionType,
		RejectionReason: reason,
		Value:           rec.Value,
	}
}

type sideEffectWriter struct{ b *resultBuilder }

func (w sideEffectWriter) AppendSideEffect(fn SideEffect) {
	w.b.result.sideEffects = append(w.b.result.sideEffects, fn)
}
