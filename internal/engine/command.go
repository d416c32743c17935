package engine

import "github.com/roach88/streamcore/internal/record"

// Command is what processors receive. Commands read from the log and
// commands synthesized inside a round share only this interface.
type Command interface {
	Key() int64
	ValueType() record.ValueType
	Intent() record.Intent
	Value() record.Value

	// Origin returns where the command came from. It is false for internal
	// commands, which have no log position and no waiting client.
	Origin() (Origin, bool)
}

// Origin is the log and request context of a logged command.
type Origin struct {
	Position        int64
	RequestStreamID string
	RequestID       int64
	Authorization   record.Authorization
}

// Actor returns the actor a command was submitted by, or "" for internal
// commands.
func Actor(cmd Command) string {
	origin, ok := cmd.Origin()
	if !ok {
		return ""
	}
	return origin.Authorization.Actor
}

// LoggedCommand is a command read from the partition log.
type LoggedCommand struct {
	rec   record.Record
	value record.Value
}

// NewLoggedCommand wraps a command record and its decoded value.
func NewLoggedCommand(rec record.Record, value record.Value) *LoggedCommand {
	return &LoggedCommand{rec: rec, value: value}
}

func (c *LoggedCommand) Key() int64                  { return c.rec.Key }
func (c *LoggedCommand) ValueType() record.ValueType { return c.rec.ValueType }
func (c *LoggedCommand) Intent() record.Intent       { return c.rec.Intent }
func (c *LoggedCommand) Value() record.Value         { return c.value }

// Record returns the underlying log record.
func (c *LoggedCommand) Record() record.Record { return c.rec }

func (c *LoggedCommand) Origin() (Origin, bool) {
	return Origin{
		Position:        c.rec.Position,
		RequestStreamID: c.rec.RequestStreamID,
		RequestID:       c.rec.RequestID,
		Authorization:   c.rec.Authorization,
	}, true
}

// InternalCommand is a command synthesized while processing another one,
// such as the retry of an element after its incident was resolved. It is
// dispatched inline in the same round and never written to the log.
//
// CRITICAL: rejecting an internal command is fatal. Whoever synthesizes one
// has already checked its preconditions.
type InternalCommand struct {
	key       int64
	valueType record.ValueType
	intent    record.Intent
	value     record.Value
}

// NewInternalCommand creates an internal command. The value type is taken
// from the value.
func NewInternalCommand(key int64, intent record.Intent, value record.Value) *InternalCommand {
	return &InternalCommand{key: key, valueType: value.ValueType(), intent: intent, value: value}
}

func (c *InternalCommand) Key() int64                  { return c.key }
func (c *InternalCommand) ValueType() record.ValueType { return c.valueType }
func (c *InternalCommand) Intent() record.Intent       { return c.intent }
func (c *InternalCommand) Value() record.Value         { return c.value }
func (c *InternalCommand) Origin() (Origin, bool)      { return Origin{}, false }
