package engine

import (
	"fmt"

	"github.com/roach88/streamcore/internal/record"
)

// Processor handles one kind of command. It returns an error only for
// fatal conditions; business failures are rejections or incidents written
// through the Writers.
type Processor interface {
	Process(cmd Command) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(cmd Command) error

// Process calls f(cmd).
func (f ProcessorFunc) Process(cmd Command) error {
	return f(cmd)
}

// Dispatcher routes a command to its processor.
type Dispatcher interface {
	Dispatch(cmd Command) error
}

type tableKey struct {
	valueType record.ValueType
	intent    record.Intent
}

// Table maps (value type, intent) to the processor of that command. It is
// filled once when a partition starts and only read afterwards.
type Table struct {
	processors map[tableKey]Processor
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{processors: map[tableKey]Processor{}}
}

// Register adds the processor of a command.
// Panics if the intent is not a command intent of the value type or if the
// command already has a processor: both are programming errors found at
// start-up.
func (t *Table) Register(vt record.ValueType, intent record.Intent, p Processor) {
	if !record.IsCommand(vt, intent) {
		panic(fmt.Sprintf("register processor: %s %s is not a command", vt, intent))
	}
	k := tableKey{vt, intent}
	if _, dup := t.processors[k]; dup {
		panic(fmt.Sprintf("register processor: duplicate processor for %s %s", vt, intent))
	}
	t.processors[k] = p
}

// Lookup returns the processor of a command.
func (t *Table) Lookup(vt record.ValueType, intent record.Intent) (Processor, bool) {
	p, ok := t.processors[tableKey{vt, intent}]
	return p, ok
}

// Dispatch processes cmd with its registered processor.
func (t *Table) Dispatch(cmd Command) error {
	p, ok := t.Lookup(cmd.ValueType(), cmd.Intent())
	if !ok {
		return fmt.Errorf("%w for %s %s", ErrNoProcessor, cmd.ValueType(), cmd.Intent())
	}
	return p.Process(cmd)
}

// Len returns the number of registered processors.
func (t *Table) Len() int {
	return len(t.processors)
}
