package state

import (
	"fmt"

	"github.com/roach88/streamcore/internal/record"
	"github.com/roach88/streamcore/internal/statedb"
)

// ElementInstance is the persisted state of an element of a process
// instance. State holds the intent of the last lifecycle event applied;
// ELEMENT_ACTIVATING and ELEMENT_COMPLETING are the paused states an
// incident can leave an element in.
type ElementInstance struct {
	Key    int64                        `json:"key"`
	State  record.Intent                `json:"state"`
	JobKey int64                        `json:"job_key"`
	Value  record.ProcessInstanceRecord `json:"value"`
}

// ElementInstanceState stores element instances until they complete.
type ElementInstanceState struct {
	ctx *statedb.TransactionContext
}

// NewElementInstanceState creates the element instance store.
func NewElementInstanceState(ctx *statedb.TransactionContext) *ElementInstanceState {
	return &ElementInstanceState{ctx: ctx}
}

// Get returns an element instance.
func (s *ElementInstanceState) Get(key int64) (ElementInstance, bool, error) {
	return getJSON[ElementInstance](s.ctx, cfElementInstances, int64Key(key))
}

// Transition moves an element instance to a new lifecycle state, creating
// it if it does not exist yet. The stored job key is kept.
func (s *ElementInstanceState) Transition(key int64, state record.Intent, value record.ProcessInstanceRecord) error {
	instance, _, err := s.Get(key)
	if err != nil {
		return err
	}
	instance.Key = key
	instance.State = state
	instance.Value = value
	return s.put(instance)
}

// SetJobKey links an element instance to its active job; 0 unlinks it.
func (s *ElementInstanceState) SetJobKey(key, jobKey int64) error {
	instance, found, err := s.Get(key)
	if err != nil || !found {
		return err
	}
	instance.JobKey = jobKey
	return s.put(instance)
}

// MergeVariables applies a variable update over the variables of an
// element instance.
func (s *ElementInstanceState) MergeVariables(key int64, update record.Variables) error {
	instance, found, err := s.Get(key)
	if err != nil || !found {
		return err
	}
	merged, err := instance.Value.Variables.Merge(update)
	if err != nil {
		return fmt.Errorf("element instance %d: %w", key, err)
	}
	instance.Value.Variables = merged
	return s.put(instance)
}

// Remove deletes an element instance.
func (s *ElementInstanceState) Remove(key int64) error {
	return deleteKey(s.ctx, cfElementInstances, int64Key(key))
}

func (s *ElementInstanceState) put(instance ElementInstance) error {
	if err := putJSON(s.ctx, cfElementInstances, int64Key(instance.Key), instance); err != nil {
		return fmt.Errorf("put element instance %d: %w", instance.Key, err)
	}
	return nil
}
