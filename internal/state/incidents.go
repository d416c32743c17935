package state

import (
	"fmt"

	"github.com/roach88/streamcore/internal/record"
	"github.com/roach88/streamcore/internal/statedb"
)

// IncidentState stores active incidents. A resolved incident is deleted:
// resolution is terminal.
type IncidentState struct {
	ctx *statedb.TransactionContext
}

// NewIncidentState creates the incident store.
func NewIncidentState(ctx *statedb.TransactionContext) *IncidentState {
	return &IncidentState{ctx: ctx}
}

// Create stores an incident and indexes it by job and element instance.
func (s *IncidentState) Create(key int64, incident record.IncidentRecord) error {
	if err := putJSON(s.ctx, cfIncidents, int64Key(key), incident); err != nil {
		return fmt.Errorf("create incident %d: %w", key, err)
	}
	if incident.IsJobRelated() {
		if err := putInt64(s.ctx, cfIncidentByJob, int64Key(incident.JobKey), key); err != nil {
			return err
		}
	}
	if incident.ElementInstanceKey > 0 {
		txn, err := s.ctx.Current()
		if err != nil {
			return err
		}
		indexKey := statedb.NewKey().Int64(incident.ElementInstanceKey).Int64(key).Bytes()
		if err := txn.Put(cfIncidentByElement, indexKey, nil); err != nil {
			return err
		}
	}
	return nil
}

// Get returns an active incident.
func (s *IncidentState) Get(key int64) (record.IncidentRecord, bool, error) {
	return getJSON[record.IncidentRecord](s.ctx, cfIncidents, int64Key(key))
}

// Delete removes an incident and its index entries.
func (s *IncidentState) Delete(key int64) error {
	incident, found, err := s.Get(key)
	if err != nil || !found {
		return err
	}
	if err := deleteKey(s.ctx, cfIncidents, int64Key(key)); err != nil {
		return fmt.Errorf("delete incident %d: %w", key, err)
	}
	if incident.IsJobRelated() {
		if err := deleteKey(s.ctx, cfIncidentByJob, int64Key(incident.JobKey)); err != nil {
			return err
		}
	}
	if incident.ElementInstanceKey > 0 {
		indexKey := statedb.NewKey().Int64(incident.ElementInstanceKey).Int64(key).Bytes()
		if err := deleteKey(s.ctx, cfIncidentByElement, indexKey); err != nil {
			return err
		}
	}
	return nil
}

// KeyForJob returns the key of the active incident raised for a job.
func (s *IncidentState) KeyForJob(jobKey int64) (int64, bool, error) {
	return getInt64(s.ctx, cfIncidentByJob, int64Key(jobKey))
}

// KeysForElement returns the keys of the active incidents of an element
// instance in ascending order.
func (s *IncidentState) KeysForElement(elementInstanceKey int64) ([]int64, error) {
	txn, err := s.ctx.Current()
	if err != nil {
		return nil, err
	}
	keys := []int64{}
	prefix := int64Key(elementInstanceKey)
	err = txn.ForEach(cfIncidentByElement, prefix, func(key, _ []byte) (bool, error) {
		incidentKey, err := statedb.DecodeInt64Suffix(key)
		if err != nil {
			return false, fmt.Errorf("%w: incident index: %v", ErrCorrupted, err)
		}
		keys = append(keys, incidentKey)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
