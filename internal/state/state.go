package state

import (
	"encoding/hex"
	"fmt"

	"github.com/roach88/streamcore/internal/record"
	"github.com/roach88/streamcore/internal/statedb"
)

// Config tunes the state components.
type Config struct {
	ResourceDefaultVersion int64
	ResourceCacheCapacity  int
}

// ProcessingState is the state of one partition. Every partition owns its
// own instance, caches included.
type ProcessingState struct {
	PartitionID int32

	Resources *ResourceState
	Incidents *IncidentState
	Jobs      *JobState
	Elements  *ElementInstanceState
	Routing   *RoutingState
	Keys      *KeyGenerator
	Positions *PositionState

	ctx *statedb.TransactionContext
}

// New creates the state of a partition over db.
func New(partitionID int32, db *statedb.DB, cfg Config) (*ProcessingState, error) {
	ctx := statedb.NewTransactionContext(db)
	resources, err := NewResourceState(ctx, cfg.ResourceDefaultVersion, cfg.ResourceCacheCapacity)
	if err != nil {
		return nil, err
	}
	return &ProcessingState{
		PartitionID: partitionID,
		Resources:   resources,
		Incidents:   NewIncidentState(ctx),
		Jobs:        NewJobState(ctx),
		Elements:    NewElementInstanceState(ctx),
		Routing:     NewRoutingState(ctx),
		Keys:        NewKeyGenerator(ctx, partitionID),
		Positions:   NewPositionState(ctx),
		ctx:         ctx,
	}, nil
}

// Commit commits the current round's transaction.
func (s *ProcessingState) Commit() error {
	return s.ctx.Commit()
}

// Rollback discards the current round's transaction. Caches may hold
// values written by the discarded round, so they are cleared as well.
func (s *ProcessingState) Rollback() {
	s.ctx.Rollback()
	s.Resources.ClearCache()
}

// Reset drops every key and clears all caches. Used before rebuilding the
// state from the log.
func (s *ProcessingState) Reset() error {
	s.ctx.Rollback()
	s.Resources.ClearCache()
	return s.ctx.DB().DropAll()
}

// InitializeRouting stores a stable topology of partitionCount partitions
// unless routing information already exists, and commits.
func (s *ProcessingState) InitializeRouting(partitionCount int32) error {
	initialized, err := s.Routing.IsInitialized()
	if err != nil {
		s.Rollback()
		return err
	}
	if !initialized {
		if err := s.Routing.Initialize(partitionCount); err != nil {
			s.Rollback()
			return err
		}
	}
	return s.Commit()
}

// Digest returns a SHA-256 over every committed key and value in key
// order, positions excluded. Two replicas that applied the same events
// have the same digest.
func (s *ProcessingState) Digest() (string, error) {
	h := record.NewDigest(record.DomainState)
	err := s.ctx.DB().View(func(txn *statedb.Txn) error {
		return txn.ForEachRaw(func(key, value []byte) (bool, error) {
			if statedb.ColumnFamily(key[0]) == cfPositions {
				return true, nil
			}
			writeFramed(h, key)
			writeFramed(h, value)
			return true, nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("digest state: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type byteWriter interface {
	Write(p []byte) (int, error)
}

func writeFramed(w byteWriter, b []byte) {
	w.Write(statedb.EncodeInt64(int64(len(b))))
	w.Write(b)
}
