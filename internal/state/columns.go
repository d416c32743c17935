package state

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/roach88/streamcore/internal/statedb"
)

// ErrCorrupted is returned when stored state cannot be decoded. The engine
// treats it as fatal.
var ErrCorrupted = errors.New("corrupted state")

const (
	cfDefault statedb.ColumnFamily = iota + 1
	cfPositions
	cfResources
	cfResourceByIDVersion
	cfResourceByIDDeployment
	cfResourceByIDVersionTag
	cfResourceVersion
	cfIncidents
	cfIncidentByJob
	cfIncidentByElement
	cfJobs
	cfElementInstances
	cfRouting
)

// getJSON reads and decodes the value stored under key.
func getJSON[T any](ctx *statedb.TransactionContext, cf statedb.ColumnFamily, key []byte) (T, bool, error) {
	var out T
	txn, err := ctx.Current()
	if err != nil {
		return out, false, err
	}
	data, found, err := txn.Get(cf, key)
	if err != nil || !found {
		return out, false, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, false, fmt.Errorf("%w: column family %d key %x: %v", ErrCorrupted, cf, key, err)
	}
	return out, true, nil
}

// putJSON encodes v and stores it under key.
func putJSON(ctx *statedb.TransactionContext, cf statedb.ColumnFamily, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode state column family %d: %w", cf, err)
	}
	txn, err := ctx.Current()
	if err != nil {
		return err
	}
	return txn.Put(cf, key, data)
}

func getInt64(ctx *statedb.TransactionContext, cf statedb.ColumnFamily, key []byte) (int64, bool, error) {
	txn, err := ctx.Current()
	if err != nil {
		return 0, false, err
	}
	data, found, err := txn.Get(cf, key)
	if err != nil || !found {
		return 0, false, err
	}
	v, err := statedb.DecodeInt64(data)
	if err != nil {
		return 0, false, fmt.Errorf("%w: column family %d key %x: %v", ErrCorrupted, cf, key, err)
	}
	return v, true, nil
}

func putInt64(ctx *statedb.TransactionContext, cf statedb.ColumnFamily, key []byte, v int64) error {
	txn, err := ctx.Current()
	if err != nil {
		return err
	}
	return txn.Put(cf, key, statedb.EncodeInt64(v))
}

func deleteKey(ctx *statedb.TransactionContext, cf statedb.ColumnFamily, key []byte) error {
	txn, err := ctx.Current()
	if err != nil {
		return err
	}
	return txn.Delete(cf, key)
}

func int64Key(v int64) []byte {
	return statedb.NewKey().Int64(v).Bytes()
}
