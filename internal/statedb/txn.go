package statedb

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
)

// Txn is a badger transaction addressed by column family.
type Txn struct {
	txn *badger.Txn
}

func storageKey(cf ColumnFamily, key []byte) []byte {
	out := make([]byte, 0, len(key)+1)
	out = append(out, byte(cf))
	return append(out, key...)
}

// Get returns a copy of the value stored under key. Absence is reported
// with found=false, never as an error.
func (t *Txn) Get(cf ColumnFamily, key []byte) (value []byte, found bool, err error) {
	item, err := t.txn.Get(storageKey(cf, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %d/%x: %w", cf, key, err)
	}
	value, err = item.ValueCopy(nil)
	if err != nil {
		return nil, false, fmt.Errorf("read %d/%x: %w", cf, key, err)
	}
	return value, true, nil
}

// Exists reports whether key is present.
func (t *Txn) Exists(cf ColumnFamily, key []byte) (bool, error) {
	_, err := t.txn.Get(storageKey(cf, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %d/%x: %w", cf, key, err)
	}
	return true, nil
}

// Put stores value under key.
func (t *Txn) Put(cf ColumnFamily, key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if err := t.txn.Set(storageKey(cf, key), value); err != nil {
		return fmt.Errorf("put %d/%x: %w", cf, key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (t *Txn) Delete(cf ColumnFamily, key []byte) error {
	if err := t.txn.Delete(storageKey(cf, key)); err != nil {
		return fmt.Errorf("delete %d/%x: %w", cf, key, err)
	}
	return nil
}

// ForEach visits every key of the column family that starts with prefix, in
// ascending key order. The key passed to fn excludes the column family byte.
// Returning false from fn stops the iteration.
//
// CRITICAL: badger allows one open iterator per read-write transaction, so
// fn must not start another iteration.
func (t *Txn) ForEach(cf ColumnFamily, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	return t.iterate(storageKey(cf, prefix), func(key, value []byte) (bool, error) {
		return fn(key[1:], value)
	})
}

// ForEachRaw visits every stored key in ascending order, column family byte
// included.
func (t *Txn) ForEachRaw(fn func(key, value []byte) (bool, error)) error {
	return t.iterate(nil, fn)
}

func (t *Txn) iterate(prefix []byte, fn func(key, value []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		value, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("read %x: %w", key, err)
		}
		more, err := fn(key, value)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// Commit commits the transaction.
func (t *Txn) Commit() error {
	if err := t.txn.Commit(); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

// Discard drops every write of the transaction. Safe to call after Commit.
func (t *Txn) Discard() {
	t.txn.Discard()
}
