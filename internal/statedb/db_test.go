package statedb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	cfA ColumnFamily = 1
	cfB ColumnFamily = 2
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTransactionContextCommitAndRollback(t *testing.T) {
	db := setupTestDB(t)
	ctx := NewTransactionContext(db)

	txn, err := ctx.Current()
	require.NoError(t, err)
	require.NoError(t, txn.Put(cfA, []byte("kept"), []byte("1")))

	again, err := ctx.Current()
	require.NoError(t, err)
	assert.Same(t, txn, again, "one transaction per round")

	value, found, err := again.Get(cfA, []byte("kept"))
	require.NoError(t, err)
	assert.True(t, found, "writes are visible inside the transaction")
	assert.Equal(t, []byte("1"), value)
	require.NoError(t, ctx.Commit())

	txn, err = ctx.Current()
	require.NoError(t, err)
	require.NoError(t, txn.Put(cfA, []byte("dropped"), []byte("2")))
	ctx.Rollback()

	require.NoError(t, db.View(func(txn *Txn) error {
		_, found, err := txn.Get(cfA, []byte("kept"))
		require.NoError(t, err)
		assert.True(t, found)

		_, found, err = txn.Get(cfA, []byte("dropped"))
		require.NoError(t, err)
		assert.False(t, found)
		return nil
	}))
}

func TestColumnFamiliesAreIsolated(t *testing.T) {
	db := setupTestDB(t)
	ctx := NewTransactionContext(db)
	txn, err := ctx.Current()
	require.NoError(t, err)

	require.NoError(t, txn.Put(cfA, []byte("k"), []byte("a")))
	require.NoError(t, txn.Put(cfB, []byte("k"), []byte("b")))

	value, _, err := txn.Get(cfB, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), value)

	require.NoError(t, txn.Delete(cfA, []byte("k")))
	exists, err := txn.Exists(cfA, []byte("k"))
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = txn.Exists(cfB, []byte("k"))
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, ctx.Commit())
}

func TestForEachPrefixOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := NewTransactionContext(db)
	txn, err := ctx.Current()
	require.NoError(t, err)

	for _, version := range []int64{10, 2, 1} {
		key := NewKey().String("t").String("r").Int64(version).Bytes()
		require.NoError(t, txn.Put(cfA, key, EncodeInt64(version*100)))
	}
	// A longer id sharing the first byte must not match the prefix.
	other := NewKey().String("t").String("rr").Int64(5).Bytes()
	require.NoError(t, txn.Put(cfA, other, EncodeInt64(500)))

	var versions []int64
	prefix := NewKey().String("t").String("r").Bytes()
	err = txn.ForEach(cfA, prefix, func(key, value []byte) (bool, error) {
		version, err := DecodeInt64Suffix(key)
		if err != nil {
			return false, err
		}
		versions = append(versions, version)
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 10}, versions)
	require.NoError(t, ctx.Commit())
}

func TestInt64KeyOrderingWithNegatives(t *testing.T) {
	neg := NewKey().Int64(-1).Bytes()
	zero := NewKey().Int64(0).Bytes()
	pos := NewKey().Int64(1).Bytes()

	assert.Less(t, string(neg), string(zero))
	assert.Less(t, string(zero), string(pos))

	v, err := DecodeInt64Suffix(neg)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), v)
}

func TestDropAll(t *testing.T) {
	db := setupTestDB(t)
	ctx := NewTransactionContext(db)
	txn, err := ctx.Current()
	require.NoError(t, err)
	require.NoError(t, txn.Put(cfA, []byte("k"), []byte("v")))
	require.NoError(t, ctx.Commit())

	require.NoError(t, db.DropAll())

	count := 0
	require.NoError(t, db.View(func(txn *Txn) error {
		return txn.ForEachRaw(func(key, value []byte) (bool, error) {
			count++
			return true, nil
		})
	}))
	assert.Zero(t, count)
}

func TestClosedDatabase(t *testing.T) {
	db, err := OpenInMemory(nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "close is idempotent")

	_, err = db.Begin()
	assert.ErrorIs(t, err, ErrClosed)
}
