package state

import (
	"github.com/roach88/streamcore/internal/record"
	"github.com/roach88/streamcore/internal/statedb"
)

var nextKeyKey = []byte("next_key")

// KeyGenerator hands out partition-unique keys. The counter is persisted in
// the round's transaction, so keys are reproduced exactly on replay.
type KeyGenerator struct {
	ctx         *statedb.TransactionContext
	partitionID int32
}

// NewKeyGenerator creates the key generator of a partition.
func NewKeyGenerator(ctx *statedb.TransactionContext, partitionID int32) *KeyGenerator {
	return &KeyGenerator{ctx: ctx, partitionID: partitionID}
}

// NextKey returns the next key and advances the counter.
func (g *KeyGenerator) NextKey() (int64, error) {
	counter, err := g.counter()
	if err != nil {
		return 0, err
	}
	counter++
	if err := putInt64(g.ctx, cfDefault, nextKeyKey, counter); err != nil {
		return 0, err
	}
	return record.EncodePartitionKey(g.partitionID, counter), nil
}

// SetKeyIfHigher advances the counter past a key seen in the log. Keys of
// other partitions are ignored.
func (g *KeyGenerator) SetKeyIfHigher(key int64) error {
	if key <= 0 || record.DecodePartitionID(key) != g.partitionID {
		return nil
	}
	counter, err := g.counter()
	if err != nil {
		return err
	}
	if seen := record.KeyCounter(key); seen > counter {
		return putInt64(g.ctx, cfDefault, nextKeyKey, seen)
	}
	return nil
}

func (g *KeyGenerator) counter() (int64, error) {
	counter, _, err := getInt64(g.ctx, cfDefault, nextKeyKey)
	return counter, err
}
