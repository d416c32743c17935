package record

// Keys are partition-unique int64 values. The upper bits carry the id of the
// partition that generated the key so that any partition can route a command
// by key alone.
const (
	// KeyBits is the number of low bits holding the per-partition counter.
	KeyBits = 51

	// MaxPartitionID is the highest partition id a key can encode.
	MaxPartitionID = 1<<(63-KeyBits) - 1
)

// EncodePartitionKey combines a partition id with a counter value.
func EncodePartitionKey(partitionID int32, counter int64) int64 {
	return int64(partitionID)<<KeyBits | counter
}

// DecodePartitionID extracts the partition id from a key.
func DecodePartitionID(key int64) int32 {
	return int32(key >> KeyBits)
}

// KeyCounter extracts the per-partition counter from a key.
func KeyCounter(key int64) int64 {
	return key & (1<<KeyBits - 1)
}
