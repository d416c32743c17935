package statedb

import (
	"encoding/binary"
	"fmt"
)

// Key builds composite keys. Strings are length-prefixed so that a key
// built from leading components is a strict prefix of every longer key
// sharing them. Integers are big-endian with the sign bit flipped, so byte
// order matches numeric order.
type Key struct {
	buf []byte
}

// NewKey returns an empty key builder.
func NewKey() *Key {
	return &Key{buf: make([]byte, 0, 32)}
}

// String appends a length-prefixed string component.
func (k *Key) String(s string) *Key {
	k.buf = binary.BigEndian.AppendUint32(k.buf, uint32(len(s)))
	k.buf = append(k.buf, s...)
	return k
}

// Int64 appends an order-preserving int64 component.
func (k *Key) Int64(v int64) *Key {
	k.buf = binary.BigEndian.AppendUint64(k.buf, uint64(v)^(1<<63))
	return k
}

// Bytes returns the encoded key.
func (k *Key) Bytes() []byte {
	return k.buf
}

// DecodeInt64Suffix decodes an Int64 component at the end of key.
func DecodeInt64Suffix(key []byte) (int64, error) {
	if len(key) < 8 {
		return 0, fmt.Errorf("key too short for int64 suffix: %d bytes", len(key))
	}
	return int64(binary.BigEndian.Uint64(key[len(key)-8:]) ^ (1 << 63)), nil
}

// EncodeInt64 encodes a value-side int64.
func EncodeInt64(v int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v))
}

// DecodeInt64 decodes a value-side int64.
func DecodeInt64(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("int64 value has %d bytes", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}
