// Package statedb is the ordered, transactional key/value store holding a
// partition's state, backed by badger.
//
// Keys are namespaced by a one-byte column family prefix. The engine opens
// one read-write transaction per processing round through a
// TransactionContext and commits it once the round's records are in the log.
package statedb
