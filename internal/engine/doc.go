// Package engine implements the single-writer processing loop of a
// partition.
//
// The engine reads commands from the partition log one at a time and hands
// each to the processor registered for its (value type, intent) in the
// Table. Processors read state and emit everything they decide through the
// Writers: follow-up events (applied to state immediately), follow-up
// commands, one rejection, one client response and post-commit side
// effects. After the processor returns, the engine appends the buffered
// records to the log, records the processed and applied positions and
// commits the state transaction; only then are responses sent and side
// effects run.
//
// Determinism: processors never read the wall clock, never use randomness
// and take keys from the persisted key generator. Replaying the log through
// the same appliers reproduces the state byte for byte (see Rebuild and
// Reprocess).
//
// A round that produces more records than the RoundQuota allows is
// discarded and its command rejected with PROCESSING_ERROR.
//
// Failure model: business failures become rejections or incidents.
// Anything else a processor returns (corrupted state, an unsupported paused
// state, a contract violation) is fatal: the round is discarded and Run
// returns a *FatalError. The partition does not process further commands.
package engine
