package state

import "github.com/roach88/streamcore/internal/statedb"

var (
	lastProcessedKey = []byte("last_processed")
	lastAppliedKey   = []byte("last_applied")
)

// PositionState tracks how far the log has been processed and applied.
// Positions live in their own column family and are excluded from state
// digests: a command that produced no records advances the processed
// position without leaving a trace a rebuild could see.
type PositionState struct {
	ctx *statedb.TransactionContext
}

// NewPositionState creates the position store.
func NewPositionState(ctx *statedb.TransactionContext) *PositionState {
	return &PositionState{ctx: ctx}
}

// LastProcessed returns the position of the last processed command.
func (s *PositionState) LastProcessed() (int64, error) {
	pos, _, err := getInt64(s.ctx, cfPositions, lastProcessedKey)
	return pos, err
}

// SetLastProcessed records the position of the last processed command.
func (s *PositionState) SetLastProcessed(pos int64) error {
	return putInt64(s.ctx, cfPositions, lastProcessedKey, pos)
}

// LastApplied returns the position of the last applied event.
func (s *PositionState) LastApplied() (int64, error) {
	pos, _, err := getInt64(s.ctx, cfPositions, lastAppliedKey)
	return pos, err
}

// SetLastApplied records the position of the last applied event.
func (s *PositionState) SetLastApplied(pos int64) error {
	return putInt64(s.ctx, cfPositions, lastAppliedKey, pos)
}
