package engine

// # Replay and Determinism
//
// State is a pure function of the events in the log. Events change state
// only through the EventAppliers, and the StateWriter applies exactly the
// value replay will decode from the logged bytes, so applying the events of
// a log to empty state reproduces the state the engine built while
// processing.
//
// Three entry points rely on this:
//
//   - Recover runs when a partition starts. It applies the events logged
//     after the last applied position, which covers a crash between the
//     log append and the state commit of a round.
//   - Rebuild drops the state and applies the whole log. The resulting
//     digest must equal the digest of the live state.
//   - Reprocess feeds the externally submitted commands of a log to a fresh
//     engine at their original positions and compares the resulting log
//     record by record.
//
// Nothing in a round reads the wall clock or a random source: keys come
// from the persisted key generator and positions from the log. Request
// stream ids are random, but they are copied from the logged commands.

import (
	"context"
	"fmt"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/streamcore/internal/logstore"
	"github.com/roach88/streamcore/internal/record"
	"github.com/roach88/streamcore/internal/state"
)

// ReplayStats summarizes an event replay.
type ReplayStats struct {
	Events        int
	LastApplied   int64
	LastProcessed int64
}

// replayEvents applies the events logged after the last applied position
// and returns the updated positions. Each read batch is committed on its
// own.
func replayEvents(ctx context.Context, log *logstore.Store, st *state.ProcessingState, appliers *state.EventAppliers, batchSize int) (ReplayStats, error) {
	lastApplied, err := st.Positions.LastApplied()
	if err != nil {
		return ReplayStats{}, err
	}
	lastProcessed, err := st.Positions.LastProcessed()
	if err != nil {
		return ReplayStats{}, err
	}
	stats := ReplayStats{LastApplied: lastApplied, LastProcessed: lastProcessed}

	from := lastApplied + 1
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		recs, err := log.ReadFrom(ctx, from, batchSize)
		if err != nil {
			return stats, err
		}
		if len(recs) == 0 {
			return stats, nil
		}

		for _, rec := range recs {
			from = rec.Position + 1
			stats.LastProcessed = max(stats.LastProcessed, rec.SourcePosition)
			if !rec.IsEvent() {
				continue
			}
			value, err := record.DecodeValue(rec.ValueType, rec.Value)
			if err != nil {
				st.Rollback()
				return stats, fmt.Errorf("decode event at position %d: %w", rec.Position, err)
			}
			if err := appliers.Apply(rec.Key, rec.Intent, value); err != nil {
				st.Rollback()
				return stats, fmt.Errorf("apply event at position %d: %w", rec.Position, err)
			}
			stats.LastApplied = rec.Position
			stats.Events++
		}

		if err := st.Positions.SetLastApplied(stats.LastApplied); err != nil {
			st.Rollback()
			return stats, err
		}
		if err := st.Positions.SetLastProcessed(stats.LastProcessed); err != nil {
			st.Rollback()
			return stats, err
		}
		if err := st.Commit(); err != nil {
			return stats, err
		}
	}
}

// RebuildResult is the outcome of Rebuild.
type RebuildResult struct {
	ReplayStats
	Digest string
}

// Rebuild drops all state and re-applies every event of the log.
// partitionCount initializes routing the way the partition did when it
// first started.
func Rebuild(ctx context.Context, log *logstore.Store, st *state.ProcessingState, appliers *state.EventAppliers, partitionCount int32) (RebuildResult, error) {
	if err := st.Reset(); err != nil {
		return RebuildResult{}, fmt.Errorf("rebuild: %w", err)
	}
	if err := st.InitializeRouting(partitionCount); err != nil {
		return RebuildResult{}, fmt.Errorf("rebuild: %w", err)
	}
	stats, err := replayEvents(ctx, log, st, appliers, DefaultReadBatchSize)
	if err != nil {
		return RebuildResult{}, fmt.Errorf("rebuild: %w", err)
	}
	digest, err := st.Digest()
	if err != nil {
		return RebuildResult{}, fmt.Errorf("rebuild: %w", err)
	}
	return RebuildResult{ReplayStats: stats, Digest: digest}, nil
}

// Mismatch is the first difference between two logs.
type Mismatch struct {
	Position int64
	Expected *record.Record
	Actual   *record.Record
	Diff     string
}

// ReprocessResult is the outcome of Reprocess.
type ReprocessResult struct {
	Commands int
	Records  int
	Mismatch *Mismatch
}

// Deterministic reports whether reprocessing reproduced the log exactly.
func (r ReprocessResult) Deterministic() bool {
	return r.Mismatch == nil
}

// Reprocess feeds the commands submitted to source from outside the
// partition into fresh, an engine over an empty log, and compares the log
// fresh writes with source.
//
// Each command is appended at its original position: before appending it,
// fresh processes until its log is as long as source was when the command
// arrived.
func Reprocess(ctx context.Context, source *logstore.Store, fresh *Engine) (ReprocessResult, error) {
	last, err := fresh.log.LastPosition(ctx)
	if err != nil {
		return ReprocessResult{}, err
	}
	if last != 0 {
		return ReprocessResult{}, fmt.Errorf("reprocess: target log is not empty (last position %d)", last)
	}

	expected, err := source.ReadAll(ctx)
	if err != nil {
		return ReprocessResult{}, fmt.Errorf("reprocess: read source: %w", err)
	}

	var result ReprocessResult
	for _, rec := range expected {
		if !rec.IsCommand() || rec.SourcePosition != 0 {
			continue
		}
		if err := processUntil(ctx, fresh, rec.Position-1); err != nil {
			return result, err
		}
		if _, err := fresh.log.Append(ctx, rec); err != nil {
			return result, fmt.Errorf("reprocess: append command %d: %w", rec.Position, err)
		}
		result.Commands++
	}
	if err := fresh.ProcessUntilIdle(ctx); err != nil {
		return result, err
	}

	actual, err := fresh.log.ReadAll(ctx)
	if err != nil {
		return result, fmt.Errorf("reprocess: read result: %w", err)
	}
	result.Records = len(actual)
	result.Mismatch = firstMismatch(expected, actual)
	return result, nil
}

// processUntil processes commands until the engine's log reaches position
// target or nothing is left to process.
func processUntil(ctx context.Context, e *Engine, target int64) error {
	for {
		last, err := e.log.LastPosition(ctx)
		if err != nil {
			return err
		}
		if last >= target {
			return nil
		}
		progressed, err := e.ProcessNext(ctx)
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

func firstMismatch(expected, actual []record.Record) *Mismatch {
	n := max(len(expected), len(actual))
	for i := 0; i < n; i++ {
		var want, got *record.Record
		if i < len(expected) {
			want = &expected[i]
		}
		if i < len(actual) {
			got = &actual[i]
		}
		if want != nil && got != nil && cmp.Equal(*want, *got) {
			continue
		}
		return &Mismatch{
			Position: int64(i + 1),
			Expected: want,
			Actual:   got,
			Diff:     cmp.Diff(want, got),
		}
	}
	return nil
}
