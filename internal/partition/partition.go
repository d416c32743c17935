// Package partition assembles one partition: its record log, its state
// database, the event appliers, the engine and the registered processors.
package partition

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/hashicorp/go-multierror"

	"github.com/roach88/streamcore/internal/engine"
	"github.com/roach88/streamcore/internal/logstore"
	"github.com/roach88/streamcore/internal/processors"
	"github.com/roach88/streamcore/internal/state"
	"github.com/roach88/streamcore/internal/statedb"
)

const (
	logFile  = "log.db"
	stateDir = "state"
)

// Options configure a partition.
type Options struct {
	ID int32

	// Dir is the partition's own directory. Empty keeps the log and the
	// state in memory.
	Dir string

	// PartitionCount initializes routing when the partition starts for the
	// first time.
	PartitionCount int32

	// MaxRoundRecords is the engine's round quota. Zero keeps
	// engine.DefaultMaxRoundRecords. Reprocessing uses the same quota.
	MaxRoundRecords int

	State         state.Config
	Deps          processors.Deps
	Logger        *slog.Logger
	EngineOptions []engine.Option
}

// Dir returns the directory of a partition under a data directory.
func Dir(dataDir string, id int32) string {
	return filepath.Join(dataDir, fmt.Sprintf("partition-%d", id))
}

// LogPath returns the record log of a partition under a data directory.
func LogPath(dataDir string, id int32) string {
	return filepath.Join(Dir(dataDir, id), logFile)
}

// List returns the ids of the partitions that have a directory under
// dataDir, in order.
func List(dataDir string) ([]int32, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, err
	}
	var ids []int32
	for _, entry := range entries {
		var id int32
		if !entry.IsDir() {
			continue
		}
		if _, err := fmt.Sscanf(entry.Name(), "partition-%d", &id); err != nil || id < 1 {
			continue
		}
		if entry.Name() != fmt.Sprintf("partition-%d", id) {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Partition is an opened partition, recovered and ready to run.
type Partition struct {
	opts     Options
	log      *logstore.Store
	db       *statedb.DB
	state    *state.ProcessingState
	appliers *state.EventAppliers
	engine   *engine.Engine
	logger   *slog.Logger
}

// Open opens or creates a partition and recovers its state from the log.
func Open(ctx context.Context, opts Options) (_ *Partition, err error) {
	if opts.ID < 1 {
		return nil, fmt.Errorf("invalid partition id %d", opts.ID)
	}
	if opts.PartitionCount < 1 {
		opts.PartitionCount = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &Partition{opts: opts, logger: opts.Logger.With("partition", opts.ID)}
	defer func() {
		if err != nil {
			if closeErr := p.Close(); closeErr != nil {
				err = multierror.Append(err, closeErr)
			}
		}
	}()

	logPath, dbDir := logstore.MemoryPath, ""
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("partition %d: create directory: %w", opts.ID, err)
		}
		logPath = filepath.Join(opts.Dir, logFile)
		dbDir = filepath.Join(opts.Dir, stateDir)
	}

	if p.log, err = logstore.Open(logPath); err != nil {
		return nil, fmt.Errorf("partition %d: %w", opts.ID, err)
	}
	if p.db, err = statedb.Open(dbDir, p.logger); err != nil {
		return nil, fmt.Errorf("partition %d: %w", opts.ID, err)
	}
	if p.state, err = state.New(opts.ID, p.db, opts.State); err != nil {
		return nil, fmt.Errorf("partition %d: %w", opts.ID, err)
	}
	if err := p.state.InitializeRouting(opts.PartitionCount); err != nil {
		return nil, fmt.Errorf("partition %d: initialize routing: %w", opts.ID, err)
	}

	p.appliers = state.NewEventAppliers(p.state)
	engineOpts := []engine.Option{engine.WithLogger(opts.Logger)}
	if opts.MaxRoundRecords != 0 {
		engineOpts = append(engineOpts, engine.WithMaxRoundRecords(opts.MaxRoundRecords))
	}
	engineOpts = append(engineOpts, opts.EngineOptions...)
	p.engine = engine.New(opts.ID, p.log, p.state, p.appliers, engineOpts...)

	deps := opts.Deps
	if deps.Logger == nil {
		deps.Logger = p.logger
	}
	processors.Register(p.engine.Table(), p.state, p.engine.Writers(), deps)

	if err := p.engine.Recover(ctx); err != nil {
		return nil, err
	}
	p.logger.Info("partition opened", "dir", opts.Dir, "last_processed", p.engine.LastProcessedPosition())
	return p, nil
}

// ID returns the partition id.
func (p *Partition) ID() int32 { return p.opts.ID }

// Engine returns the partition's engine.
func (p *Partition) Engine() *engine.Engine { return p.engine }

// Log returns the partition's record log.
func (p *Partition) Log() *logstore.Store { return p.log }

// State returns the partition's state. Only safe to read while the engine
// is not running.
func (p *Partition) State() *state.ProcessingState { return p.state }

// Run runs the engine until ctx ends or processing fails.
func (p *Partition) Run(ctx context.Context) error {
	return p.engine.Run(ctx)
}

// Submit submits a command and waits for its response.
func (p *Partition) Submit(ctx context.Context, req engine.CommandRequest) (engine.Response, error) {
	return p.engine.Submit(ctx, req)
}

// Digest returns the digest of the partition's state.
func (p *Partition) Digest() (string, error) {
	return p.state.Digest()
}

// Rebuild drops the state and rebuilds it from the log. The engine must
// not be running.
func (p *Partition) Rebuild(ctx context.Context) (engine.RebuildResult, error) {
	return engine.Rebuild(ctx, p.log, p.state, p.appliers, p.opts.PartitionCount)
}

// Reprocess runs the externally submitted commands of the partition's log
// through a fresh in-memory partition with the same options and compares
// the logs.
func (p *Partition) Reprocess(ctx context.Context) (engine.ReprocessResult, error) {
	opts := p.opts
	opts.Dir = ""
	opts.Logger = p.logger.With("reprocess", true)
	opts.Deps.Publisher = nil
	opts.EngineOptions = nil
	fresh, err := Open(ctx, opts)
	if err != nil {
		return engine.ReprocessResult{}, fmt.Errorf("reprocess: %w", err)
	}
	defer fresh.Close()
	return engine.Reprocess(ctx, p.log, fresh.engine)
}

// Close closes the log and the state database.
func (p *Partition) Close() error {
	var result error
	if p.log != nil {
		if err := p.log.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close log: %w", err))
		}
	}
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close state: %w", err))
		}
	}
	return result
}
