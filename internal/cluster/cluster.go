// Package cluster hosts the partitions of a node in one process, routes
// commands to them and drives the scale-up protocol from the outside.
//
// Partition 1 owns the routing information: SCALE commands always go to
// it, and the other partitions only ever serve commands routed to them.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/streamcore/internal/engine"
	"github.com/roach88/streamcore/internal/partition"
	"github.com/roach88/streamcore/internal/processors"
	"github.com/roach88/streamcore/internal/record"
	"github.com/roach88/streamcore/internal/state"
)

// RoutingPartition is the partition that owns the routing information.
const RoutingPartition int32 = 1

// Default timings of the bootstrap acknowledgements.
const (
	DefaultAckTimeout    = 5 * time.Second
	DefaultAckRetryDelay = 100 * time.Millisecond
)

var (
	// ErrUnknownPartition is returned for commands addressed to a partition
	// this node does not host.
	ErrUnknownPartition = errors.New("unknown partition")

	// ErrNotRunning is returned by operations that need Run to be active.
	ErrNotRunning = errors.New("cluster is not running")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("cluster is already running")
)

// RejectionError is returned when partition 1 rejects a SCALE command.
type RejectionError struct {
	Type   record.RejectionType
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("command rejected: %s: %s", e.Type, e.Reason)
}

// Options configure a cluster.
type Options struct {
	// DataDir holds one directory per partition. Empty keeps every
	// partition in memory.
	DataDir string

	// PartitionCount is the number of partitions of a new cluster. An
	// existing cluster reopens the partitions its routing information names.
	PartitionCount int32

	// MaxRoundRecords is the round quota of every partition's engine.
	MaxRoundRecords int

	State         state.Config
	Deps          processors.Deps
	Logger        *slog.Logger
	EngineOptions []engine.Option

	// AckTimeout bounds one bootstrap acknowledgement attempt.
	AckTimeout time.Duration

	// AckRetryDelay is the pause between acknowledgement attempts.
	AckRetryDelay time.Duration
}

// Cluster is a set of partitions running side by side.
type Cluster struct {
	opts   Options
	logger *slog.Logger

	mu         sync.RWMutex
	partitions map[int32]*partition.Partition
	pending    []int32
	group      *errgroup.Group
	groupCtx   context.Context
	stopped    bool
	started    chan struct{}
}

// Open opens partition 1, then every other partition its routing
// information names. Partitions of an unfinished scale-up are opened too
// and acknowledged once Run starts.
func Open(ctx context.Context, opts Options) (_ *Cluster, err error) {
	if opts.PartitionCount < 1 {
		opts.PartitionCount = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.AckRetryDelay <= 0 {
		opts.AckRetryDelay = DefaultAckRetryDelay
	}
	c := &Cluster{
		opts:       opts,
		logger:     opts.Logger.With("component", "cluster"),
		partitions: make(map[int32]*partition.Partition),
		started:    make(chan struct{}),
	}
	defer func() {
		if err != nil {
			if closeErr := c.Close(); closeErr != nil {
				err = multierror.Append(err, closeErr)
			}
		}
	}()

	first, err := c.open(ctx, RoutingPartition, opts.PartitionCount)
	if err != nil {
		return nil, err
	}
	routing, err := first.State().Routing.Get()
	if err != nil {
		return nil, fmt.Errorf("read routing: %w", err)
	}
	for _, id := range routing.DesiredPartitions {
		if id == RoutingPartition {
			continue
		}
		if _, err := c.open(ctx, id, int32(len(routing.DesiredPartitions))); err != nil {
			return nil, err
		}
		if !routing.IsCurrent(id) {
			c.pending = append(c.pending, id)
		}
	}

	c.logger.Info("cluster opened",
		"current", routing.CurrentPartitions,
		"desired", routing.DesiredPartitions,
	)
	return c, nil
}

func (c *Cluster) open(ctx context.Context, id, partitionCount int32) (*partition.Partition, error) {
	dir := ""
	if c.opts.DataDir != "" {
		dir = partition.Dir(c.opts.DataDir, id)
	}
	p, err := partition.Open(ctx, partition.Options{
		ID:              id,
		Dir:             dir,
		PartitionCount:  partitionCount,
		MaxRoundRecords: c.opts.MaxRoundRecords,
		State:           c.opts.State,
		Deps:            c.opts.Deps,
		Logger:          c.opts.Logger,
		EngineOptions:   c.opts.EngineOptions,
	})
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.partitions[id] = p
	c.mu.Unlock()
	return p, nil
}

// Partitions returns the ids of the hosted partitions in order.
func (c *Cluster) Partitions() []int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.partitions))
}

// Partition returns a hosted partition.
func (c *Cluster) Partition(id int32) (*partition.Partition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.partitions[id]
	return p, ok
}

// Run runs every partition until ctx ends or one of them fails; the
// first failure stops the others.
func (c *Cluster) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.group != nil {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	g, gctx := errgroup.WithContext(ctx)
	c.group, c.groupCtx = g, gctx
	for _, id := range slices.Sorted(maps.Keys(c.partitions)) {
		c.startLocked(c.partitions[id])
	}
	pending := c.pending
	c.pending = nil
	close(c.started)
	c.mu.Unlock()

	if len(pending) > 0 {
		g.Go(func() error {
			c.logger.Info("resuming scale-up", "pending", pending)
			if err := c.acknowledge(gctx, pending); err != nil && gctx.Err() == nil {
				c.logger.Error("resume scale-up failed", "error", err)
			}
			return nil
		})
	}

	err := g.Wait()
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	return err
}

// Started is closed once Run has started every partition.
func (c *Cluster) Started() <-chan struct{} {
	return c.started
}

// startLocked runs a partition in the group. Callers hold c.mu.
func (c *Cluster) startLocked(p *partition.Partition) {
	if c.group == nil || c.stopped {
		return
	}
	ctx := c.groupCtx
	c.group.Go(func() error {
		if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("partition %d: %w", p.ID(), err)
		}
		return nil
	})
}

// Submit routes a command and waits for its response. SCALE commands and
// commands without a key go to partition 1; all others go to the
// partition encoded in their key.
func (c *Cluster) Submit(ctx context.Context, req engine.CommandRequest) (engine.Response, error) {
	return c.SubmitTo(ctx, partitionFor(req), req)
}

// SubmitTo submits a command to a specific partition.
func (c *Cluster) SubmitTo(ctx context.Context, id int32, req engine.CommandRequest) (engine.Response, error) {
	p, ok := c.Partition(id)
	if !ok {
		return engine.Response{}, fmt.Errorf("%w: %d", ErrUnknownPartition, id)
	}
	return p.Submit(ctx, req)
}

func partitionFor(req engine.CommandRequest) int32 {
	if req.Value != nil && req.Value.ValueType() == record.ValueTypeScale {
		return RoutingPartition
	}
	if req.Key > 0 {
		return record.DecodePartitionID(req.Key)
	}
	return RoutingPartition
}

// Status asks partition 1 for the routing information.
func (c *Cluster) Status(ctx context.Context) (record.ScaleRecord, error) {
	resp, err := c.SubmitTo(ctx, RoutingPartition, engine.CommandRequest{
		Intent: record.ScaleStatus,
		Value:  record.ScaleRecord{},
	})
	if err != nil {
		return record.ScaleRecord{}, err
	}
	return scaleValue(resp)
}

// Route picks the partition for a correlation key. Only partitions that
// finished bootstrapping are considered.
func (c *Cluster) Route(ctx context.Context, correlationKey string) (int32, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return 0, err
	}
	routing := state.Routing{
		CurrentPartitions: status.CurrentPartitions,
		DesiredPartitions: status.DesiredPartitions,
	}
	return routing.Route(correlationKey), nil
}

// ScaleUp grows the cluster to partitionCount partitions: it submits
// SCALE_UP, opens and starts the new partitions, and acknowledges each
// bootstrap until the scale-up completes. Run must be active.
func (c *Cluster) ScaleUp(ctx context.Context, partitionCount int32) (record.ScaleRecord, error) {
	c.mu.RLock()
	running := c.group != nil && !c.stopped
	c.mu.RUnlock()
	if !running {
		return record.ScaleRecord{}, ErrNotRunning
	}

	resp, err := c.SubmitTo(ctx, RoutingPartition, engine.CommandRequest{
		Intent: record.ScaleUp,
		Value:  record.ScaleRecord{DesiredPartitionCount: partitionCount},
	})
	if err != nil {
		return record.ScaleRecord{}, err
	}
	scaling, err := scaleValue(resp)
	if err != nil {
		return record.ScaleRecord{}, err
	}
	c.logger.Info("scale-up started",
		"desired", scaling.DesiredPartitions,
		"new_partitions", scaling.RedistributedPartitions,
	)

	for _, id := range scaling.RedistributedPartitions {
		if _, ok := c.Partition(id); ok {
			continue
		}
		p, err := c.open(ctx, id, partitionCount)
		if err != nil {
			return record.ScaleRecord{}, err
		}
		c.mu.Lock()
		c.startLocked(p)
		c.mu.Unlock()
	}

	if err := c.acknowledge(ctx, scaling.RedistributedPartitions); err != nil {
		return record.ScaleRecord{}, err
	}

	status, err := c.Status(ctx)
	if err != nil {
		return record.ScaleRecord{}, err
	}
	c.logger.Info("scale-up completed", "current", status.CurrentPartitions)
	return status, nil
}

// acknowledge reports the bootstrap of each partition to partition 1,
// retrying until the acknowledgement is processed.
func (c *Cluster) acknowledge(ctx context.Context, ids []int32) error {
	for _, id := range ids {
		for {
			done, err := c.markBootstrapped(ctx, id)
			if err != nil {
				return err
			}
			if done {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.opts.AckRetryDelay):
			}
		}
	}
	return nil
}

// markBootstrapped makes one acknowledgement attempt. A timed-out attempt
// is retried; its command may still be processed, in which case the retry
// is rejected as already bootstrapped.
func (c *Cluster) markBootstrapped(ctx context.Context, id int32) (bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.AckTimeout)
	defer cancel()

	resp, err := c.SubmitTo(attemptCtx, RoutingPartition, engine.CommandRequest{
		Intent: record.MarkPartitionBootstrapped,
		Value:  record.ScaleRecord{RedistributedPartitions: []int32{id}},
	})
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		c.logger.Warn("bootstrap acknowledgement timed out", "bootstrapped", id)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if resp.Rejected() {
		if resp.RejectionType == record.RejectionInvalidState {
			c.logger.Debug("partition already bootstrapped", "bootstrapped", id, "reason", resp.RejectionReason)
			return true, nil
		}
		return false, &RejectionError{Type: resp.RejectionType, Reason: resp.RejectionReason}
	}
	c.logger.Info("partition bootstrapped", "bootstrapped", id)
	return true, nil
}

func scaleValue(resp engine.Response) (record.ScaleRecord, error) {
	if resp.Rejected() {
		return record.ScaleRecord{}, &RejectionError{Type: resp.RejectionType, Reason: resp.RejectionReason}
	}
	value, err := record.DecodeValue(resp.ValueType, resp.Value)
	if err != nil {
		return record.ScaleRecord{}, err
	}
	scale, ok := value.(record.ScaleRecord)
	if !ok {
		return record.ScaleRecord{}, fmt.Errorf("unexpected %s response", resp.ValueType)
	}
	return scale, nil
}

// Close closes every partition. Run must have returned.
func (c *Cluster) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result error
	for _, id := range slices.Sorted(maps.Keys(c.partitions)) {
		if err := c.partitions[id].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.partitions = make(map[int32]*partition.Partition)
	return result
}
