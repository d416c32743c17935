package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/streamcore/internal/logstore"
	"github.com/roach88/streamcore/internal/metrics"
	"github.com/roach88/streamcore/internal/record"
	"github.com/roach88/streamcore/internal/state"
)

// DefaultReadBatchSize is how many log records the engine reads at once.
const DefaultReadBatchSize = 64

// ResponseSink receives every response the engine sends, in processing
// order.
type ResponseSink interface {
	Send(resp Response)
}

// ResponseSinkFunc adapts a function to the ResponseSink interface.
type ResponseSinkFunc func(resp Response)

// Send calls f(resp).
func (f ResponseSinkFunc) Send(resp Response) {
	f(resp)
}

// CommandRequest is a command submitted by a client. The value type is
// taken from Value.
type CommandRequest struct {
	Key           int64
	Intent        record.Intent
	Value         record.Value
	Authorization record.Authorization
}

// Engine is the single-writer processing loop of one partition.
//
// CRITICAL: ProcessNext, ProcessUntilIdle, Append, Recover and Run must be
// called from exactly one goroutine. Submit and Enqueue are safe from any
// goroutine; their commands are appended by the Run loop.
type Engine struct {
	partitionID int32
	log         *logstore.Store
	state       *state.ProcessingState
	appliers    *state.EventAppliers
	table       *Table
	builder     *resultBuilder
	writers     *Writers
	queue       *submissionQueue
	streamGen   StreamIDGenerator
	streamID    string
	requests    Sequence
	sink        ResponseSink
	logger      *slog.Logger
	batchSize   int
	quota       RoundQuota

	mu       sync.Mutex
	waiting  map[int64]chan Response
	failure  error
	done     chan struct{}
	doneOnce sync.Once

	// Owned by the processing goroutine.
	recovered     bool
	lastProcessed int64
	nextRead      int64
	buffer        []record.Record
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithResponseSink receives a copy of every response.
func WithResponseSink(sink ResponseSink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithStreamIDGenerator sets how the engine names its request stream.
// Default: UUIDv7Generator.
func WithStreamIDGenerator(gen StreamIDGenerator) Option {
	return func(e *Engine) {
		e.streamGen = gen
	}
}

// WithReadBatchSize sets how many log records are read at once.
func WithReadBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithMaxRoundRecords sets the round quota. Zero or less disables it.
// Default: DefaultMaxRoundRecords.
func WithMaxRoundRecords(n int) Option {
	return func(e *Engine) {
		e.quota = NewRoundQuota(n)
	}
}

// New creates the engine of a partition. Processors are registered on
// Table() with the writers from Writers() before the engine runs.
func New(partitionID int32, log *logstore.Store, st *state.ProcessingState, appliers *state.EventAppliers, opts ...Option) *Engine {
	e := &Engine{
		partitionID: partitionID,
		log:         log,
		state:       st,
		appliers:    appliers,
		table:       NewTable(),
		queue:       newSubmissionQueue(),
		streamGen:   UUIDv7Generator{},
		logger:      slog.Default(),
		batchSize:   DefaultReadBatchSize,
		quota:       NewRoundQuota(DefaultMaxRoundRecords),
		waiting:     make(map[int64]chan Response),
		done:        make(chan struct{}),
		nextRead:    1,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("partition", partitionID)
	e.streamID = e.streamGen.Generate()
	e.builder = newResultBuilder(appliers)
	e.writers = e.builder.writers()
	return e
}

// PartitionID returns the partition the engine processes.
func (e *Engine) PartitionID() int32 { return e.partitionID }

// Table returns the dispatch table.
func (e *Engine) Table() *Table { return e.table }

// Writers returns the writers processors emit through.
func (e *Engine) Writers() *Writers { return e.writers }

// Log returns the partition log.
func (e *Engine) Log() *logstore.Store { return e.log }

// State returns the partition state.
func (e *Engine) State() *state.ProcessingState { return e.state }

// StreamID returns the request stream id of commands submitted through
// this engine.
func (e *Engine) StreamID() string { return e.streamID }

// LastProcessedPosition returns the position of the last processed command.
func (e *Engine) LastProcessedPosition() int64 { return e.lastProcessed }

// Failure returns the fatal error that stopped processing, if any.
func (e *Engine) Failure() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failure
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Recover applies the events appended after the last applied position
// and positions the engine after the last processed command. It runs once,
// before the first command is processed.
func (e *Engine) Recover(ctx context.Context) error {
	stats, err := replayEvents(ctx, e.log, e.state, e.appliers, e.batchSize)
	if err != nil {
		return fmt.Errorf("partition %d: recover: %w", e.partitionID, err)
	}
	e.recovered = true
	e.lastProcessed = stats.LastProcessed
	e.nextRead = stats.LastProcessed + 1
	e.buffer = nil
	e.logger.Info("state recovered",
		"events_applied", stats.Events,
		"last_processed", stats.LastProcessed,
		"last_applied", stats.LastApplied,
	)
	return nil
}

// Run starts the processing loop.
// Blocks until the context is cancelled or processing fails.
//
// Submitted commands are appended to the log between rounds, so the log
// has a single writer.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")
	defer e.stop()

	for {
		if err := e.appendSubmissions(ctx); err != nil {
			return err
		}

		progressed, err := e.ProcessNext(ctx)
		if err != nil {
			return err
		}
		if progressed {
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			return ctx.Err()
		case <-e.queue.Wait():
		}
	}
}

// Submit appends a command through the Run loop and waits for its
// response. Commands without a processor are answered with a
// PROCESSING_ERROR rejection.
func (e *Engine) Submit(ctx context.Context, req CommandRequest) (Response, error) {
	rec, err := e.commandRecord(req)
	if err != nil {
		return Response{}, err
	}

	reply := make(chan Response, 1)
	e.mu.Lock()
	e.waiting[rec.RequestID] = reply
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.waiting, rec.RequestID)
		e.mu.Unlock()
	}()

	if !e.queue.Enqueue(rec) {
		return Response{}, e.stoppedError()
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-e.done:
		select {
		case resp := <-reply:
			return resp, nil
		default:
		}
		return Response{}, e.stoppedError()
	}
}

// Enqueue submits a command through the Run loop without waiting.
func (e *Engine) Enqueue(req CommandRequest) error {
	rec, err := e.commandRecord(req)
	if err != nil {
		return err
	}
	if !e.queue.Enqueue(rec) {
		return e.stoppedError()
	}
	return nil
}

// Append writes a command to the log directly and returns its position.
// Only for use when Run is not running, such as in tests and tools that
// drive the engine with ProcessNext.
func (e *Engine) Append(ctx context.Context, req CommandRequest) (int64, error) {
	rec, err := e.commandRecord(req)
	if err != nil {
		return 0, err
	}
	positions, err := e.log.Append(ctx, rec)
	if err != nil {
		return 0, err
	}
	return positions[0], nil
}

// ProcessNext processes the next unprocessed command of the log.
// Returns false when there is nothing to process.
func (e *Engine) ProcessNext(ctx context.Context) (bool, error) {
	if err := e.Failure(); err != nil {
		return false, err
	}
	if !e.recovered {
		if err := e.Recover(ctx); err != nil {
			return false, err
		}
	}

	rec, ok, err := e.nextCommand(ctx)
	if err != nil || !ok {
		return false, err
	}
	return true, e.process(ctx, rec)
}

// ProcessUntilIdle processes commands until none is left, follow-up
// commands included.
func (e *Engine) ProcessUntilIdle(ctx context.Context) error {
	for {
		progressed, err := e.ProcessNext(ctx)
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

func (e *Engine) commandRecord(req CommandRequest) (record.Record, error) {
	if req.Value == nil {
		return record.Record{}, fmt.Errorf("%w: command %s has no value", ErrInvalidRecord, req.Intent)
	}
	vt := req.Value.ValueType()
	if !record.IsCommand(vt, req.Intent) {
		return record.Record{}, fmt.Errorf("%w: %s %s is not a command", ErrInvalidRecord, vt, req.Intent)
	}
	data, err := record.EncodeValue(req.Value)
	if err != nil {
		return record.Record{}, err
	}
	return record.Record{
		PartitionID:     e.partitionID,
		Key:             req.Key,
		RecordType:      record.RecordTypeCommand,
		ValueType:       vt,
		Intent:          req.Intent,
		RequestStreamID: e.streamID,
		RequestID:       e.requests.Next(),
		Authorization:   req.Authorization,
		Value:           data,
	}, nil
}

func (e *Engine) appendSubmissions(ctx context.Context) error {
	pending := e.queue.DrainAll()
	if len(pending) == 0 {
		return nil
	}
	if _, err := e.log.Append(ctx, pending...); err != nil {
		return fmt.Errorf("partition %d: append submitted commands: %w", e.partitionID, err)
	}
	return nil
}

func (e *Engine) nextCommand(ctx context.Context) (record.Record, bool, error) {
	for {
		if len(e.buffer) == 0 {
			recs, err := e.log.ReadFrom(ctx, e.nextRead, e.batchSize)
			if err != nil {
				return record.Record{}, false, fmt.Errorf("partition %d: read log: %w", e.partitionID, err)
			}
			if len(recs) == 0 {
				return record.Record{}, false, nil
			}
			e.buffer = recs
		}

		rec := e.buffer[0]
		e.buffer = e.buffer[1:]
		e.nextRead = rec.Position + 1
		if rec.IsCommand() && rec.Position > e.lastProcessed {
			return rec, true, nil
		}
	}
}

// process runs one round: decide, append, commit, then respond.
func (e *Engine) process(ctx context.Context, rec record.Record) error {
	start := time.Now()
	result := e.builder.reset()

	value, err := record.DecodeValue(rec.ValueType, rec.Value)
	if err != nil {
		e.logger.Warn("rejecting command with undecodable value",
			"position", rec.Position,
			"value_type", rec.ValueType.String(),
			"intent", string(rec.Intent),
			"error", err,
		)
		cmd := NewLoggedCommand(rec, nil)
		reason := fmt.Sprintf("Expected to process command with a valid %s value, but decoding failed: %v", rec.ValueType, err)
		e.writers.Rejection.AppendRejection(cmd, record.RejectionInvalidArgument, reason)
		e.writers.Response.WriteRejectionOnCommand(cmd, record.RejectionInvalidArgument, reason)
	} else if processor, ok := e.table.Lookup(rec.ValueType, rec.Intent); !ok {
		e.logger.Warn("rejecting command without a processor",
			"position", rec.Position,
			"value_type", rec.ValueType.String(),
			"intent", string(rec.Intent),
		)
		cmd := NewLoggedCommand(rec, value)
		reason := fmt.Sprintf("Expected to process command %s %s, but no processor is registered for it", rec.ValueType, rec.Intent)
		e.writers.Rejection.AppendRejection(cmd, record.RejectionProcessingError, reason)
		e.writers.Response.WriteRejectionOnCommand(cmd, record.RejectionProcessingError, reason)
	} else {
		if err := processor.Process(NewLoggedCommand(rec, value)); err != nil {
			return e.abort(rec, err)
		}
		if err := result.checkContract(); err != nil {
			return e.abort(rec, err)
		}
		if err := e.quota.Check(len(result.records)); err != nil {
			result = e.rejectOverQuota(rec, value, err)
		}
	}

	if err := e.commit(ctx, rec, result); err != nil {
		return e.abort(rec, err)
	}
	e.afterCommit(rec, result, time.Since(start))
	return nil
}

// rejectOverQuota discards the round's records and state changes and
// rejects the command in their place.
func (e *Engine) rejectOverQuota(rec record.Record, value record.Value, cause error) *roundResult {
	e.logger.Warn("rejecting command over the round quota",
		"position", rec.Position,
		"value_type", rec.ValueType.String(),
		"intent", string(rec.Intent),
		"error", cause,
	)
	e.state.Rollback()
	result := e.builder.reset()
	cmd := NewLoggedCommand(rec, value)
	reason := fmt.Sprintf("Expected to process command %s %s, but %v", rec.ValueType, rec.Intent, cause)
	e.writers.Rejection.AppendRejection(cmd, record.RejectionProcessingError, reason)
	e.writers.Response.WriteRejectionOnCommand(cmd, record.RejectionProcessingError, reason)
	return result
}

// commit appends the round's records, then records positions and commits
// state. A crash between the two is repaired by Recover, which re-applies
// the logged events.
func (e *Engine) commit(ctx context.Context, cmd record.Record, result *roundResult) error {
	records := result.records
	for i := range records {
		records[i].PartitionID = e.partitionID
		records[i].SourcePosition = cmd.Position
	}

	positions, err := e.log.Append(ctx, records...)
	if err != nil {
		return err
	}

	var lastEvent int64
	for i := range records {
		records[i].Position = positions[i]
		if records[i].IsEvent() {
			lastEvent = positions[i]
		}
	}

	if err := e.state.Positions.SetLastProcessed(cmd.Position); err != nil {
		return err
	}
	if lastEvent > 0 {
		if err := e.state.Positions.SetLastApplied(lastEvent); err != nil {
			return err
		}
	}
	if err := e.state.Commit(); err != nil {
		return err
	}

	e.lastProcessed = cmd.Position
	return nil
}

func (e *Engine) afterCommit(cmd record.Record, result *roundResult, elapsed time.Duration) {
	if result.response != nil {
		resp := *result.response
		resp.PartitionID = e.partitionID
		e.respond(resp)
	}

	for _, fn := range result.sideEffects {
		if err := fn(); err != nil {
			e.logger.Warn("side effect failed", "position", cmd.Position, "error", err)
		}
	}

	metrics.ObserveRound(metrics.Round{
		PartitionID: e.partitionID,
		Command:     cmd,
		Records:     result.records,
		Duration:    elapsed,
	})
}

func (e *Engine) respond(resp Response) {
	if e.sink != nil {
		e.sink.Send(resp)
	}
	if resp.RequestStreamID != e.streamID {
		return
	}

	e.mu.Lock()
	reply, ok := e.waiting[resp.RequestID]
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case reply <- resp:
	default:
	}
}

// abort discards the round and stops the partition.
func (e *Engine) abort(rec record.Record, cause error) error {
	e.state.Rollback()
	e.builder.reset()

	fatal := &FatalError{
		PartitionID: e.partitionID,
		Position:    rec.Position,
		ValueType:   rec.ValueType,
		Intent:      rec.Intent,
		Err:         cause,
	}
	e.mu.Lock()
	e.failure = fatal
	e.mu.Unlock()

	metrics.ObserveFailure(e.partitionID)
	e.logger.Error("processing failed, partition stops",
		"position", rec.Position,
		"value_type", rec.ValueType.String(),
		"intent", string(rec.Intent),
		"error", cause,
	)
	return fatal
}

func (e *Engine) stop() {
	e.queue.Close()
	e.doneOnce.Do(func() { close(e.done) })
}

func (e *Engine) stoppedError() error {
	if err := e.Failure(); err != nil {
		return errors.Join(ErrStopped, err)
	}
	return ErrStopped
}
