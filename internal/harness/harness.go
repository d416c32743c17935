package harness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/roach88/streamcore/internal/engine"
	"github.com/roach88/streamcore/internal/partition"
	"github.com/roach88/streamcore/internal/processors"
	"github.com/roach88/streamcore/internal/record"
	"github.com/roach88/streamcore/internal/state"
)

// RequestStreamID is the request stream id of every harness partition.
const RequestStreamID = "harness"

// DefaultActor submits steps that name no actor.
const DefaultActor = "harness"

// Harness is the execution state of one scenario.
type Harness struct {
	partitions map[int32]*partition.Partition
	responses  map[int32][]engine.Response
	logger     *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in fresh in-memory partitions for isolation.
// An error is returned when the scenario cannot run at all; failed
// expectations are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	h := &Harness{
		partitions: make(map[int32]*partition.Partition),
		responses:  make(map[int32][]engine.Response),
		logger:     slog.New(slog.DiscardHandler), // Suppress logs in tests
	}
	defer h.close()

	if err := h.open(ctx, scenario); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Command, err)
		}
	}

	records, err := h.records(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range h.ids(scenario) {
		for _, rec := range records[id] {
			result.Trace = append(result.Trace, rec.Compact())
		}
	}

	actx := &AssertionContext{Ctx: ctx, Records: records, Partitions: h.partitions}
	for _, errMsg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	for _, id := range h.ids(scenario) {
		if err := h.verifyReplay(ctx, h.partitions[id], result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (h *Harness) open(ctx context.Context, scenario *Scenario) error {
	var authorizer processors.Authorizer = processors.AllowAll{}
	if len(scenario.Grants) > 0 {
		grants := make([]processors.Grant, len(scenario.Grants))
		for i, g := range scenario.Grants {
			grants[i] = processors.Grant{Actor: g.Actor, ResourceType: g.ResourceType, Permission: g.Permission, ResourceID: g.ResourceID}
		}
		authorizer = processors.StaticAuthorizer{Grants: grants}
	}
	maxPartitions := scenario.MaxPartitions
	if maxPartitions == 0 {
		maxPartitions = 8
	}

	for _, id := range h.ids(scenario) {
		p, err := partition.Open(ctx, partition.Options{
			ID:             id,
			PartitionCount: scenario.partitionCount(),
			Deps: processors.Deps{
				Authorizer:        authorizer,
				MaxPartitionCount: maxPartitions,
				Logger:            h.logger,
			},
			Logger: h.logger,
			EngineOptions: []engine.Option{
				engine.WithStreamIDGenerator(engine.NewFixedGenerator(RequestStreamID)),
				engine.WithResponseSink(engine.ResponseSinkFunc(func(resp engine.Response) {
					h.responses[id] = append(h.responses[id], resp)
				})),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to open partition %d: %w", id, err)
		}
		h.partitions[id] = p
	}
	return nil
}

func (h *Harness) ids(scenario *Scenario) []int32 {
	return state.PartitionRange(scenario.partitionCount())
}

func (h *Harness) close() {
	for _, p := range h.partitions {
		p.Close()
	}
}

// executeStep appends the step's command, processes until idle and checks
// the response.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	id := step.Partition
	if id == 0 {
		id = 1
	}
	p := h.partitions[id]

	req, err := h.request(ctx, p, step)
	if err != nil {
		return err
	}

	before := len(h.responses[id])
	if _, err := p.Engine().Append(ctx, req); err != nil {
		return err
	}
	if err := p.Engine().ProcessUntilIdle(ctx); err != nil {
		return err
	}

	if step.Expect == nil {
		return nil
	}
	responses := h.responses[id][before:]
	if len(responses) == 0 {
		result.AddError(fmt.Sprintf("step %d (%s): expected a response, got none", i, step.Command))
		return nil
	}
	if msg := checkResponse(responses[0], *step.Expect); msg != "" {
		result.AddError(fmt.Sprintf("step %d (%s): %s", i, step.Command, msg))
	}
	return nil
}

func (h *Harness) request(ctx context.Context, p *partition.Partition, step Step) (engine.CommandRequest, error) {
	vt, intent, err := ParseCommand(step.Command)
	if err != nil {
		return engine.CommandRequest{}, err
	}
	value, err := decodeValue(vt, step.Value)
	if err != nil {
		return engine.CommandRequest{}, err
	}

	key := step.Key
	if step.KeyOf != "" {
		if key, err = lastKey(ctx, p, step.KeyOf); err != nil {
			return engine.CommandRequest{}, err
		}
	}

	actor := step.Actor
	if actor == "" {
		actor = DefaultActor
	}
	return engine.CommandRequest{
		Key:           key,
		Intent:        intent,
		Value:         value,
		Authorization: record.Authorization{Actor: actor},
	}, nil
}

// decodeValue builds a record value from YAML fields by way of its JSON
// form.
func decodeValue(vt record.ValueType, fields map[string]any) (record.Value, error) {
	if len(fields) == 0 {
		return record.DecodeValue(vt, nil)
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return record.DecodeValue(vt, data)
}

func lastKey(ctx context.Context, p *partition.Partition, name string) (int64, error) {
	vt, intent, err := ParseRecordName(name)
	if err != nil {
		return 0, err
	}
	records, err := p.Log().ReadAll(ctx)
	if err != nil {
		return 0, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].ValueType == vt && records[i].Intent == intent {
			return records[i].Key, nil
		}
	}
	return 0, fmt.Errorf("no %s record to take the key of", name)
}

func checkResponse(resp engine.Response, want Expect) string {
	if want.Rejection != "" {
		if !resp.Rejected() {
			return fmt.Sprintf("expected rejection %s, got %s", want.Rejection, resp.Intent)
		}
		if string(resp.RejectionType) != want.Rejection {
			return fmt.Sprintf("expected rejection %s, got %s: %s", want.Rejection, resp.RejectionType, resp.RejectionReason)
		}
		if want.Reason != "" && !strings.Contains(resp.RejectionReason, want.Reason) {
			return fmt.Sprintf("expected rejection reason containing %q, got %q", want.Reason, resp.RejectionReason)
		}
		return ""
	}
	if resp.Rejected() {
		return fmt.Sprintf("expected %s, got rejection %s: %s", want.Intent, resp.RejectionType, resp.RejectionReason)
	}
	if string(resp.Intent) != want.Intent {
		return fmt.Sprintf("expected %s, got %s", want.Intent, resp.Intent)
	}
	return ""
}

func (h *Harness) records(ctx context.Context) (map[int32][]record.Record, error) {
	out := make(map[int32][]record.Record, len(h.partitions))
	for id, p := range h.partitions {
		records, err := p.Log().ReadAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("read partition %d: %w", id, err)
		}
		out[id] = records
	}
	return out, nil
}

// verifyReplay reprocesses the partition's log and rebuilds its state,
// reporting any difference from the live partition.
func (h *Harness) verifyReplay(ctx context.Context, p *partition.Partition, result *Result) error {
	live, err := p.Digest()
	if err != nil {
		return err
	}

	reprocessed, err := p.Reprocess(ctx)
	if err != nil {
		return fmt.Errorf("reprocess partition %d: %w", p.ID(), err)
	}
	if m := reprocessed.Mismatch; m != nil {
		result.AddError(fmt.Sprintf("partition %d: reprocessing differs at position %d:\n%s", p.ID(), m.Position, m.Diff))
	}

	rebuilt, err := p.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("rebuild partition %d: %w", p.ID(), err)
	}
	if rebuilt.Digest != live {
		result.AddError(fmt.Sprintf("partition %d: rebuilt state digest %s differs from live digest %s", p.ID(), rebuilt.Digest, live))
	}
	return nil
}
