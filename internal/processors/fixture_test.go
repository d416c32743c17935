package processors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/streamcore/internal/engine"
	"github.com/roach88/streamcore/internal/logstore"
	"github.com/roach88/streamcore/internal/record"
	"github.com/roach88/streamcore/internal/state"
	"github.com/roach88/streamcore/internal/statedb"
	"github.com/roach88/streamcore/internal/testutil"
)

// key returns the n-th key generated on partition 1.
func key(n int64) int64 {
	return record.EncodePartitionKey(1, n)
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	log       *logstore.Store
	state     *state.ProcessingState
	appliers  *state.EventAppliers
	engine    *engine.Engine
	jobs      *testutil.JobRecorder
	responses *testutil.ResponseRecorder
}

type fixtureOption func(*Deps)

func withAuthorizer(a Authorizer) fixtureOption {
	return func(d *Deps) { d.Authorizer = a }
}

func newFixture(t *testing.T, partitionCount int32, opts ...fixtureOption) *fixture {
	t.Helper()
	log, err := logstore.Open(t.TempDir() + "/log.db")
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	db, err := statedb.OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st, err := state.New(1, db, state.Config{})
	require.NoError(t, err)
	require.NoError(t, st.InitializeRouting(partitionCount))

	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		log:       log,
		state:     st,
		appliers:  state.NewEventAppliers(st),
		jobs:      &testutil.JobRecorder{},
		responses: &testutil.ResponseRecorder{},
	}
	discard := testutil.DiscardLogger()
	deps := Deps{
		Publisher:         f.jobs,
		MaxPartitionCount: 8,
		Logger:            discard,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	f.engine = engine.New(1, log, st, f.appliers,
		engine.WithLogger(discard),
		engine.WithStreamIDGenerator(engine.NewFixedGenerator("client")),
		engine.WithResponseSink(f.responses),
	)
	Register(f.engine.Table(), st, f.engine.Writers(), deps)
	return f
}

// command submits a command as alice, processes until idle and returns
// every record written after the command.
func (f *fixture) command(key int64, intent record.Intent, value record.Value) []record.Record {
	f.t.Helper()
	return f.commandAs("alice", key, intent, value)
}

func (f *fixture) commandAs(actor string, key int64, intent record.Intent, value record.Value) []record.Record {
	f.t.Helper()
	pos, err := f.engine.Append(f.ctx, engine.CommandRequest{
		Key:           key,
		Intent:        intent,
		Value:         value,
		Authorization: record.Authorization{Actor: actor},
	})
	require.NoError(f.t, err)
	require.NoError(f.t, f.engine.ProcessUntilIdle(f.ctx))

	recs, err := f.log.ReadFrom(f.ctx, pos+1, 0)
	require.NoError(f.t, err)
	return recs
}

func (f *fixture) lastResponse() engine.Response {
	f.t.Helper()
	resp, ok := f.responses.Last()
	require.True(f.t, ok, "no response sent")
	return resp
}

// deploy creates a resource and returns its key.
func (f *fixture) deploy(id, payload string) int64 {
	f.t.Helper()
	recs := f.command(0, record.ResourceCreate, record.ResourceRecord{ResourceID: id, Payload: []byte(payload)})
	require.Equal(f.t, []string{"E RESOURCE CREATED"}, summary(recs))
	return recs[0].Key
}

// summary renders records as "<letter> <value type> <intent>", with the
// rejection type appended to rejections.
func summary(recs []record.Record) []string {
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		line := fmt.Sprintf("%s %s %s", rec.RecordType.Letter(), rec.ValueType, rec.Intent)
		if rec.RejectionType != record.RejectionNone {
			line += " " + string(rec.RejectionType)
		}
		out = append(out, line)
	}
	return out
}

func decode[T record.Value](t *testing.T, rec record.Record) T {
	t.Helper()
	value, err := record.DecodeValue(rec.ValueType, rec.Value)
	require.NoError(t, err)
	typed, ok := value.(T)
	require.True(t, ok, "value of %s is %T", rec.Compact(), value)
	return typed
}
