package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const createOrder = `{"resource_id":"order","checksum":"c1"}`

func TestSubmitTraceReplay(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "submit", "RESOURCE", "CREATE", "--data-dir", dir, "--value", createOrder)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ RESOURCE CREATED key=2251799813685249 partition=1")
	assert.Contains(t, out, `"resource_id":"order"`)

	out, err = execute(t, "submit", "RESOURCE", "CREATE", "--data-dir", dir, "--value", createOrder)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "rejected: ALREADY_EXISTS")

	out, err = execute(t, "trace", "--data-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"p1 #1 C RESOURCE CREATE key=0 src=0",
		"p1 #2 E RESOURCE CREATED key=2251799813685249 src=1",
		"p1 #3 C RESOURCE CREATE key=0 src=0",
		"p1 #4 R RESOURCE CREATE key=0 src=3 rejection=ALREADY_EXISTS",
		"",
		"4 record(s): 2 commands, 1 events, 1 rejections",
		"",
	}, "\n"), out)

	out, err = execute(t, "replay", "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Replay Summary: 1 partition(s)")
	assert.Contains(t, out, "✓ Partition 1")
	assert.Contains(t, out, "✓ All partitions verified deterministic")
}

func TestSubmitJSON(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "submit", "RESOURCE", "CREATE", "--data-dir", dir, "--value", createOrder, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   SubmitResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, int64(2251799813685249), resp.Data.Key)
	assert.Equal(t, "EVENT", resp.Data.RecordType)
	assert.Equal(t, "RESOURCE", resp.Data.ValueType)
	assert.Equal(t, "CREATED", resp.Data.Intent)
	assert.Contains(t, string(resp.Data.Value), `"version":1`)

	out, err = execute(t, "submit", "INCIDENT", "RESOLVE", "--data-dir", dir, "--key", "2251799813685300", "--format", "json")
	require.Error(t, err)
	var rejected CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &rejected))
	assert.Equal(t, "error", rejected.Status)
	require.NotNil(t, rejected.Error)
	assert.Equal(t, ErrCodeRejected, rejected.Error.Code)
	assert.Equal(t, "NOT_FOUND", rejected.Error.Details)
}

func TestSubmitInvalidCommand(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"event intent", []string{"RESOURCE", "CREATED"}, "not a command"},
		{"unknown value type", []string{"ORDER", "CREATE"}, "unknown value type"},
		{"bad value", []string{"RESOURCE", "CREATE", "--value", "{not json"}, "decode RESOURCE value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"submit", "--data-dir", dir}, tt.args...)
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSubmitWithAuthorization(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "node.cue")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
authorization: {
	enabled: true
	grants: [{actor: "alice", resourceType: "RESOURCE", permission: "CREATE"}]
}
`), 0o644))

	out, err := execute(t, "submit", "RESOURCE", "CREATE", "--config", cfgPath, "--data-dir", dir,
		"--value", createOrder, "--actor", "bob")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "rejected: UNAUTHORIZED")
	assert.Contains(t, out, "Insufficient permissions to perform operation 'CREATE' on resource 'RESOURCE'")

	out, err = execute(t, "submit", "RESOURCE", "CREATE", "--config", cfgPath, "--data-dir", dir,
		"--value", createOrder, "--actor", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ RESOURCE CREATED")
}

func TestTraceFilters(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "submit", "RESOURCE", "CREATE", "--data-dir", dir, "--value", createOrder)
	require.NoError(t, err)

	out, err := execute(t, "trace", "--data-dir", dir, "--key", "2251799813685249")
	require.NoError(t, err)
	assert.Equal(t, "p1 #2 E RESOURCE CREATED key=2251799813685249 src=1\n\n1 record(s): 0 commands, 1 events, 0 rejections\n", out)

	out, err = execute(t, "trace", "--data-dir", dir, "--source", "1", "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Records, 1)
	assert.Equal(t, "p1 #2 E RESOURCE CREATED key=2251799813685249 src=1", resp.Data.Records[0].Line)
	assert.Equal(t, TraceStats{Total: 1, Events: 1}, resp.Data.Stats)

	out, err = execute(t, "trace", "--data-dir", dir, "--source", "9")
	require.NoError(t, err)
	assert.Equal(t, "No records found.\n", out)
}

func TestTraceMissingPartition(t *testing.T) {
	_, err := execute(t, "trace", "--data-dir", t.TempDir(), "--partition", "3")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "partition 3 has no log")
}

func TestCommandsRequireDataDir(t *testing.T) {
	for _, args := range [][]string{{"replay"}, {"trace"}, {"scale", "status"}} {
		t.Run(args[0], func(t *testing.T) {
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), "no data directory")
		})
	}
}

func TestScaleUp(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "scale", "status", "--data-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "Current partitions: [1]\nDesired partitions: [1]\n", out)

	out, err = execute(t, "scale", "up", "3", "--data-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "Current partitions: [1 2 3]\nDesired partitions: [1 2 3]\n", out)

	out, err = execute(t, "scale", "up", "2", "--data-dir", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ rejected: INVALID_ARGUMENT")

	_, err = execute(t, "scale", "up", "zero", "--data-dir", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	// Keys of partition 2 are routed to it.
	out, err = execute(t, "submit", "INCIDENT", "RESOLVE", "--data-dir", dir, "--key", "4503599627370497")
	require.Error(t, err)
	assert.Contains(t, out, "rejected: NOT_FOUND")
	out, err = execute(t, "trace", "--data-dir", dir, "--partition", "2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "p2 #1 C INCIDENT RESOLVE key=4503599627370497 src=0\n"), out)

	out, err = execute(t, "replay", "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Replay Summary: 3 partition(s)")
	assert.Contains(t, out, "✓ All partitions verified deterministic")
}

func TestScaleStatusJSON(t *testing.T) {
	out, err := execute(t, "scale", "status", "--data-dir", t.TempDir(), "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   ScaleResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, ScaleResult{CurrentPartitions: []int32{1}, DesiredPartitions: []int32{1}, Stable: true}, resp.Data)
}

func TestRunStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	cmd := NewRootCommand()
	out := &strings.Builder{}
	cmd.SetOut(out)
	cmd.SetErr(&strings.Builder{})
	cmd.SetArgs([]string{"run", "--data-dir", dir, "--metrics-addr", "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(300*time.Millisecond, cancel)
	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, out.String(), "Node started")

	_, err := os.Stat(filepath.Join(dir, "partition-1", "log.db"))
	assert.NoError(t, err)
}

func TestMetricsServer(t *testing.T) {
	srv, err := metricsServer(":0")
	require.NoError(t, err)
	assert.Equal(t, ":0", srv.Addr)
	assert.NotNil(t, srv.Handler)
}
