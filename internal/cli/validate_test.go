package cli

import (
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateNothing(t *testing.T) {
	_, err := execute(t, "validate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "nothing to validate")
}

func TestValidateConfig(t *testing.T) {
	out, err := execute(t, "validate", "--config", "../config/testdata/node.cue")
	require.NoError(t, err)
	assert.Equal(t, "✓ config valid (2 partition(s), max 8)\n", out)
}

func TestValidateConfigJSON(t *testing.T) {
	out, err := execute(t, "validate", "--config", "../config/testdata/node.json", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	require.NotNil(t, resp.Data.Config)
	assert.Empty(t, resp.Data.Errors)
}

func TestValidateInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		code    string
	}{
		{"syntax", "partitionCount: [", "E003"},
		{"schema", "partitionCount: 0\n", "E004"},
		{"unknown field", "partitions: 2\n", "E004"},
		{"cross field", "partitionCount: 9\nmaxPartitionCount: 4\n", "E006"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.name+".cue", tt.content)
			out, err := execute(t, "validate", "--config", path)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, out, "["+tt.code+"]")
		})
	}

	_, err := execute(t, "validate", "--config", filepath.Join(dir, "missing.cue"))
	require.Error(t, err)
}

func TestValidateScenarios(t *testing.T) {
	out, err := execute(t, "validate", filepath.Join(harnessTestdata, "scenarios"))
	require.NoError(t, err)
	assert.Equal(t, "✓ 5 scenario(s) valid\n", out)

	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", "name: good\nsteps:\n  - command: SCALE STATUS\n")
	bad := writeFile(t, dir, "bad.yaml", "name: bad\nsteps:\n  - command: SCALE SCALED_UP\n")

	out, err = execute(t, "validate", good)
	require.NoError(t, err)
	assert.Equal(t, "✓ 1 scenario(s) valid\n", out)

	out, err = execute(t, "validate", good, bad, filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ "+bad+": [E999]")
	assert.Contains(t, out, "is not a command")
	assert.Contains(t, out, "missing.yaml")
}
