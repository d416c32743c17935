package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streamcore/internal/engine"
	"github.com/roach88/streamcore/internal/processors"
	"github.com/roach88/streamcore/internal/record"
	"github.com/roach88/streamcore/internal/testutil"
)

func testOptions(dataDir string, partitionCount int32) Options {
	return Options{
		DataDir:        dataDir,
		PartitionCount: partitionCount,
		Deps:           processors.Deps{MaxPartitionCount: 4},
		Logger:         testutil.DiscardLogger(),
		AckRetryDelay:  time.Millisecond,
	}
}

// runCluster runs c until the returned stop function is called.
func runCluster(t *testing.T, c *Cluster) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("cluster did not stop")
		}
	}
}

func openCluster(t *testing.T, opts Options) *Cluster {
	t.Helper()
	c, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOpen_OpensInitialPartitions(t *testing.T) {
	c := openCluster(t, testOptions("", 3))
	assert.Equal(t, []int32{1, 2, 3}, c.Partitions())
}

func TestSubmit_RoutesByKey(t *testing.T) {
	c := openCluster(t, testOptions("", 2))
	stop := runCluster(t, c)
	defer stop()
	ctx := context.Background()

	created, err := c.Submit(ctx, engine.CommandRequest{
		Intent: record.ResourceCreate,
		Value:  record.ResourceRecord{ResourceID: "order", Payload: []byte("v1")},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), created.PartitionID)
	assert.Equal(t, int32(1), record.DecodePartitionID(created.Key))

	missing, err := c.Submit(ctx, engine.CommandRequest{
		Key:    record.EncodePartitionKey(2, 7),
		Intent: record.ResourceDelete,
		Value:  record.ResourceRecord{},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), missing.PartitionID)
	assert.Equal(t, record.RejectionNotFound, missing.RejectionType)

	_, err = c.Submit(ctx, engine.CommandRequest{
		Key:    record.EncodePartitionKey(9, 1),
		Intent: record.ResourceDelete,
		Value:  record.ResourceRecord{},
	})
	assert.True(t, errors.Is(err, ErrUnknownPartition))
}

func TestScaleUp(t *testing.T) {
	c := openCluster(t, testOptions("", 1))
	stop := runCluster(t, c)
	defer stop()
	ctx := context.Background()

	status, err := c.ScaleUp(ctx, 3)
	require.NoError(t, err)

	assert.Equal(t, []int32{1, 2, 3}, status.CurrentPartitions)
	assert.Equal(t, []int32{1, 2, 3}, status.DesiredPartitions)
	assert.Equal(t, []int32{1, 2, 3}, c.Partitions())

	routed, err := c.Route(ctx, "order-42")
	require.NoError(t, err)
	assert.Contains(t, []int32{1, 2, 3}, routed)

	// The new partitions process commands.
	resp, err := c.SubmitTo(ctx, 3, engine.CommandRequest{
		Intent: record.ResourceCreate,
		Value:  record.ResourceRecord{ResourceID: "invoice", Payload: []byte("v1")},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), record.DecodePartitionID(resp.Key))
}

func TestScaleUp_Rejected(t *testing.T) {
	c := openCluster(t, testOptions("", 2))
	stop := runCluster(t, c)
	defer stop()
	ctx := context.Background()

	tests := []struct {
		name  string
		count int32
		want  record.RejectionType
	}{
		{"beyond maximum", 5, record.RejectionInvalidArgument},
		{"not growing", 2, record.RejectionInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ScaleUp(ctx, tt.count)

			var rejection *RejectionError
			require.True(t, errors.As(err, &rejection), "got %v", err)
			assert.Equal(t, tt.want, rejection.Type)
		})
	}
	assert.Equal(t, []int32{1, 2}, c.Partitions())
}

func TestScaleUp_RequiresRun(t *testing.T) {
	c := openCluster(t, testOptions("", 1))
	_, err := c.ScaleUp(context.Background(), 2)
	assert.True(t, errors.Is(err, ErrNotRunning))
}

func TestReopen_AfterScaleUp(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()

	c, err := Open(ctx, testOptions(dataDir, 1))
	require.NoError(t, err)
	stop := runCluster(t, c)
	_, err = c.ScaleUp(ctx, 2)
	require.NoError(t, err)
	stop()
	require.NoError(t, c.Close())

	reopened := openCluster(t, testOptions(dataDir, 1))
	assert.Equal(t, []int32{1, 2}, reopened.Partitions())

	stop = runCluster(t, reopened)
	defer stop()
	status, err := reopened.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2}, status.CurrentPartitions)
}

func TestRun_ResumesUnfinishedScaleUp(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()

	c, err := Open(ctx, testOptions(dataDir, 1))
	require.NoError(t, err)
	stop := runCluster(t, c)
	resp, err := c.Submit(ctx, engine.CommandRequest{
		Intent: record.ScaleUp,
		Value:  record.ScaleRecord{DesiredPartitionCount: 2},
	})
	require.NoError(t, err)
	require.Equal(t, record.ScalingUp, resp.Intent)
	stop()
	require.NoError(t, c.Close())

	reopened := openCluster(t, testOptions(dataDir, 1))
	assert.Equal(t, []int32{1, 2}, reopened.Partitions())

	stop = runCluster(t, reopened)
	defer stop()
	require.Eventually(t, func() bool {
		status, err := reopened.Status(ctx)
		return err == nil && len(status.CurrentPartitions) == 2
	}, 5*time.Second, 10*time.Millisecond)
}
