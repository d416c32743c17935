package testutil

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streamcore/internal/engine"
	"github.com/roach88/streamcore/internal/record"
)

func TestResponseRecorder(t *testing.T) {
	var r ResponseRecorder
	_, ok := r.Last()
	assert.False(t, ok)

	r.Send(engine.Response{Key: 1, Intent: record.ResourceCreated})
	r.Send(engine.Response{Key: 2, Intent: record.ResourceDeleted})

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, int64(2), last.Key)
	assert.Equal(t, 2, r.Len())

	responses := r.Responses()
	responses[0].Key = 99
	assert.Equal(t, int64(1), r.Responses()[0].Key, "Responses returns a copy")
}

func TestResponseRecorder_ThreadSafe(t *testing.T) {
	var r ResponseRecorder
	const goroutines = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(key int64) {
			defer wg.Done()
			r.Send(engine.Response{Key: key})
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, goroutines, r.Len())
}

func TestJobRecorder(t *testing.T) {
	r := &JobRecorder{}
	require.NoError(t, r.Publish(7, record.JobRecord{Type: "charge", Retries: 3}))
	require.NoError(t, r.Publish(7, record.JobRecord{Type: "charge", Retries: 2}))

	assert.Equal(t, []int64{7, 7}, r.Keys())
	assert.Equal(t, int32(2), r.Jobs()[1].Retries)

	r.Err = errors.New("worker gone")
	assert.EqualError(t, r.Publish(8, record.JobRecord{}), "worker gone")
	assert.Equal(t, []int64{7, 7, 8}, r.Keys())
}

func TestDiscardLogger(t *testing.T) {
	logger := DiscardLogger()
	require.NotNil(t, logger)
	logger.Info("dropped", "key", 1)
}
