package testutil

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/streamcore/internal/engine"
	"github.com/roach88/streamcore/internal/record"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ResponseRecorder is an engine.ResponseSink that keeps every response in
// the order the engine sent them.
type ResponseRecorder struct {
	mu        sync.Mutex
	responses []engine.Response
}

// Send records resp.
func (r *ResponseRecorder) Send(resp engine.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, resp)
}

// Responses returns a copy of the recorded responses.
func (r *ResponseRecorder) Responses() []engine.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.responses)
}

// Len returns the number of recorded responses.
func (r *ResponseRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.responses)
}

// Last returns the most recent response.
func (r *ResponseRecorder) Last() (engine.Response, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.responses) == 0 {
		return engine.Response{}, false
	}
	return r.responses[len(r.responses)-1], true
}

// JobRecorder records published jobs. It satisfies processors.JobPublisher.
type JobRecorder struct {
	mu   sync.Mutex
	keys []int64
	jobs []record.JobRecord

	// Err is returned by every Publish call when set.
	Err error
}

// Publish records the job and returns r.Err.
func (r *JobRecorder) Publish(jobKey int64, job record.JobRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, jobKey)
	r.jobs = append(r.jobs, job)
	return r.Err
}

// Keys returns the keys of the published jobs in publish order.
func (r *JobRecorder) Keys() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.keys)
}

// Jobs returns the published job values in publish order.
func (r *JobRecorder) Jobs() []record.JobRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.jobs)
}
