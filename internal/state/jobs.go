package state

import (
	"fmt"

	"github.com/roach88/streamcore/internal/record"
	"github.com/roach88/streamcore/internal/statedb"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	// JobActivatable jobs can be picked up by workers.
	JobActivatable JobStatus = "ACTIVATABLE"
	// JobFailed jobs ran out of retries and wait for an incident resolution.
	JobFailed JobStatus = "FAILED"
)

type storedJob struct {
	Status JobStatus        `json:"status"`
	Job    record.JobRecord `json:"job"`
}

// JobState stores jobs until they complete.
type JobState struct {
	ctx *statedb.TransactionContext
}

// NewJobState creates the job store.
func NewJobState(ctx *statedb.TransactionContext) *JobState {
	return &JobState{ctx: ctx}
}

// Create stores a new activatable job.
func (s *JobState) Create(key int64, job record.JobRecord) error {
	return s.put(key, JobActivatable, job)
}

// Get returns a job and its status.
func (s *JobState) Get(key int64) (record.JobRecord, JobStatus, bool, error) {
	stored, found, err := getJSON[storedJob](s.ctx, cfJobs, int64Key(key))
	if err != nil || !found {
		return record.JobRecord{}, "", false, err
	}
	return stored.Job, stored.Status, true, nil
}

// Fail records a failed attempt. A job without retries left becomes FAILED.
func (s *JobState) Fail(key int64, job record.JobRecord) error {
	status := JobActivatable
	if job.Retries <= 0 {
		status = JobFailed
	}
	return s.put(key, status, job)
}

// UpdateRetries sets the retries of a job without changing its status.
func (s *JobState) UpdateRetries(key int64, retries int32) error {
	job, status, found, err := s.Get(key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("update retries: job %d not found", key)
	}
	job.Retries = retries
	return s.put(key, status, job)
}

// MakeActivatable returns a failed job with retries to workers.
func (s *JobState) MakeActivatable(key int64) error {
	job, _, found, err := s.Get(key)
	if err != nil || !found {
		return err
	}
	return s.put(key, JobActivatable, job)
}

// Delete removes a job.
func (s *JobState) Delete(key int64) error {
	return deleteKey(s.ctx, cfJobs, int64Key(key))
}

func (s *JobState) put(key int64, status JobStatus, job record.JobRecord) error {
	if err := putJSON(s.ctx, cfJobs, int64Key(key), storedJob{Status: status, Job: job}); err != nil {
		return fmt.Errorf("put job %d: %w", key, err)
	}
	return nil
}
