// Package service provides the migration workflow as jobs: staging an
// upload, running the migration, packaging the result and tracking progress.
package service

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Satyacharanv/CodeConversionAI/internal/migrate"
)

// JobStatus represents the state of a migration job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// Job represents one tracked migration.
type Job struct {
	ID          string     `json:"id"`
	Status      JobStatus  `json:"status"`
	Filename    string     `json:"filename"`
	Language    string     `json:"code_language"`
	FromVersion string     `json:"fro_version"`
	ToVersion   string     `json:"to_version"`
	Phase       string     `json:"phase,omitempty"`
	Progress    int        `json:"progress"`
	Total       int        `json:"total"`
	CurrentFile string     `json:"current_file,omitempty"`
	Result      *Response  `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Internal fields
	mu      sync.RWMutex
	changed chan struct{}
}

// Snapshot returns a thread-safe copy of job state.
func (j *Job) Snapshot() Job {
	snap, _ := j.Watch()
	return snap
}

// Watch returns the current state and a channel closed on the next change.
func (j *Job) Watch() (Job, <-chan struct{}) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Job{
		ID:          j.ID,
		Status:      j.Status,
		Filename:    j.Filename,
		Language:    j.Language,
		FromVersion: j.FromVersion,
		ToVersion:   j.ToVersion,
		Phase:       j.Phase,
		Progress:    j.Progress,
		Total:       j.Total,
		CurrentFile: j.CurrentFile,
		Result:      j.Result,
		Error:       j.Error,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}, j.changed
}

// update applies fn under the job lock and wakes watchers.
func (j *Job) update(fn func(*Job)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(j)
	close(j.changed)
	j.changed = make(chan struct{})
}

// JobManager tracks migration jobs in memory.
type JobManager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewJobManager creates a new job manager.
func NewJobManager(logger *slog.Logger) *JobManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobManager{
		jobs:   make(map[string]*Job),
		logger: logger,
	}
}

// CreateJob registers a pending job under id.
func (m *JobManager) CreateJob(id, filename string, params Params) *Job {
	job := &Job{
		ID:          id,
		Status:      JobStatusPending,
		Filename:    filename,
		Language:    params.Language,
		FromVersion: params.FromVersion,
		ToVersion:   params.ToVersion,
		StartedAt:   time.Now(),
		changed:     make(chan struct{}),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.logger.Info("job created", "job_id", job.ID, "filename", filename, "language", params.Language)
	return job
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// ListJobs returns all jobs, most recent first.
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}

	slices.SortFunc(jobs, func(a, b *Job) int {
		return b.StartedAt.Compare(a.StartedAt)
	})

	return jobs
}

// SetRunning marks job as running.
func (m *JobManager) SetRunning(job *Job) {
	job.update(func(j *Job) { j.Status = JobStatusRunning })
}

// UpdateProgress records a progress report from the migration workflow.
func (m *JobManager) UpdateProgress(job *Job, p migrate.Progress) {
	job.update(func(j *Job) {
		if j.Status == JobStatusPending {
			j.Status = JobStatusRunning
		}
		j.Phase = p.Phase
		if p.Total > 0 || p.Phase == migrate.PhaseFiles {
			j.Total = p.Total
		}
		// Concurrent workers may report out of order.
		if p.Done > j.Progress {
			j.Progress = p.Done
		}
		if p.File != "" {
			j.CurrentFile = p.File
		}
	})
}

// Complete marks job as completed with result.
func (m *JobManager) Complete(job *Job, result *Response) {
	job.update(func(j *Job) {
		j.Status = JobStatusCompleted
		j.Result = result
		j.CurrentFile = ""
		now := time.Now()
		j.CompletedAt = &now
	})

	m.logger.Info("job completed", "job_id", job.ID, "files", len(result.Files))
}

// Fail marks job as failed with error.
func (m *JobManager) Fail(job *Job, err error) {
	job.update(func(j *Job) {
		j.Status = JobStatusFailed
		j.Error = err.Error()
		now := time.Now()
		j.CompletedAt = &now
	})

	m.logger.Error("job failed", "job_id", job.ID, "error", err)
}
