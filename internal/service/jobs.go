package service

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

// JobStatus represents the state of an analysis run.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobInfo is one analysis run of a batch. The batch itself is the durable
// record; jobs only describe what this process is doing.
type JobInfo struct {
	BatchID     string     `json:"batch_id"`
	TenantID    string     `json:"tenant_id"`
	Mode        string     `json:"mode"` // "inline" or "queued"
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	Total       int        `json:"total"`
	Error       string     `json:"error,omitempty"`
	QueuedAt    time.Time  `json:"queued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Job is a tracked run.
type Job struct {
	mu   sync.RWMutex
	info JobInfo
}

// JobManager tracks analysis runs in memory.
type JobManager struct {
	jobs map[string]*Job
	mu   sync.RWMutex
	// keep is how long finished jobs stay listed.
	keep time.Duration
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*Job),
		keep: time.Hour,
	}
}

// Track registers a run for a batch, replacing any finished earlier run.
func (m *JobManager) Track(tenantID, batchID, mode string, total int) *Job {
	job := &Job{info: JobInfo{
		BatchID:  batchID,
		TenantID: tenantID,
		Mode:     mode,
		Status:   JobStatusQueued,
		Total:    total,
		QueuedAt: time.Now(),
	}}

	m.mu.Lock()
	m.jobs[batchID] = job
	m.pruneLocked()
	m.mu.Unlock()

	slog.Debug("analysis job tracked", "batch_id", batchID, "mode", mode, "files", total)
	return job
}

// pruneLocked drops finished jobs older than keep. Caller must hold write lock.
func (m *JobManager) pruneLocked() {
	cutoff := time.Now().Add(-m.keep)
	for id, job := range m.jobs {
		job.mu.RLock()
		done := job.info.CompletedAt != nil && job.info.CompletedAt.Before(cutoff)
		job.mu.RUnlock()
		if done {
			delete(m.jobs, id)
		}
	}
}

// GetJob retrieves the run of a batch.
func (m *JobManager) GetJob(batchID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[batchID]
}

// ListJobs returns the tenant's runs, most recent first. An empty tenant
// lists every run.
func (m *JobManager) ListJobs(tenantID string) []JobInfo {
	m.mu.RLock()
	jobs := make([]JobInfo, 0, len(m.jobs))
	for _, job := range m.jobs {
		snap := job.Snapshot()
		if tenantID == "" || snap.TenantID == tenantID {
			jobs = append(jobs, snap)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b JobInfo) int {
		return b.QueuedAt.Compare(a.QueuedAt)
	})
	return jobs
}

// SetRunning marks the run as started.
func (m *JobManager) SetRunning(batchID string) {
	job := m.GetJob(batchID)
	if job == nil {
		return
	}
	job.mu.Lock()
	job.info.Status = JobStatusRunning
	now := time.Now()
	job.info.StartedAt = &now
	job.mu.Unlock()
}

// UpdateProgress records how many documents have been processed.
func (m *JobManager) UpdateProgress(batchID string, current int) {
	job := m.GetJob(batchID)
	if job == nil {
		return
	}
	job.mu.Lock()
	job.info.Progress = current
	job.mu.Unlock()
}

// Complete marks the run as finished.
func (m *JobManager) Complete(batchID string) {
	job := m.GetJob(batchID)
	if job == nil {
		return
	}
	job.mu.Lock()
	job.info.Status = JobStatusCompleted
	job.info.Progress = job.info.Total
	now := time.Now()
	job.info.CompletedAt = &now
	job.mu.Unlock()
}

// Fail marks the run as failed with err.
func (m *JobManager) Fail(batchID string, err error) {
	job := m.GetJob(batchID)
	if job == nil {
		return
	}
	job.mu.Lock()
	job.info.Status = JobStatusFailed
	job.info.Error = err.Error()
	now := time.Now()
	job.info.CompletedAt = &now
	job.mu.Unlock()
}

// Snapshot returns a thread-safe copy of job state.
func (j *Job) Snapshot() JobInfo {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.info
}
