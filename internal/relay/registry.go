package relay

import (
	"sync"
	"time"
)

// Status is the lifecycle state of a generation job. Transitions are
// monotonic: processing moves to completed or failed and never back.
type Status string

const (
	StatusUnknown    Status = "unknown"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// JobInfo is the registry's diagnostic view of one job. It is never
// consulted for delivery decisions; the event log is the source of truth.
type JobInfo struct {
	JobID       string    `json:"job_id"`
	Status      Status    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	Events      int64     `json:"events"`
	Reason      string    `json:"reason,omitempty"`
}

// Registry tracks job lifecycle metadata for observability.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*JobInfo
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*JobInfo)}
}

// Create records a new job in the processing state. Creating an existing job
// is a no-op.
func (r *Registry) Create(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[jobID]; ok {
		return
	}
	r.jobs[jobID] = &JobInfo{
		JobID:     jobID,
		Status:    StatusProcessing,
		StartedAt: time.Now(),
	}
}

// ObserveEvent bumps the job's event counter.
func (r *Registry) ObserveEvent(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.jobs[jobID]; ok {
		info.Events++
	}
}

// MarkCompleted finalizes the job as completed.
func (r *Registry) MarkCompleted(jobID string) {
	r.finalize(jobID, StatusCompleted, "")
}

// MarkFailed finalizes the job as failed with a human-readable reason.
func (r *Registry) MarkFailed(jobID, reason string) {
	r.finalize(jobID, StatusFailed, reason)
}

func (r *Registry) finalize(jobID string, status Status, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.jobs[jobID]
	if !ok || info.Status != StatusProcessing {
		return
	}
	info.Status = status
	info.Reason = reason
	info.CompletedAt = time.Now()
}

// Get returns the job's metadata, or a JobInfo with StatusUnknown when the
// job was never registered.
func (r *Registry) Get(jobID string) JobInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if info, ok := r.jobs[jobID]; ok {
		return *info
	}
	return JobInfo{JobID: jobID, Status: StatusUnknown}
}

// Prune drops terminal entries older than maxAge so the registry stays
// bounded in long-running processes.
func (r *Registry) Prune(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()
	for jobID, info := range r.jobs {
		if info.Status != StatusProcessing && info.CompletedAt.Before(cutoff) {
			delete(r.jobs, jobID)
		}
	}
}
