// Package jobtracker enforces the single-admission rule for long-running
// transcription jobs: at most one job may be in flight process-wide, and an
// in-flight job can be cooperatively cancelled by request.
package jobtracker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Status describes the tracker's current admission state.
type Status struct {
	Busy            bool      `json:"busy"`
	User            string    `json:"user,omitempty"`
	JobID           string    `json:"job_id,omitempty"`
	CancelRequested bool      `json:"cancel_requested"`
	StartedAt       time.Time `json:"started_at,omitempty"`
}

// Tracker is the process-wide single-admission controller. The zero value
// is not usable; construct with New.
type Tracker struct {
	mu        sync.Mutex
	running   bool
	jobID     string
	user      string
	startedAt time.Time
	cancelled atomic.Bool
}

// New returns an idle Tracker.
func New() *Tracker {
	return &Tracker{}
}

// TryStart attempts to admit user as the sole active job. On success it
// mints a fresh job ID and returns (true, jobID, ""). On failure (another
// job is already running) it returns (false, "", activeUser) - this is the
// P1 admission safety invariant: never more than one job active at a time.
func (t *Tracker) TryStart(user string) (ok bool, jobID string, activeUser string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return false, "", t.user
	}

	t.running = true
	t.jobID = uuid.NewString()
	t.user = user
	t.startedAt = time.Now()
	t.cancelled.Store(false)
	return true, t.jobID, ""
}

// End releases the admission slot if jobID matches the currently running
// job. A stale End from a job that was already released (or never admitted)
// is a silent no-op, and reports false.
func (t *Tracker) End(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running || t.jobID != jobID {
		return false
	}
	t.running = false
	t.jobID = ""
	t.user = ""
	t.cancelled.Store(false)
	return true
}

// Cancel marks the currently running job as cancelled, if any. Cancellation
// is cooperative: the worker must poll IsCancelled and stop itself; Cancel
// never forcibly interrupts in-flight compute.
func (t *Tracker) Cancel() (ok bool, cancelledUser string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return false, ""
	}
	t.cancelled.Store(true)
	return true, t.user
}

// IsCancelled reports whether the current job has been asked to stop.
func (t *Tracker) IsCancelled() bool {
	return t.cancelled.Load()
}

// Status returns a snapshot of the tracker's state.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Status{
		Busy:            t.running,
		User:            t.user,
		JobID:           t.jobID,
		CancelRequested: t.cancelled.Load(),
		StartedAt:       t.startedAt,
	}
}
