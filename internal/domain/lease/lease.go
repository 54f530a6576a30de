// Package lease defines the time-bounded exclusive claim a worker holds on a
// task. At most one lease may be non-expired for any task at any time; the
// storage layer enforces this with a uniqueness constraint on (tenant, task).
package lease

import (
	"time"

	"github.com/google/uuid"
)

// Lease is a worker's exclusive right to execute a task until ExpiresAt.
type Lease struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	LeaseID      uuid.UUID `json:"lease_id"`
	TaskID       uuid.UUID `json:"task_id"`
	WorkerID     string    `json:"worker_id"`
	AcquiredAt   time.Time `json:"acquired_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	RenewalCount int       `json:"renewal_count"`
}

// ValidFor reports whether the lease is live at now and owned by workerID.
func (l *Lease) ValidFor(workerID string, now time.Time) bool {
	return l.WorkerID == workerID && l.ExpiresAt.After(now)
}

// Expired reports whether the lease has lapsed at now.
func (l *Lease) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// Age is the elapsed lifetime since acquisition.
func (l *Lease) Age(now time.Time) time.Duration {
	return now.Sub(l.AcquiredAt)
}
