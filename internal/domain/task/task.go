// Package task defines the task domain model and its lifecycle state machine.
//
// A task is a unit of delegated work recorded by the substrate. Tasks are
// created by agents, mutated only by the engine in response to worker or agent
// actions, and never deleted.
package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"asyncgate/internal/domain/principal"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusLeased    Status = "leased"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// IsTerminal reports whether the status is a final state. Terminal states are
// sinks: no transition leaves them.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusLeased, StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// transitions is the table-driven state machine. A transition not listed here
// is invalid regardless of caller.
var transitions = map[Status][]Status{
	StatusQueued: {StatusLeased, StatusCanceled},
	StatusLeased: {StatusSucceeded, StatusFailed, StatusQueued, StatusCanceled},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Outcome labels the result of a terminal task.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
)

// Requirements constrain which workers may claim a task. A task's capability
// set must be a subset of the claiming worker's capabilities.
type Requirements struct {
	Capabilities []string `json:"capabilities,omitempty"`
}

// Result is present only on terminal tasks.
type Result struct {
	Outcome     Outcome         `json:"outcome"`
	Result      map[string]any  `json:"result,omitempty"`
	Error       map[string]any  `json:"error,omitempty"`
	Artifacts   []any           `json:"artifacts,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
	Raw         json.RawMessage `json:"-"`
}

// Task is the unit of delegated work.
type Task struct {
	TenantID uuid.UUID `json:"tenant_id"`
	TaskID   uuid.UUID `json:"task_id"`

	Type           string              `json:"type"`
	Payload        map[string]any      `json:"payload"`
	Requirements   Requirements        `json:"requirements"`
	Priority       int                 `json:"priority"`
	CreatedBy      principal.Principal `json:"created_by"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`

	Status              Status     `json:"status"`
	Attempt             int        `json:"attempt"`
	MaxAttempts         int        `json:"max_attempts"`
	RetryBackoffSeconds int        `json:"retry_backoff_seconds"`
	NextEligibleAt      *time.Time `json:"next_eligible_at,omitempty"`

	Result *Result `json:"result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Instance records which substrate node created the task; used by the
	// sweeper's multi-instance partitioning and telemetry.
	Instance string `json:"-"`
}

// IsTerminal reports whether the task is in a terminal state.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// Spec carries the caller-supplied fields of a new task. Defaults for zero
// fields are applied by the engine from configuration.
type Spec struct {
	Type                string
	Payload             map[string]any
	Requirements        Requirements
	Priority            int
	MaxAttempts         int
	RetryBackoffSeconds int
	DelaySeconds        int
	CreatedBy           principal.Principal
}

// Filters narrows task listings.
type Filters struct {
	Status      Status
	Type        string
	CreatedByID string
}
