package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"asyncgate/internal/domain/lease"
	"asyncgate/internal/domain/principal"
	"asyncgate/internal/domain/receipt"
	"asyncgate/internal/domain/task"
)

// Stores is the engine's view of the persistent substrate. Implementations
// are transaction-aware: Atomic hands the callback a Stores whose operations
// run inside a savepoint-scoped atomic block, so a task state change, lease
// change, and receipt emission either all commit or all roll back.
type Stores interface {
	Tasks() TaskStore
	Leases() LeaseStore
	Receipts() ReceiptLedger
	Progress() ProgressStore

	// Atomic runs fn inside a savepoint. Nested calls open nested savepoints.
	Atomic(ctx context.Context, fn func(Stores) error) error

	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error
}

// TaskStore persists task rows and enforces the task state machine.
type TaskStore interface {
	// Create inserts a queued task. When idempotencyKey matches an existing
	// task for the tenant the existing task is returned unchanged. The
	// unique-constraint race is resolved by re-reading in a fresh snapshot.
	Create(ctx context.Context, tenant uuid.UUID, spec task.Spec, idempotencyKey string) (*task.Task, error)

	Get(ctx context.Context, tenant, taskID uuid.UUID) (*task.Task, error)

	// List pages tasks by (created_at, task_id) so the ordering is stable
	// under concurrent inserts.
	List(ctx context.Context, tenant uuid.UUID, filters task.Filters, cursor *Cursor, limit int) ([]*task.Task, *Cursor, error)

	// Transition performs a conditional state update and reports whether it
	// occurred. Terminal states are sinks.
	Transition(ctx context.Context, tenant, taskID uuid.UUID, from, to task.Status, result *task.Result) (bool, error)

	// RequeueWithBackoff requeues after a retryable worker failure: attempt
	// increments and next_eligible_at moves out exponentially. If the
	// incremented attempt exceeds max_attempts the task transitions to
	// failed instead, and the returned task reflects that.
	RequeueWithBackoff(ctx context.Context, tenant, taskID uuid.UUID) (*task.Task, error)

	// RequeueOnExpiry requeues after lease expiry without touching attempt:
	// expiry is lost authority, not task failure. Reports whether the task
	// was still leased; a false return means the row raced to another state.
	RequeueOnExpiry(ctx context.Context, tenant, taskID uuid.UUID, jitter time.Duration) (bool, error)
}

// Claim pairs a task with the lease issued on it.
type Claim struct {
	Task  *task.Task   `json:"task"`
	Lease *lease.Lease `json:"lease"`
}

// LeaseStore persists lease rows and enforces the single-active-lease
// invariant plus renewal and lifetime caps.
type LeaseStore interface {
	// ClaimNext atomically claims up to maxTasks eligible queued tasks whose
	// capability requirements are a subset of capabilities. Uses skip-locked
	// row locking so concurrent claimers do not serialise.
	ClaimNext(ctx context.Context, tenant uuid.UUID, workerID string, capabilities []string, maxTasks int, ttl time.Duration) ([]Claim, error)

	// Validate returns the lease iff it matches task and worker and has not
	// expired; nil otherwise. Pure read.
	Validate(ctx context.Context, tenant, taskID, leaseID uuid.UUID, workerID string) (*lease.Lease, error)

	// Renew extends the lease with compare-and-set on expires_at > now so an
	// expired lease cannot be resurrected. Fails with RenewalLimitExceeded
	// or LifetimeExceeded when the caps would be breached.
	Renew(ctx context.Context, tenant, taskID, leaseID uuid.UUID, workerID string, extendBy time.Duration) (*lease.Lease, error)

	// Release removes the active lease on the task, if any.
	Release(ctx context.Context, tenant, taskID uuid.UUID) (bool, error)

	// GetExpired returns leases with expires_at <= now, across tenants.
	// Used only by the sweeper.
	GetExpired(ctx context.Context, now time.Time, limit int) ([]*lease.Lease, error)
}

// CreateReceipt carries the fields of a receipt to be appended.
type CreateReceipt struct {
	Type    receipt.Type
	From    principal.Principal
	To      principal.Principal
	TaskID  *uuid.UUID
	LeaseID *uuid.UUID
	Parents []uuid.UUID
	Body    map[string]any

	// Owner is the task owner; the ledger addresses the companion
	// locatability anomaly to it when a success discharge lacks evidence.
	Owner *principal.Principal

	// NonDischarging records a terminal-typed receipt with empty parents,
	// bypassing discharge validation. Used for requeue markers, which must
	// not close the obligation.
	NonDischarging bool
}

// ReceiptLedger is the append-only receipt store.
type ReceiptLedger interface {
	// Create validates and appends. Emission is idempotent: a hash collision
	// with an existing receipt returns the existing one.
	Create(ctx context.Context, tenant uuid.UUID, spec CreateReceipt) (*receipt.Receipt, error)

	Get(ctx context.Context, tenant, receiptID uuid.UUID) (*receipt.Receipt, error)

	// List pages receipts addressed to a principal by (created_at, receipt_id).
	List(ctx context.Context, tenant uuid.UUID, to principal.Principal, cursor *Cursor, limit int) ([]*receipt.Receipt, *Cursor, error)

	ListByParent(ctx context.Context, tenant, parentID uuid.UUID, limit int) ([]*receipt.Receipt, error)

	// HasTerminator is a single existence probe over the inverted parents
	// index.
	HasTerminator(ctx context.Context, tenant, parentID uuid.UUID) (bool, error)

	// LatestTerminator returns the most recent child of parentID, or nil.
	LatestTerminator(ctx context.Context, tenant, parentID uuid.UUID) (*receipt.Receipt, error)

	// LatestForTask returns the most recent receipt of the given type
	// attached to the task, or nil. Discharges link to it as their parent.
	LatestForTask(ctx context.Context, tenant, taskID uuid.UUID, t receipt.Type) (*receipt.Receipt, error)

	// ListObligationCandidates fetches receipts of obligation-creating types
	// addressed to a principal, ordered by (created_at, receipt_id).
	ListObligationCandidates(ctx context.Context, tenant uuid.UUID, to principal.Principal, types []receipt.Type, cursor *Cursor, limit int) ([]*receipt.Receipt, error)

	// ChildrenOfAny returns, in one batched query, every receipt whose
	// parents list intersects parentIDs.
	ChildrenOfAny(ctx context.Context, tenant uuid.UUID, parentIDs []uuid.UUID) ([]*receipt.Receipt, error)
}

// ProgressStore keeps the latest progress report per task.
type ProgressStore interface {
	Upsert(ctx context.Context, tenant, taskID uuid.UUID, progress map[string]any) error
	Get(ctx context.Context, tenant, taskID uuid.UUID) (map[string]any, error)
}
