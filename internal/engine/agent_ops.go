package engine

import (
	"context"

	"github.com/google/uuid"

	"asyncgate/internal/domain/principal"
	"asyncgate/internal/domain/receipt"
	"asyncgate/internal/domain/task"
)

// TaskView is a task together with its latest progress report, if any.
type TaskView struct {
	*task.Task
	Progress map[string]any `json:"progress,omitempty"`
}

// TaskPage is one page of a task listing.
type TaskPage struct {
	Tasks  []*task.Task `json:"tasks"`
	Cursor string       `json:"cursor,omitempty"`
}

// ReceiptPage is one page of a receipt listing.
type ReceiptPage struct {
	Receipts []*receipt.Receipt `json:"receipts"`
	Cursor   string             `json:"cursor,omitempty"`
}

// CreateTask records a new obligation: it inserts the task and emits the
// task.assigned receipt to the creating principal in one atomic block.
// Creation is idempotent over (tenant, idempotency_key).
func (e *Engine) CreateTask(ctx context.Context, tenant uuid.UUID, caller principal.Principal, spec task.Spec, idempotencyKey string) (*task.Task, error) {
	if err := caller.Validate(); err != nil {
		return nil, NewValidation("principal", err.Error())
	}
	if spec.Type == "" {
		return nil, NewValidation("task", "task type is required")
	}
	spec.CreatedBy = caller

	var created *task.Task
	err := e.stores.Atomic(ctx, func(s Stores) error {
		t, err := s.Tasks().Create(ctx, tenant, spec, idempotencyKey)
		if err != nil {
			return err
		}
		created = t

		var reqs map[string]any
		if len(t.Requirements.Capabilities) > 0 {
			reqs = map[string]any{"capabilities": t.Requirements.Capabilities}
		}
		taskID := t.TaskID
		_, err = s.Receipts().Create(ctx, tenant, CreateReceipt{
			Type:   receipt.TypeTaskAssigned,
			From:   principal.Gate,
			To:     caller,
			TaskID: &taskID,
			Body:   receipt.TaskAssignedBody(t.Type, reqs),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	e.metrics.TaskCreated()
	e.metrics.ReceiptEmitted(string(receipt.TypeTaskAssigned))
	return created, nil
}

// GetTask returns the task with its latest progress. Result is present only
// when the task is terminal.
func (e *Engine) GetTask(ctx context.Context, tenant, taskID uuid.UUID) (*TaskView, error) {
	t, err := e.stores.Tasks().Get(ctx, tenant, taskID)
	if err != nil {
		return nil, err
	}
	progress, err := e.stores.Progress().Get(ctx, tenant, taskID)
	if err != nil {
		return nil, err
	}
	return &TaskView{Task: t, Progress: progress}, nil
}

// ListTasks pages tasks matching the filters.
func (e *Engine) ListTasks(ctx context.Context, tenant uuid.UUID, filters task.Filters, cursorToken string, limit int) (*TaskPage, error) {
	cursor, err := DecodeCursor(cursorToken)
	if err != nil {
		return nil, err
	}
	tasks, next, err := e.stores.Tasks().List(ctx, tenant, filters, cursor, e.clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return &TaskPage{Tasks: tasks, Cursor: next.Encode()}, nil
}

// CancelTask cancels a non-terminal task. Only the creating principal (or
// system) may cancel. The atomic block releases any active lease, moves the
// task to canceled, and emits task.canceled plus task.result_ready to the
// owner; the cancellation receipt discharges the original task.assigned.
func (e *Engine) CancelTask(ctx context.Context, tenant uuid.UUID, caller principal.Principal, taskID uuid.UUID, reason string) error {
	t, err := e.stores.Tasks().Get(ctx, tenant, taskID)
	if err != nil {
		return err
	}
	if caller.Kind != principal.KindSystem && !t.CreatedBy.Equal(caller) {
		return NewUnauthorized(taskID.String(), "only the creating principal can cancel a task")
	}
	if t.IsTerminal() {
		return NewInvalidStateTransition(taskID.String(), string(t.Status), string(task.StatusCanceled))
	}

	err = e.stores.Atomic(ctx, func(s Stores) error {
		if _, err := s.Leases().Release(ctx, tenant, taskID); err != nil {
			return err
		}
		result := &task.Result{
			Outcome: task.OutcomeCanceled,
			Error:   map[string]any{"reason": reason},
		}
		ok, err := s.Tasks().Transition(ctx, tenant, taskID, t.Status, task.StatusCanceled, result)
		if err != nil {
			return err
		}
		if !ok {
			return NewInvalidStateTransition(taskID.String(), string(t.Status), string(task.StatusCanceled))
		}

		assigned, err := s.Receipts().LatestForTask(ctx, tenant, taskID, receipt.TypeTaskAssigned)
		if err != nil {
			return err
		}
		var parents []uuid.UUID
		if assigned != nil {
			parents = []uuid.UUID{assigned.ReceiptID}
		}
		tid := taskID
		if _, err := s.Receipts().Create(ctx, tenant, CreateReceipt{
			Type:           receipt.TypeTaskCanceled,
			From:           principal.Gate,
			To:             t.CreatedBy,
			TaskID:         &tid,
			Parents:        parents,
			Body:           receipt.TaskCanceledBody(reason),
			NonDischarging: assigned == nil,
		}); err != nil {
			return err
		}

		_, err = s.Receipts().Create(ctx, tenant, CreateReceipt{
			Type:   receipt.TypeTaskResultReady,
			From:   principal.Gate,
			To:     t.CreatedBy,
			TaskID: &tid,
			Body:   receipt.ResultReadyBody(string(task.StatusCanceled), nil, result.Error, nil),
		})
		return err
	})
	if err != nil {
		return err
	}
	e.metrics.TaskCanceled()
	e.metrics.ReceiptEmitted(string(receipt.TypeTaskCanceled))
	e.metrics.ReceiptEmitted(string(receipt.TypeTaskResultReady))
	return nil
}

// ListReceipts pages receipts addressed to the caller.
func (e *Engine) ListReceipts(ctx context.Context, tenant uuid.UUID, caller principal.Principal, cursorToken string, limit int) (*ReceiptPage, error) {
	cursor, err := DecodeCursor(cursorToken)
	if err != nil {
		return nil, err
	}
	receipts, next, err := e.stores.Receipts().List(ctx, tenant, caller, cursor, e.clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return &ReceiptPage{Receipts: receipts, Cursor: next.Encode()}, nil
}

// GetReceipt returns a single receipt; used for chain traversal.
func (e *Engine) GetReceipt(ctx context.Context, tenant, receiptID uuid.UUID) (*receipt.Receipt, error) {
	return e.stores.Receipts().Get(ctx, tenant, receiptID)
}

// ListReceiptsByParent returns the children of a receipt; retries can produce
// several terminators, so callers should prefer LatestTerminator.
func (e *Engine) ListReceiptsByParent(ctx context.Context, tenant, parentID uuid.UUID, limit int) ([]*receipt.Receipt, error) {
	return e.stores.Receipts().ListByParent(ctx, tenant, parentID, e.clampLimit(limit))
}

// LatestTerminator returns the most recent child of an obligation, or nil.
func (e *Engine) LatestTerminator(ctx context.Context, tenant, parentID uuid.UUID) (*receipt.Receipt, error) {
	return e.stores.Receipts().LatestTerminator(ctx, tenant, parentID)
}

// AckReceipt appends a receipt.acknowledged record. Acknowledgement is
// append-only telemetry, not a mutable flag, and terminates nothing. The
// acknowledged receipt id travels in parents (existence-checked by the
// ledger) and is duplicated in the body for convenience.
func (e *Engine) AckReceipt(ctx context.Context, tenant uuid.UUID, caller principal.Principal, receiptID uuid.UUID) error {
	err := e.stores.Atomic(ctx, func(s Stores) error {
		_, err := s.Receipts().Create(ctx, tenant, CreateReceipt{
			Type:    receipt.TypeReceiptAcknowledged,
			From:    caller,
			To:      principal.Gate,
			Parents: []uuid.UUID{receiptID},
			Body:    receipt.AcknowledgedBody(receiptID),
		})
		return err
	})
	if err != nil {
		return err
	}
	e.metrics.ReceiptEmitted(string(receipt.TypeReceiptAcknowledged))
	return nil
}
