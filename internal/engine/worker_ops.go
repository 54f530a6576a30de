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

// LeaseNext claims up to maxTasks eligible tasks for the worker. The claim
// loop stays cheap: no per-task receipts are emitted; the owner's view of the
// still-open task.assigned is the authoritative state until a discharge
// appears.
func (e *Engine) LeaseNext(ctx context.Context, tenant uuid.UUID, workerID string, capabilities []string, maxTasks int, ttl time.Duration) ([]Claim, error) {
	if workerID == "" {
		return nil, NewValidation("worker", "worker id is required")
	}
	if maxTasks <= 0 {
		maxTasks = 1
	}
	if maxTasks > e.cfg.MaxClaimTasks {
		maxTasks = e.cfg.MaxClaimTasks
	}

	claims, err := e.stores.Leases().ClaimNext(ctx, tenant, workerID, capabilities, maxTasks, e.clampTTL(ttl))
	if err != nil {
		return nil, err
	}
	if len(claims) > 0 {
		e.metrics.LeasesClaimed(len(claims))
	}
	return claims, nil
}

// RenewLease extends a live lease. A worker that sees LeaseInvalidOrExpired
// here has lost authority and must drop its result.
func (e *Engine) RenewLease(ctx context.Context, tenant uuid.UUID, workerID string, taskID, leaseID uuid.UUID, extendBy time.Duration) (*lease.Lease, error) {
	t, err := e.stores.Tasks().Get(ctx, tenant, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != task.StatusLeased {
		return nil, NewLeaseInvalidOrExpired(taskID.String(), leaseID.String())
	}

	renewed, err := e.stores.Leases().Renew(ctx, tenant, taskID, leaseID, workerID, e.clampTTL(extendBy))
	if err != nil {
		return nil, err
	}
	e.metrics.LeaseRenewed()
	return renewed, nil
}

// ReportProgress records a worker's progress report. Gated on a valid lease
// so non-owning workers cannot corrupt progress; emits a non-terminal
// task.progress receipt.
func (e *Engine) ReportProgress(ctx context.Context, tenant uuid.UUID, workerID string, taskID, leaseID uuid.UUID, progress map[string]any) error {
	l, err := e.stores.Leases().Validate(ctx, tenant, taskID, leaseID, workerID)
	if err != nil {
		return err
	}
	if l == nil {
		return NewLeaseInvalidOrExpired(taskID.String(), leaseID.String())
	}

	err = e.stores.Atomic(ctx, func(s Stores) error {
		if err := s.Progress().Upsert(ctx, tenant, taskID, progress); err != nil {
			return err
		}
		tid, lid := taskID, leaseID
		_, err := s.Receipts().Create(ctx, tenant, CreateReceipt{
			Type:    receipt.TypeTaskProgress,
			From:    principal.Worker(workerID),
			To:      principal.Gate,
			TaskID:  &tid,
			LeaseID: &lid,
			Body:    receipt.ProgressBody(progress),
		})
		return err
	})
	if err != nil {
		return err
	}
	e.metrics.ReceiptEmitted(string(receipt.TypeTaskProgress))
	return nil
}

// Complete marks a task succeeded. In one savepoint the task transitions to
// succeeded, the lease is released, task.completed discharges the original
// task.assigned, and task.result_ready notifies the owner. If the block
// fails the task stays leased so the worker or the sweeper can retry.
func (e *Engine) Complete(ctx context.Context, tenant uuid.UUID, workerID string, taskID, leaseID uuid.UUID, result map[string]any, artifacts []any, deliveryProof map[string]any) error {
	l, err := e.stores.Leases().Validate(ctx, tenant, taskID, leaseID, workerID)
	if err != nil {
		return err
	}
	if l == nil {
		return NewLeaseInvalidOrExpired(taskID.String(), leaseID.String())
	}
	t, err := e.stores.Tasks().Get(ctx, tenant, taskID)
	if err != nil {
		return err
	}
	if !task.CanTransition(t.Status, task.StatusSucceeded) {
		return NewInvalidStateTransition(taskID.String(), string(t.Status), string(task.StatusSucceeded))
	}

	err = e.stores.Atomic(ctx, func(s Stores) error {
		taskResult := &task.Result{
			Outcome:   task.OutcomeSucceeded,
			Result:    result,
			Artifacts: artifacts,
		}
		ok, err := s.Tasks().Transition(ctx, tenant, taskID, task.StatusLeased, task.StatusSucceeded, taskResult)
		if err != nil {
			return err
		}
		if !ok {
			return NewInvalidStateTransition(taskID.String(), string(t.Status), string(task.StatusSucceeded))
		}
		if _, err := s.Leases().Release(ctx, tenant, taskID); err != nil {
			return err
		}

		assigned, err := s.Receipts().LatestForTask(ctx, tenant, taskID, receipt.TypeTaskAssigned)
		if err != nil {
			return err
		}
		var parents []uuid.UUID
		if assigned != nil {
			parents = []uuid.UUID{assigned.ReceiptID}
		}
		tid, lid := taskID, leaseID
		owner := t.CreatedBy
		if _, err := s.Receipts().Create(ctx, tenant, CreateReceipt{
			Type:           receipt.TypeTaskCompleted,
			From:           principal.Worker(workerID),
			To:             principal.Gate,
			TaskID:         &tid,
			LeaseID:        &lid,
			Parents:        parents,
			Body:           receipt.TaskCompletedBody(result, artifacts, deliveryProof),
			Owner:          &owner,
			NonDischarging: assigned == nil,
		}); err != nil {
			return err
		}

		_, err = s.Receipts().Create(ctx, tenant, CreateReceipt{
			Type:   receipt.TypeTaskResultReady,
			From:   principal.Gate,
			To:     t.CreatedBy,
			TaskID: &tid,
			Body:   receipt.ResultReadyBody(string(task.StatusSucceeded), result, nil, artifacts),
		})
		return err
	})
	if err != nil {
		return err
	}
	e.metrics.TaskSucceeded()
	e.metrics.ReceiptEmitted(string(receipt.TypeTaskCompleted))
	e.metrics.ReceiptEmitted(string(receipt.TypeTaskResultReady))
	if len(artifacts) == 0 && len(deliveryProof) == 0 {
		// The lenient path recorded a companion anomaly alongside the
		// stripped discharge.
		e.metrics.ReceiptEmitted(string(receipt.TypeAnomalyLocatabilityMissing))
	}
	return nil
}

// Fail records a worker failure. Retryable failures with attempts remaining
// requeue with exponential backoff and emit a non-discharging task.failed
// marker to the owner, leaving the obligation open. Otherwise the task
// transitions to failed and task.failed discharges the obligation.
func (e *Engine) Fail(ctx context.Context, tenant uuid.UUID, workerID string, taskID, leaseID uuid.UUID, errInfo map[string]any, retryable bool) (requeued bool, err error) {
	l, err := e.stores.Leases().Validate(ctx, tenant, taskID, leaseID, workerID)
	if err != nil {
		return false, err
	}
	if l == nil {
		return false, NewLeaseInvalidOrExpired(taskID.String(), leaseID.String())
	}
	t, err := e.stores.Tasks().Get(ctx, tenant, taskID)
	if err != nil {
		return false, err
	}
	if t.Status != task.StatusLeased {
		return false, NewInvalidStateTransition(taskID.String(), string(t.Status), string(task.StatusFailed))
	}

	shouldRequeue := retryable && t.Attempt < t.MaxAttempts

	err = e.stores.Atomic(ctx, func(s Stores) error {
		if _, err := s.Leases().Release(ctx, tenant, taskID); err != nil {
			return err
		}
		tid, lid := taskID, leaseID

		if shouldRequeue {
			updated, err := s.Tasks().RequeueWithBackoff(ctx, tenant, taskID)
			if err != nil {
				return err
			}
			_, err = s.Receipts().Create(ctx, tenant, CreateReceipt{
				Type:           receipt.TypeTaskFailed,
				From:           principal.Gate,
				To:             t.CreatedBy,
				TaskID:         &tid,
				LeaseID:        &lid,
				Body:           receipt.TaskFailedBody(errInfo, true, updated.Attempt, updated.MaxAttempts, updated.NextEligibleAt),
				NonDischarging: true,
			})
			return err
		}

		taskResult := &task.Result{
			Outcome: task.OutcomeFailed,
			Error:   errInfo,
		}
		ok, err := s.Tasks().Transition(ctx, tenant, taskID, task.StatusLeased, task.StatusFailed, taskResult)
		if err != nil {
			return err
		}
		if !ok {
			return NewInvalidStateTransition(taskID.String(), string(t.Status), string(task.StatusFailed))
		}

		assigned, err := s.Receipts().LatestForTask(ctx, tenant, taskID, receipt.TypeTaskAssigned)
		if err != nil {
			return err
		}
		var parents []uuid.UUID
		if assigned != nil {
			parents = []uuid.UUID{assigned.ReceiptID}
		}
		if _, err := s.Receipts().Create(ctx, tenant, CreateReceipt{
			Type:           receipt.TypeTaskFailed,
			From:           principal.Worker(workerID),
			To:             principal.Gate,
			TaskID:         &tid,
			LeaseID:        &lid,
			Parents:        parents,
			Body:           receipt.TaskFailedBody(errInfo, false, t.Attempt, t.MaxAttempts, nil),
			NonDischarging: assigned == nil,
		}); err != nil {
			return err
		}

		_, err = s.Receipts().Create(ctx, tenant, CreateReceipt{
			Type:   receipt.TypeTaskResultReady,
			From:   principal.Gate,
			To:     t.CreatedBy,
			TaskID: &tid,
			Body:   receipt.ResultReadyBody(string(task.StatusFailed), nil, errInfo, nil),
		})
		return err
	})
	if err != nil {
		return false, err
	}
	if shouldRequeue {
		e.metrics.TaskRequeued()
		e.metrics.ReceiptEmitted(string(receipt.TypeTaskFailed))
	} else {
		e.metrics.TaskFailed()
		e.metrics.ReceiptEmitted(string(receipt.TypeTaskFailed))
		e.metrics.ReceiptEmitted(string(receipt.TypeTaskResultReady))
	}
	return shouldRequeue, nil
}
