package receipt

import (
	"time"

	"github.com/google/uuid"
)

// Standard receipt body shapes. Bodies are opaque maps on the wire; these
// constructors keep the engine's emissions structurally consistent.

// TaskAssignedBody is the body of the obligation-creating task.assigned receipt.
func TaskAssignedBody(taskType string, requirements map[string]any) map[string]any {
	body := map[string]any{
		"instructions": "Execute task type: " + taskType,
	}
	if len(requirements) > 0 {
		body["requirements"] = requirements
	}
	return body
}

// TaskCompletedBody is the body of a success discharge. Locatability (either
// artifacts or delivery_proof) is validated by the ledger, not here.
func TaskCompletedBody(result map[string]any, artifacts []any, deliveryProof map[string]any) map[string]any {
	body := map[string]any{}
	if len(result) > 0 {
		body["result_payload"] = result
	}
	if len(artifacts) > 0 {
		body["artifacts"] = artifacts
	}
	if len(deliveryProof) > 0 {
		body["delivery_proof"] = deliveryProof
	}
	return body
}

// TaskFailedBody is the body of a failure discharge or requeue marker.
func TaskFailedBody(errInfo map[string]any, requeued bool, attempt, maxAttempts int, nextEligibleAt *time.Time) map[string]any {
	body := map[string]any{
		"error":        errInfo,
		"requeued":     requeued,
		"attempt":      attempt,
		"max_attempts": maxAttempts,
	}
	if nextEligibleAt != nil {
		body["next_eligible_at"] = nextEligibleAt.UTC().Format(time.RFC3339Nano)
	}
	return body
}

// TaskCanceledBody is the body of a cancellation discharge.
func TaskCanceledBody(reason string) map[string]any {
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	return body
}

// ResultReadyBody notifies the task owner that a terminal result is available.
func ResultReadyBody(status string, result map[string]any, errInfo map[string]any, artifacts []any) map[string]any {
	body := map[string]any{
		"status": status,
	}
	if len(result) > 0 {
		body["result_payload"] = result
	}
	if len(errInfo) > 0 {
		body["error"] = errInfo
	}
	if len(artifacts) > 0 {
		body["artifacts"] = artifacts
	}
	return body
}

// LeaseExpiredBody records a sweep-driven requeue. lease.expired is not a
// terminal type; the obligation stays open until a real discharge.
func LeaseExpiredBody(taskID uuid.UUID, previousWorkerID string, attempt int) map[string]any {
	return map[string]any{
		"task_id":            taskID.String(),
		"previous_worker_id": previousWorkerID,
		"attempt":            attempt,
		"requeued":           true,
	}
}

// ProgressBody wraps a worker's progress report.
func ProgressBody(progress map[string]any) map[string]any {
	return map[string]any{"progress": progress}
}

// AcknowledgedBody duplicates the acknowledged receipt id in the body; the
// authoritative linkage is the parents list.
func AcknowledgedBody(receiptID uuid.UUID) map[string]any {
	return map[string]any{"acknowledged_receipt_id": receiptID.String()}
}

// AnomalyBody is the body of a system.anomaly.* receipt.
func AnomalyBody(details map[string]any, recommendedAction string) map[string]any {
	body := map[string]any{
		"details": details,
	}
	if recommendedAction != "" {
		body["recommended_action"] = recommendedAction
	}
	return body
}
