// Package receipt defines the immutable contract records that form the
// substrate's ledger, the receipt type vocabulary, and the termination
// registry that gives obligation chains their semantics.
package receipt

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"asyncgate/internal/domain/principal"
)

// Type is a receipt type tag. The vocabulary is the ledger's public protocol.
type Type string

const (
	TypeTaskAssigned        Type = "task.assigned"
	TypeTaskAccepted        Type = "task.accepted"
	TypeTaskProgress        Type = "task.progress"
	TypeTaskCompleted       Type = "task.completed"
	TypeTaskFailed          Type = "task.failed"
	TypeTaskCanceled        Type = "task.canceled"
	TypeTaskResultReady     Type = "task.result_ready"
	TypeLeaseExpired        Type = "lease.expired"
	TypeReceiptAcknowledged Type = "receipt.acknowledged"

	// Anomaly receipts share the system.anomaly prefix; the subtype is part
	// of the type string.
	anomalyPrefix Type = "system.anomaly."

	TypeAnomalyLocatabilityMissing Type = "system.anomaly.locatability_missing"
)

// IsAnomaly reports whether t is any system.anomaly.* subtype.
func (t Type) IsAnomaly() bool {
	return strings.HasPrefix(string(t), string(anomalyPrefix))
}

// Receipt is an immutable record of a lifecycle event. Once written it is
// never modified and never deleted.
type Receipt struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	ReceiptID uuid.UUID `json:"receipt_id"`

	Type Type                `json:"receipt_type"`
	From principal.Principal `json:"from"`
	To   principal.Principal `json:"to"`

	TaskID  *uuid.UUID `json:"task_id,omitempty"`
	LeaseID *uuid.UUID `json:"lease_id,omitempty"`

	// Parents links this receipt to the obligations it references. For
	// discharge receipts the linkage is what closes the obligation.
	Parents []uuid.UUID `json:"parents"`

	Body map[string]any `json:"body"`

	// Hash is the content hash used for idempotent emission. It covers the
	// sorted parents list; see ComputeHash.
	Hash string `json:"hash,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Instance records the substrate node that wrote the receipt.
	Instance string `json:"-"`
}

// MaxParents caps the parents list length; the configured limit may be lower
// but never higher.
const MaxParents = 10

// HasLocatability reports whether a task.completed body satisfies the
// locatability requirement: a non-empty artifacts list or a delivery_proof
// record. The engine does not interpret either beyond presence.
func HasLocatability(body map[string]any) bool {
	if body == nil {
		return false
	}
	if artifacts, ok := body["artifacts"]; ok {
		switch v := artifacts.(type) {
		case []any:
			if len(v) > 0 {
				return true
			}
		case []map[string]any:
			if len(v) > 0 {
				return true
			}
		}
	}
	if proof, ok := body["delivery_proof"]; ok {
		if m, isMap := proof.(map[string]any); isMap && len(m) > 0 {
			return true
		}
	}
	return false
}
