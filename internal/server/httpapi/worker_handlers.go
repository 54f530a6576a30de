package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// workerFrom extracts the caller and requires worker kind.
func (h *Handler) workerFrom(c *gin.Context) (string, bool) {
	caller, ok := principalFrom(c)
	if !ok {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "missing or malformed principal headers", nil)
		return "", false
	}
	if caller.Kind != "worker" {
		h.writeJSONError(c, http.StatusForbidden, "unauthorized", "worker endpoints require a worker principal", nil)
		return "", false
	}
	return caller.ID, true
}

type claimRequest struct {
	Capabilities    []string `json:"capabilities"`
	MaxTasks        int      `json:"max_tasks"`
	LeaseTTLSeconds int      `json:"lease_ttl_seconds"`
}

func (h *Handler) handleClaim(c *gin.Context) {
	tenant, ok := tenantFrom(c)
	if !ok {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "missing or malformed X-Tenant-ID header", nil)
		return
	}
	workerID, ok := h.workerFrom(c)
	if !ok {
		return
	}
	var req claimRequest
	if !h.decodeBody(c, &req) {
		return
	}

	claims, err := h.engine.LeaseNext(c.Request.Context(), tenant, workerID, req.Capabilities,
		req.MaxTasks, time.Duration(req.LeaseTTLSeconds)*time.Second)
	if err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "failed to claim tasks")
		return
	}
	c.JSON(http.StatusOK, gin.H{"claims": claims})
}

type renewRequest struct {
	TaskID          string `json:"task_id"`
	ExtendBySeconds int    `json:"extend_by_seconds"`
}

func (h *Handler) handleRenew(c *gin.Context) {
	tenant, ok := tenantFrom(c)
	if !ok {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "missing or malformed X-Tenant-ID header", nil)
		return
	}
	workerID, ok := h.workerFrom(c)
	if !ok {
		return
	}
	leaseID, err := uuid.Parse(c.Param("lease_id"))
	if err != nil {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "malformed lease id", nil)
		return
	}
	var req renewRequest
	if !h.decodeBody(c, &req) {
		return
	}
	taskID, err := uuid.Parse(req.TaskID)
	if err != nil {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "malformed task id", nil)
		return
	}

	lease, err := h.engine.RenewLease(c.Request.Context(), tenant, workerID, taskID, leaseID,
		time.Duration(req.ExtendBySeconds)*time.Second)
	if err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "failed to renew lease")
		return
	}
	c.JSON(http.StatusOK, lease)
}

type progressRequest struct {
	LeaseID  string         `json:"lease_id"`
	Progress map[string]any `json:"progress"`
}

func (h *Handler) handleReportProgress(c *gin.Context) {
	tenant, workerID, taskID, ok := h.workerTaskScope(c)
	if !ok {
		return
	}
	var req progressRequest
	if !h.decodeBody(c, &req) {
		return
	}
	leaseID, err := uuid.Parse(req.LeaseID)
	if err != nil {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "malformed lease id", nil)
		return
	}
	if err := h.engine.ReportProgress(c.Request.Context(), tenant, workerID, taskID, leaseID, req.Progress); err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "failed to report progress")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

type completeRequest struct {
	LeaseID       string         `json:"lease_id"`
	Result        map[string]any `json:"result"`
	Artifacts     []any          `json:"artifacts"`
	DeliveryProof map[string]any `json:"delivery_proof"`
}

func (h *Handler) handleComplete(c *gin.Context) {
	tenant, workerID, taskID, ok := h.workerTaskScope(c)
	if !ok {
		return
	}
	var req completeRequest
	if !h.decodeBody(c, &req) {
		return
	}
	leaseID, err := uuid.Parse(req.LeaseID)
	if err != nil {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "malformed lease id", nil)
		return
	}
	if err := h.engine.Complete(c.Request.Context(), tenant, workerID, taskID, leaseID,
		req.Result, req.Artifacts, req.DeliveryProof); err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "failed to complete task")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "succeeded"})
}

type failRequest struct {
	LeaseID   string         `json:"lease_id"`
	Error     map[string]any `json:"error"`
	Retryable bool           `json:"retryable"`
}

func (h *Handler) handleFail(c *gin.Context) {
	tenant, workerID, taskID, ok := h.workerTaskScope(c)
	if !ok {
		return
	}
	var req failRequest
	if !h.decodeBody(c, &req) {
		return
	}
	leaseID, err := uuid.Parse(req.LeaseID)
	if err != nil {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "malformed lease id", nil)
		return
	}
	requeued, err := h.engine.Fail(c.Request.Context(), tenant, workerID, taskID, leaseID, req.Error, req.Retryable)
	if err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "failed to record task failure")
		return
	}
	status := "failed"
	if requeued {
		status = "requeued"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "requeued": requeued})
}

func (h *Handler) workerTaskScope(c *gin.Context) (tenant uuid.UUID, workerID string, taskID uuid.UUID, ok bool) {
	tenant, ok = tenantFrom(c)
	if !ok {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "missing or malformed X-Tenant-ID header", nil)
		return tenant, "", taskID, false
	}
	workerID, ok = h.workerFrom(c)
	if !ok {
		return tenant, "", taskID, false
	}
	taskID, err := uuid.Parse(c.Param("task_id"))
	if err != nil {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "malformed task id", nil)
		return tenant, workerID, taskID, false
	}
	return tenant, workerID, taskID, true
}
