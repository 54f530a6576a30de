package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"asyncgate/internal/domain/task"
)

type createTaskRequest struct {
	Type                string            `json:"type"`
	Payload             map[string]any    `json:"payload"`
	Requirements        task.Requirements `json:"requirements"`
	Priority            int               `json:"priority"`
	MaxAttempts         int               `json:"max_attempts"`
	RetryBackoffSeconds int               `json:"retry_backoff_seconds"`
	DelaySeconds        int               `json:"delay_seconds"`
	IdempotencyKey      string            `json:"idempotency_key"`
}

func (h *Handler) handleCreateTask(c *gin.Context) {
	tenant, ok := tenantFrom(c)
	if !ok {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "missing or malformed X-Tenant-ID header", nil)
		return
	}
	caller, ok := principalFrom(c)
	if !ok {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "missing or malformed principal headers", nil)
		return
	}
	var req createTaskRequest
	if !h.decodeBody(c, &req) {
		return
	}

	created, err := h.engine.CreateTask(c.Request.Context(), tenant, caller, task.Spec{
		Type:                req.Type,
		Payload:             req.Payload,
		Requirements:        req.Requirements,
		Priority:            req.Priority,
		MaxAttempts:         req.MaxAttempts,
		RetryBackoffSeconds: req.RetryBackoffSeconds,
		DelaySeconds:        req.DelaySeconds,
	}, req.IdempotencyKey)
	if err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "failed to create task")
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) handleGetTask(c *gin.Context) {
	tenant, ok := tenantFrom(c)
	if !ok {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "missing or malformed X-Tenant-ID header", nil)
		return
	}
	taskID, err := uuid.Parse(c.Param("task_id"))
	if err != nil {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "malformed task id", nil)
		return
	}
	view, err := h.engine.GetTask(c.Request.Context(), tenant, taskID)
	if err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "failed to load task")
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) handleListTasks(c *gin.Context) {
	tenant, ok := tenantFrom(c)
	if !ok {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "missing or malformed X-Tenant-ID header", nil)
		return
	}
	filters := task.Filters{
		Status:      task.Status(c.Query("status")),
		Type:        c.Query("type"),
		CreatedByID: c.Query("created_by"),
	}
	if filters.Status != "" && !filters.Status.Valid() {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "unknown status filter", nil)
		return
	}
	page, err := h.engine.ListTasks(c.Request.Context(), tenant, filters, c.Query("cursor"), queryInt(c.Query("limit")))
	if err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	c.JSON(http.StatusOK, page)
}

type cancelTaskRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleCancelTask(c *gin.Context) {
	tenant, ok := tenantFrom(c)
	if !ok {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "missing or malformed X-Tenant-ID header", nil)
		return
	}
	caller, ok := principalFrom(c)
	if !ok {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "missing or malformed principal headers", nil)
		return
	}
	taskID, err := uuid.Parse(c.Param("task_id"))
	if err != nil {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "malformed task id", nil)
		return
	}
	var req cancelTaskRequest
	if !h.decodeBody(c, &req) {
		return
	}
	if err := h.engine.CancelTask(c.Request.Context(), tenant, caller, taskID, req.Reason); err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "failed to cancel task")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "canceled"})
}

func queryInt(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
