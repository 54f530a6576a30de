package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (h *Handler) handleListReceipts(c *gin.Context) {
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
	page, err := h.engine.ListReceipts(c.Request.Context(), tenant, caller, c.Query("cursor"), queryInt(c.Query("limit")))
	if err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "failed to list receipts")
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) handleGetReceipt(c *gin.Context) {
	tenant, receiptID, ok := h.receiptScope(c)
	if !ok {
		return
	}
	receipt, err := h.engine.GetReceipt(c.Request.Context(), tenant, receiptID)
	if err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "failed to load receipt")
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *Handler) handleReceiptChildren(c *gin.Context) {
	tenant, receiptID, ok := h.receiptScope(c)
	if !ok {
		return
	}
	children, err := h.engine.ListReceiptsByParent(c.Request.Context(), tenant, receiptID, queryInt(c.Query("limit")))
	if err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "failed to list children")
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipts": children})
}

func (h *Handler) handleReceiptTerminator(c *gin.Context) {
	tenant, receiptID, ok := h.receiptScope(c)
	if !ok {
		return
	}
	terminator, err := h.engine.LatestTerminator(c.Request.Context(), tenant, receiptID)
	if err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "failed to resolve terminator")
		return
	}
	c.JSON(http.StatusOK, gin.H{"terminator": terminator})
}

func (h *Handler) handleAckReceipt(c *gin.Context) {
	tenant, receiptID, ok := h.receiptScope(c)
	if !ok {
		return
	}
	caller, ok := principalFrom(c)
	if !ok {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "missing or malformed principal headers", nil)
		return
	}
	if err := h.engine.AckReceipt(c.Request.Context(), tenant, caller, receiptID); err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "failed to acknowledge receipt")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
}

func (h *Handler) handleOpenObligations(c *gin.Context) {
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
	result, err := h.engine.ListOpenObligations(c.Request.Context(), tenant, caller, c.Query("cursor"), queryInt(c.Query("limit")))
	if err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "failed to query open obligations")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) receiptScope(c *gin.Context) (tenant, receiptID uuid.UUID, ok bool) {
	tenant, ok = tenantFrom(c)
	if !ok {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "missing or malformed X-Tenant-ID header", nil)
		return tenant, receiptID, false
	}
	receiptID, err := uuid.Parse(c.Param("receipt_id"))
	if err != nil {
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "malformed receipt id", nil)
		return tenant, receiptID, false
	}
	return tenant, receiptID, true
}
