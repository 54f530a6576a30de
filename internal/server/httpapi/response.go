package httpapi

import (
	"github.com/gin-gonic/gin"
)

type apiErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *Handler) writeJSONError(c *gin.Context, status int, code, message string, err error) {
	if err != nil {
		h.logger.Error("HTTP %d - %s: %v", status, message, err)
	} else {
		h.logger.Warn("HTTP %d - %s", status, message)
	}

	resp := apiErrorResponse{Error: message, Code: code}
	if err != nil && err.Error() != message {
		resp.Details = err.Error()
	}
	c.AbortWithStatusJSON(status, resp)
}
