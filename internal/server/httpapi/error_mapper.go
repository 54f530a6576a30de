package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"asyncgate/internal/engine"
)

// mapEngineError translates an engine error code into an HTTP status.
// Returns 0 for unrecognized errors, letting the caller default to 500.
func mapEngineError(err error) (status int, code engine.Code) {
	code = engine.CodeOf(err)
	switch code {
	case engine.CodeTaskNotFound, engine.CodeReceiptNotFound:
		return http.StatusNotFound, code
	case engine.CodeValidation:
		return http.StatusBadRequest, code
	case engine.CodeUnauthorized:
		return http.StatusForbidden, code
	case engine.CodeInvalidStateTransition, engine.CodeIdempotencyConflict:
		return http.StatusConflict, code
	case engine.CodeLeaseInvalidOrExpired, engine.CodeRenewalLimitExceeded, engine.CodeLifetimeExceeded:
		// The worker has lost (or cannot extend) authority; 409 signals a
		// state conflict rather than a malformed request.
		return http.StatusConflict, code
	case engine.CodeRateLimited:
		return http.StatusTooManyRequests, code
	default:
		return 0, code
	}
}

// writeMappedError writes an engine error with its mapped status, or the
// provided default for untagged errors.
func (h *Handler) writeMappedError(c *gin.Context, err error, defaultStatus int, defaultMsg string) {
	if status, code := mapEngineError(err); status != 0 {
		h.writeJSONError(c, status, string(code), err.Error(), nil)
		return
	}
	h.writeJSONError(c, defaultStatus, "internal_error", defaultMsg, err)
}
