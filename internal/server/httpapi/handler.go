// Package httpapi is the HTTP facade over the engine. It adapts transport
// concerns only: identity headers, JSON bodies, status codes. All semantics
// live in the engine, so any other facade would behave identically.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"asyncgate/internal/engine"
	"asyncgate/internal/observability"
	"asyncgate/internal/shared/logging"
)

const defaultMaxRequestBody = 1 << 20 // 1 MiB

// Handler serves the /v1 API.
type Handler struct {
	engine      *engine.Engine
	logger      logging.Logger
	maxBodySize int64
	enableCORS  bool
	tracer      trace.Tracer
}

// Option configures a Handler.
type Option func(*Handler)

// WithMaxBodySize caps request body size in bytes.
func WithMaxBodySize(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodySize = n
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(h *Handler) { h.logger = logging.OrNop(logger) }
}

// WithCORS enables permissive CORS for browser clients.
func WithCORS() Option {
	return func(h *Handler) { h.enableCORS = true }
}

// WithTracer opens a span per request.
func WithTracer(tracer trace.Tracer) Option {
	return func(h *Handler) { h.tracer = tracer }
}

// NewHandler constructs the API handler.
func NewHandler(eng *engine.Engine, opts ...Option) *Handler {
	h := &Handler{
		engine:      eng,
		logger:      logging.NewComponentLogger("HTTPAPI"),
		maxBodySize: defaultMaxRequestBody,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the /v1 route table.
func (h *Handler) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if h.tracer != nil {
		router.Use(h.traceRequests())
	}
	if h.enableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowHeaders = []string{
			"Origin", "Content-Type", headerTenantID, headerPrincipalKind, headerPrincipalID,
		}
		router.Use(cors.New(corsConfig))
	}

	v1 := router.Group("/v1")
	v1.GET("/health", h.handleHealth)
	v1.GET("/config", h.handleConfig)

	v1.POST("/tasks", h.handleCreateTask)
	v1.GET("/tasks", h.handleListTasks)
	v1.GET("/tasks/:task_id", h.handleGetTask)
	v1.POST("/tasks/:task_id/cancel", h.handleCancelTask)
	v1.POST("/tasks/:task_id/progress", h.handleReportProgress)
	v1.POST("/tasks/:task_id/complete", h.handleComplete)
	v1.POST("/tasks/:task_id/fail", h.handleFail)

	v1.POST("/leases/claim", h.handleClaim)
	v1.POST("/leases/:lease_id/renew", h.handleRenew)

	v1.GET("/receipts", h.handleListReceipts)
	v1.GET("/receipts/:receipt_id", h.handleGetReceipt)
	v1.GET("/receipts/:receipt_id/children", h.handleReceiptChildren)
	v1.GET("/receipts/:receipt_id/terminator", h.handleReceiptTerminator)
	v1.POST("/receipts/:receipt_id/ack", h.handleAckReceipt)

	v1.GET("/obligations/open", h.handleOpenObligations)

	return router
}

// traceRequests wraps each request in a span carrying the matched route and
// final status. The span context rides on the request so engine calls nest
// under it.
func (h *Handler) traceRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := h.tracer.Start(c.Request.Context(), observability.SpanHTTPRequest,
			trace.WithAttributes(
				attribute.String(observability.AttrHTTPRoute, c.FullPath()),
				attribute.String("http.method", c.Request.Method),
			))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(attribute.Int(observability.AttrHTTPStatus, c.Writer.Status()))
		span.End()
	}
}

func (h *Handler) handleHealth(c *gin.Context) {
	if err := h.engine.Health(c.Request.Context()); err != nil {
		h.writeJSONError(c, http.StatusServiceUnavailable, "unhealthy", "database unreachable", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.ConfigSnapshot())
}

// decodeBody reads a bounded JSON body into dst. An empty body decodes to the
// zero value so action endpoints can be called without arguments.
func (h *Handler) decodeBody(c *gin.Context, dst any) bool {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodySize)
	defer body.Close() //nolint:errcheck // best-effort on defer
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeJSONError(c, http.StatusRequestEntityTooLarge, "validation_error", "request body too large", nil)
			return false
		}
		h.writeJSONError(c, http.StatusBadRequest, "validation_error", "malformed JSON body", err)
		return false
	}
	return true
}
