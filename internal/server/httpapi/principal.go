package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"asyncgate/internal/domain/principal"
)

// Identity headers. Authentication proper is expected to run in front of the
// substrate (gateway or sidecar); these headers carry the already-verified
// identity downstream.
const (
	headerTenantID      = "X-Tenant-ID"
	headerPrincipalKind = "X-Principal-Kind"
	headerPrincipalID   = "X-Principal-ID"
)

// tenantFrom extracts and parses the tenant id header.
func tenantFrom(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetHeader(headerTenantID)
	if raw == "" {
		return uuid.Nil, false
	}
	tenant, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return tenant, true
}

// principalFrom extracts and validates the caller's principal headers.
func principalFrom(c *gin.Context) (principal.Principal, bool) {
	p := principal.Principal{
		Kind: principal.Kind(c.GetHeader(headerPrincipalKind)),
		ID:   c.GetHeader(headerPrincipalID),
	}
	if err := p.Validate(); err != nil {
		return principal.Principal{}, false
	}
	return p, true
}
