package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/messaging-api/internal/handler"
)

const (
	HeaderXTenantID = "X-Tenant-ID"
	ContextTenantID = "tenant_id"
)

// Tenant resolves the owning tenant for the request. Every downstream store
// call is scoped by this id; a request with no valid tenant goes nowhere.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderXTenantID)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, handler.NewErrorResponse("missing X-Tenant-ID header"))
			return
		}

		tenantID, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, handler.NewErrorResponse("invalid X-Tenant-ID header"))
			return
		}

		c.Set(ContextTenantID, tenantID)
		c.Next()
	}
}

// TenantFromContext returns the tenant set by the Tenant middleware.
func TenantFromContext(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextTenantID)
	if !ok {
		return uuid.Nil, false
	}
	tenantID, ok := v.(uuid.UUID)
	return tenantID, ok
}
