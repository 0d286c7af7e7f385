package httpkit

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity is the caller authenticated by AuthRequired.
type Identity struct {
	UserID   uuid.UUID
	TenantID *uuid.UUID
}

// GetIdentity extracts the Identity from a Gin context.
// The second return value is false for unauthenticated requests.
func GetIdentity(c *gin.Context) (Identity, bool) {
	raw, ok := c.Get(ContextUserIDKey)
	if !ok {
		return Identity{}, false
	}
	userID, ok := raw.(uuid.UUID)
	if !ok {
		return Identity{}, false
	}

	id := Identity{UserID: userID}
	if tenant, ok := c.Get(ContextTenantIDKey); ok {
		if tenantID, ok := tenant.(uuid.UUID); ok {
			id.TenantID = &tenantID
		}
	}
	return id, true
}

// CanAccessTenant reports whether the caller may read records owned by tenantID.
// Callers without a tenant claim, and unauthenticated routes, are not restricted.
func CanAccessTenant(c *gin.Context, tenantID uuid.UUID) bool {
	id, ok := GetIdentity(c)
	if !ok || id.TenantID == nil {
		return true
	}
	return *id.TenantID == tenantID
}
