package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/sharegate/internal/identity"
	"github.com/xxxsen/sharegate/internal/pkg/errcode"
	"github.com/xxxsen/sharegate/internal/pkg/response"
)

const (
	ContextUserIDKey   = "user_id"
	ContextIdentityKey = "identity"
)

// ResolveIdentity runs the strict resolution on every request and stores the
// result. It never aborts; the guards below decide what a rejection means.
func ResolveIdentity(resolver *identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		setIdentity(c, resolver.Resolve(c.GetHeader("Authorization")))
		c.Next()
	}
}

// RequireAuth only lets authenticated callers through.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !GetIdentity(c).IsAuthenticated() {
			response.Error(c, http.StatusUnauthorized, errcode.Unauthorized, "authentication required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// FallbackAuth lets unauthenticated callers continue as anonymous when allow
// is set. The reason the strict check failed is never reported.
func FallbackAuth(allow bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := identity.Fallback(GetIdentity(c), allow)
		if id.State == identity.StateRejected {
			response.Error(c, http.StatusUnauthorized, errcode.Unauthorized, "authentication required")
			c.Abort()
			return
		}
		setIdentity(c, id)
		c.Next()
	}
}

// GetIdentity returns the identity stored by ResolveIdentity, or Rejected when
// none was stored.
func GetIdentity(c *gin.Context) identity.Identity {
	if v, ok := c.Get(ContextIdentityKey); ok {
		if id, ok := v.(identity.Identity); ok {
			return id
		}
	}
	return identity.Rejected()
}

func setIdentity(c *gin.Context, id identity.Identity) {
	c.Set(ContextIdentityKey, id)
	if id.IsAuthenticated() {
		c.Set(ContextUserIDKey, id.UserID)
	}
}
