package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/sharegate/internal/identity"
	"github.com/xxxsen/sharegate/internal/middleware"
)

type RouterDeps struct {
	Auth                       *AuthHandler
	Shares                     *ShareHandler
	ReverseShares              *ReverseShareHandler
	Properties                 *PropertiesHandler
	Resolver                   *identity.Resolver
	AllowUnauthenticatedShares bool
	TokenRateLimit             time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.Use(middleware.ResolveIdentity(deps.Resolver))

	api.POST("/auth/register", deps.Auth.Register)
	api.POST("/auth/login", deps.Auth.Login)
	api.GET("/configs", deps.Properties.Get)

	api.POST("/shares", createShareGuard(deps.AllowUnauthenticatedShares), deps.Shares.Create)
	api.POST("/shares/:id/files", lenient(), deps.Shares.AddFile)
	api.POST("/shares/:id/complete", lenient(), deps.Shares.Complete)
	api.POST("/shares/:id/token", lenient(), middleware.RateLimit(deps.TokenRateLimit), deps.Shares.Token)
	api.GET("/shares/:id", lenient(), deps.Shares.Get)
	api.GET("/shares/:id/files/:file_id", lenient(), deps.Shares.GetFile)
	api.GET("/reverse-shares/:token/check", deps.ReverseShares.Check)

	authGroup := api.Group("")
	authGroup.Use(middleware.RequireAuth())
	authGroup.GET("/me/shares", deps.Shares.ListMine)
	authGroup.PUT("/shares/:id", deps.Shares.Update)
	authGroup.DELETE("/shares/:id", deps.Shares.Remove)
	authGroup.POST("/reverse-shares", deps.ReverseShares.Create)
	authGroup.GET("/reverse-shares", deps.ReverseShares.List)
	authGroup.DELETE("/reverse-shares/:id", deps.ReverseShares.Delete)
}

// createShareGuard applies the unauthenticated share policy to direct
// creation. Uploads through a reverse share are authorized by its token.
func createShareGuard(allow bool) gin.HandlerFunc {
	fallback := middleware.FallbackAuth(allow)
	return func(c *gin.Context) {
		if c.GetHeader(ReverseShareTokenHeader) != "" {
			c.Next()
			return
		}
		fallback(c)
	}
}

// lenient admits every caller; a failed strict check reads as anonymous and
// the share's own policy decides.
func lenient() gin.HandlerFunc {
	return middleware.FallbackAuth(true)
}
