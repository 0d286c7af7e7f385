package http

import (
	"voicecrm_backend/platform/config"

	"github.com/gin-gonic/gin"
)

// Module is a bounded context that mounts its own routes.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext is what the router hands to each module.
type RouterContext struct {
	Engine *gin.Engine
	// V1 is the unauthenticated /api/v1 group used by provider callbacks.
	V1 *gin.RouterGroup
	// Protected is the operator group under /api/v1. It requires a bearer
	// token when a JWT secret is configured.
	Protected *gin.RouterGroup
	Config    config.JWTConfig
	// AuthMiddleware is nil when operator auth is disabled.
	AuthMiddleware gin.HandlerFunc
}
