// Package http holds the contracts between the composition root, the router
// and the domain modules.
package http

import (
	"context"

	"voicecrm_backend/internal/events"
	"voicecrm_backend/platform/config"
	"voicecrm_backend/platform/logger"
)

// RouterConfig combines the config interfaces needed by the HTTP router.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// HealthChecker is probed by GET /api/ready.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App is assembled in cmd/api and consumed by router.New.
type App struct {
	Config   RouterConfig
	Logger   *logger.Logger
	Health   []HealthChecker
	EventBus events.Bus
	Modules  []Module
}
