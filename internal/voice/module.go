// Package voice provides the voice call bounded context: sessions opened before
// a call and the post-call webhook that reconciles the call into CRM records.
package voice

import (
	"time"

	"voicecrm_backend/internal/events"
	apphttp "voicecrm_backend/internal/http"
	"voicecrm_backend/platform/config"
	"voicecrm_backend/platform/httpkit"
	"voicecrm_backend/platform/logger"
	"voicecrm_backend/platform/phone"
	"voicecrm_backend/platform/validator"
)

// ModuleConfig combines the settings the voice module reads.
type ModuleConfig interface {
	config.VoiceWebhookConfig
	config.VoiceSchedulingConfig
}

// Module is the voice bounded context module implementing http.Module.
type Module struct {
	handler     *Handler
	service     *Service
	repo        *Repository
	rateLimiter *httpkit.IPRateLimiter
	leadTime    time.Duration
	log         *logger.Logger
}

// NewModule creates and initializes the voice module with all its dependencies.
func NewModule(db DB, fetcher ConversationFetcher, locker Locker, eventBus events.Bus, cfg ModuleConfig, val *validator.Validator, log *logger.Logger) *Module {
	repo := NewRepository(db)
	phones := phone.NewNormalizer(cfg.GetVoiceDefaultRegion())

	service := NewService(repo, fetcher, NewExtractor(phones), locker, eventBus, cfg.GetDefaultTenantID(), cfg.GetVoiceLocation(), log)
	sessions := NewSessionService(repo, phones, log)

	var verifier *SignatureVerifier
	if secret := cfg.GetVoiceWebhookSecret(); secret != "" {
		verifier = NewSignatureVerifier(secret, cfg.GetVoiceWebhookTolerance())
	}
	handler := NewHandler(service, sessions, verifier, cfg.GetVoiceWebhookEnforceSignature(), val, log)

	return &Module{
		handler:     handler,
		service:     service,
		repo:        repo,
		rateLimiter: httpkit.NewWebhookRateLimiter(log),
		leadTime:    cfg.GetVoiceReminderLeadTime(),
		log:         log,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "voice"
}

// Service exposes the reconciliation pipeline.
func (m *Module) Service() *Service {
	return m.service
}

// Repository exposes the voice repository for the scheduler worker.
func (m *Module) Repository() *Repository {
	return m.repo
}

// RegisterHandlers subscribes the module to domain events. A nil scheduler
// leaves booking reminders disabled.
func (m *Module) RegisterHandlers(bus events.Bus, scheduler ReminderScheduler) {
	if scheduler == nil {
		m.log.Warn("voice: reminder scheduler not configured; booking reminders disabled")
		return
	}
	bus.Subscribe(events.BookingCreated{}.EventName(), NewBookingReminderHandler(scheduler, m.leadTime, m.log))
}

// RegisterRoutes mounts voice routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// Provider callback (HMAC signature, no JWT)
	webhookGroup := ctx.V1.Group("/webhook/voice")
	webhookGroup.Use(m.rateLimiter.RateLimit(), httpkit.MaxBodyBytes(MaxWebhookBodyBytes))
	webhookGroup.POST("/post-call", m.handler.HandlePostCall)

	// Operator session routes
	sessions := ctx.Protected.Group("/voice/sessions")
	sessions.POST("", m.handler.HandleStartSession)
	sessions.GET("/:id", m.handler.HandleGetSession)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
