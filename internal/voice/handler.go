package voice

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"voicecrm_backend/platform/apperr"
	"voicecrm_backend/platform/httpkit"
	"voicecrm_backend/platform/logger"
	"voicecrm_backend/platform/metrics"
	"voicecrm_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

// MaxWebhookBodyBytes caps post-call webhook bodies.
const MaxWebhookBodyBytes int64 = 1 << 20

const (
	errInvalidRequest = "invalid request body"
	errValidation     = "validation error"
)

// PostCallProcessor runs the reconciliation pipeline.
type PostCallProcessor interface {
	ProcessPostCall(ctx context.Context, payload Fields) (Result, error)
}

// Handler handles voice HTTP requests.
type Handler struct {
	processor PostCallProcessor
	sessions  *SessionService
	verifier  *SignatureVerifier
	enforce   bool
	val       *validator.Validator
	log       *logger.Logger
}

// NewHandler creates a voice handler. A nil verifier disables signature checks.
func NewHandler(processor PostCallProcessor, sessions *SessionService, verifier *SignatureVerifier, enforce bool, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{
		processor: processor,
		sessions:  sessions,
		verifier:  verifier,
		enforce:   enforce,
		val:       val,
		log:       log,
	}
}

// HandlePostCall reconciles a finished call.
// POST /api/v1/webhook/voice/post-call
func (h *Handler) HandlePostCall(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpkit.Error(c, http.StatusRequestEntityTooLarge, "payload too large", nil)
			return
		}
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, nil)
		return
	}

	if !h.checkSignature(c, body) {
		return
	}

	payload, err := DecodeFields(body)
	if err != nil {
		metrics.WebhookOutcomes.WithLabelValues(string(StatusError), ResultNone).Inc()
		c.JSON(http.StatusBadRequest, Result{Status: StatusError, Error: "invalid JSON payload"})
		return
	}

	result, err := h.processor.ProcessPostCall(c.Request.Context(), payload)
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// checkSignature reports whether processing may continue. In soft mode a bad
// signature is logged and counted but the delivery is still accepted.
func (h *Handler) checkSignature(c *gin.Context, body []byte) bool {
	if h.verifier == nil {
		return true
	}
	err := h.verifier.Verify(c.GetHeader(SignatureHeader), body)
	if err == nil {
		return true
	}

	metrics.SignatureFailures.WithLabelValues(signatureReason(err), strconv.FormatBool(h.enforce)).Inc()
	h.log.Warn("webhook: signature verification failed",
		"error", err,
		"enforced", h.enforce,
		"clientIp", c.ClientIP(),
	)
	if !h.enforce {
		return true
	}
	httpkit.HandleError(c, apperr.Unauthorized("invalid signature"))
	return false
}

func signatureReason(err error) string {
	switch {
	case errors.Is(err, ErrSignatureMissing):
		return "missing"
	case errors.Is(err, ErrSignatureMalformed):
		return "malformed"
	case errors.Is(err, ErrSignatureExpired):
		return "expired"
	case errors.Is(err, ErrSignatureMismatch):
		return "mismatch"
	case errors.Is(err, ErrSignatureNoSecret):
		return "no_secret"
	default:
		return "unknown"
	}
}

// HandleStartSession opens a session ahead of an outbound or widget call.
// POST /api/v1/voice/sessions
func (h *Handler) HandleStartSession(c *gin.Context) {
	var req StartSessionRequest
	if !h.bindAndValidate(c, &req) {
		return
	}
	if !httpkit.CanAccessTenant(c, req.TenantID) {
		httpkit.HandleError(c, apperr.Forbidden("tenant not accessible"))
		return
	}

	session, err := h.sessions.StartSession(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	c.JSON(http.StatusCreated, session)
}

// HandleGetSession returns one session.
// GET /api/v1/voice/sessions/:id
func (h *Handler) HandleGetSession(c *gin.Context) {
	session, err := h.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	if !httpkit.CanAccessTenant(c, session.TenantID) {
		httpkit.Error(c, http.StatusNotFound, "session not found", nil)
		return
	}
	httpkit.OK(c, session)
}

func (h *Handler) bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, validator.FieldErrors(err))
		return false
	}
	return true
}
