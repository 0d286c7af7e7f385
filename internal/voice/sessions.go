package voice

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"voicecrm_backend/platform/apperr"
	"voicecrm_backend/platform/logger"
	"voicecrm_backend/platform/phone"

	"github.com/google/uuid"
)

const sessionIDPrefix = "vs_"

// SessionRepository is what the session service needs from storage.
type SessionRepository interface {
	CreateSession(ctx context.Context, s SessionRecord) (SessionRecord, error)
	GetSession(ctx context.Context, id string) (SessionRecord, error)
	FindOrCreateCustomer(ctx context.Context, tenantID uuid.UUID, name, phone string) (Customer, error)
}

// StartSessionRequest opens a session before the call is placed. The returned
// id is handed to the provider as the client reference.
type StartSessionRequest struct {
	TenantID     uuid.UUID `json:"tenantId" validate:"required"`
	Phone        string    `json:"phone" validate:"omitempty,max=32"`
	CustomerName string    `json:"customerName" validate:"omitempty,max=200"`
}

// SessionService creates and reads persisted sessions.
type SessionService struct {
	repo   SessionRepository
	phones *phone.Normalizer
	log    *logger.Logger
}

// NewSessionService creates a session service.
func NewSessionService(repo SessionRepository, phones *phone.Normalizer, log *logger.Logger) *SessionService {
	if phones == nil {
		phones = phone.NewNormalizer(phone.DefaultRegion)
	}
	return &SessionService{repo: repo, phones: phones, log: log}
}

// StartSession creates an active session, binding it to a customer when a phone is known.
func (s *SessionService) StartSession(ctx context.Context, req StartSessionRequest) (SessionRecord, error) {
	if req.TenantID == uuid.Nil {
		return SessionRecord{}, apperr.Validation("tenantId is required")
	}

	id, err := newSessionID()
	if err != nil {
		return SessionRecord{}, apperr.Wrap(apperr.KindInternal, "failed to generate session id", err)
	}

	rec := SessionRecord{
		ID:       id,
		TenantID: req.TenantID,
		Phone:    s.phones.Normalize(req.Phone),
		Status:   SessionActive,
	}
	if rec.Phone != "" {
		customer, err := s.repo.FindOrCreateCustomer(ctx, req.TenantID, req.CustomerName, rec.Phone)
		if err != nil {
			return SessionRecord{}, apperr.Wrap(apperr.KindInternal, "failed to resolve customer", err)
		}
		rec.CustomerID = &customer.ID
	}

	created, err := s.repo.CreateSession(ctx, rec)
	if err != nil {
		return SessionRecord{}, apperr.Wrap(apperr.KindInternal, "failed to create session", err)
	}

	s.log.Info("voice: session started", "sessionId", created.ID, "tenantId", created.TenantID, "bound", created.CustomerID != nil)
	return created, nil
}

// GetSession returns a session by id.
func (s *SessionService) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	rec, err := s.repo.GetSession(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return SessionRecord{}, apperr.NotFound("session not found")
	}
	if err != nil {
		return SessionRecord{}, apperr.Wrap(apperr.KindInternal, "failed to load session", err)
	}
	return rec, nil
}

func newSessionID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return sessionIDPrefix + hex.EncodeToString(buf), nil
}
