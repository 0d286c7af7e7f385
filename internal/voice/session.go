package voice

import (
	"time"

	"github.com/google/uuid"
)

// Session is either a persisted session or an ephemeral ghost synthesized
// for a call that arrived without a known session.
type Session interface {
	ID() string
	TenantID() uuid.UUID
	isSession()
}

// PersistedSession wraps a row of the sessions table.
type PersistedSession struct {
	Record SessionRecord
}

func (s PersistedSession) ID() string          { return s.Record.ID }
func (s PersistedSession) TenantID() uuid.UUID { return s.Record.TenantID }
func (PersistedSession) isSession()            {}

// GhostSession is never written to the sessions table. Rows derived from it
// (customer, history, booking, ticket) carry its id as their session id.
type GhostSession struct {
	SessionID string
	Tenant    uuid.UUID
	Status    string
	CreatedAt time.Time
}

func (s GhostSession) ID() string          { return s.SessionID }
func (s GhostSession) TenantID() uuid.UUID { return s.Tenant }
func (GhostSession) isSession()            {}

// IsGhost reports whether s is ephemeral.
func IsGhost(s Session) bool {
	_, ok := s.(GhostSession)
	return ok
}

// GhostSessionID derives a ghost id, preferring the client reference.
func GhostSessionID(clientReference, conversationID string) string {
	if clientReference != "" {
		return clientReference
	}
	return ghostSessionPrefix + conversationID
}
