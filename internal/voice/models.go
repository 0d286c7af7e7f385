package voice

import (
	"time"

	"github.com/google/uuid"
)

// Session statuses. A session moves from active to completed when its call
// is reconciled; failed is terminal and set outside the webhook pipeline.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// PlaceholderCustomerName is stored for customers created without a name.
const PlaceholderCustomerName = "Unknown Caller"

const ghostSessionPrefix = "ghost_"

// SessionRecord is a persisted voice session.
type SessionRecord struct {
	ID             string     `json:"id"`
	TenantID       uuid.UUID  `json:"tenantId"`
	CustomerID     *uuid.UUID `json:"customerId,omitempty"`
	ConversationID *string    `json:"conversationId,omitempty"`
	Phone          string     `json:"phone"`
	Status         string     `json:"status"`
	Summary        string     `json:"summary"`
	Intent         string     `json:"intent"`
	CreatedAt      time.Time  `json:"createdAt"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
}

// SessionUpdate carries the fields written to a session on reconciliation.
type SessionUpdate struct {
	SessionID      string
	CustomerID     uuid.UUID
	ConversationID string
	Phone          string
	Summary        string
	Intent         string
	EndedAt        time.Time
}

// Customer is a caller known to a tenant.
type Customer struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenantId"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConversationRecord is the history row for one provider conversation.
type ConversationRecord struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	CustomerID      uuid.UUID
	SessionID       string
	ConversationID  string
	Summary         string
	Intent          string
	Transcript      []TranscriptEntry
	TranscriptCount int
	RecordingURL    string
}

// CallRecord is the call row; its conversation id is the idempotency key.
type CallRecord struct {
	ID                   uuid.UUID
	TenantID             uuid.UUID
	CustomerID           uuid.UUID
	ConversationRecordID uuid.UUID
	SessionID            string
	ConversationID       string
	Phone                string
	StartedAt            *time.Time
	EndedAt              *time.Time
	DurationSecs         *int
	RecordingURL         string
}

// Booking is an appointment requested during a call.
type Booking struct {
	ID             uuid.UUID `json:"id"`
	TenantID       uuid.UUID `json:"tenantId"`
	CustomerID     uuid.UUID `json:"customerId"`
	SessionID      string    `json:"sessionId"`
	ConversationID string    `json:"conversationId"`
	Project        string    `json:"project"`
	StartTime      time.Time `json:"startTime"`
	DateFallback   bool      `json:"dateFallback"`
	Status         string    `json:"status"`
	Notes          string    `json:"notes"`
}

// Ticket is a support request raised during a call.
type Ticket struct {
	ID             uuid.UUID `json:"id"`
	TenantID       uuid.UUID `json:"tenantId"`
	CustomerID     uuid.UUID `json:"customerId"`
	SessionID      string    `json:"sessionId"`
	ConversationID string    `json:"conversationId"`
	Issue          string    `json:"issue"`
	Priority       string    `json:"priority"`
	Category       string    `json:"category"`
	Status         string    `json:"status"`
}

// BookingReminderInfo is what a reminder needs to reach the customer.
type BookingReminderInfo struct {
	Booking       Booking
	CustomerName  string
	CustomerPhone string
}

// PendingArchive identifies a call whose recording has not been archived yet.
type PendingArchive struct {
	CallID         uuid.UUID
	ConversationID string
	TenantID       uuid.UUID
}
