// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"voicecrm_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Voice Domain Events
// =============================================================================

// CallReconciled is published after a post-call webhook has been committed.
type CallReconciled struct {
	BaseEvent
	ConversationID string    `json:"conversationId"`
	CallID         uuid.UUID `json:"callId"`
	SessionID      string    `json:"sessionId"`
	TenantID       uuid.UUID `json:"tenantId"`
	CustomerID     uuid.UUID `json:"customerId"`
	Intent         string    `json:"intent"`
	Ghost          bool      `json:"ghost"`
	HasRecording   bool      `json:"hasRecording"`
}

func (e CallReconciled) EventName() string { return "voice.call.reconciled" }

// BookingCreated is published when a call produced a new booking.
type BookingCreated struct {
	BaseEvent
	BookingID    uuid.UUID `json:"bookingId"`
	TenantID     uuid.UUID `json:"tenantId"`
	CustomerID   uuid.UUID `json:"customerId"`
	SessionID    string    `json:"sessionId"`
	Project      string    `json:"project"`
	StartTime    time.Time `json:"startTime"`
	DateFallback bool      `json:"dateFallback"`
}

func (e BookingCreated) EventName() string { return "voice.booking.created" }

// TicketCreated is published when a call produced a new support ticket.
type TicketCreated struct {
	BaseEvent
	TicketID   uuid.UUID `json:"ticketId"`
	TenantID   uuid.UUID `json:"tenantId"`
	CustomerID uuid.UUID `json:"customerId"`
	SessionID  string    `json:"sessionId"`
	Priority   string    `json:"priority"`
}

func (e TicketCreated) EventName() string { return "voice.ticket.created" }

// BookingReminderDue is published by the scheduler when a booking reminder fires.
type BookingReminderDue struct {
	BaseEvent
	BookingID     uuid.UUID `json:"bookingId"`
	TenantID      uuid.UUID `json:"tenantId"`
	CustomerID    uuid.UUID `json:"customerId"`
	CustomerName  string    `json:"customerName"`
	CustomerPhone string    `json:"customerPhone"`
	Project       string    `json:"project"`
	StartTime     time.Time `json:"startTime"`
}

func (e BookingReminderDue) EventName() string { return "voice.booking.reminder_due" }

// RecordingArchived is published after a call recording has been copied to object storage.
type RecordingArchived struct {
	BaseEvent
	ConversationID string `json:"conversationId"`
	ObjectKey      string `json:"objectKey"`
}

func (e RecordingArchived) EventName() string { return "voice.recording.archived" }
