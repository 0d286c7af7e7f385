package voice

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("voice session not found")
	ErrBookingNotFound = errors.New("voice booking not found")
)

// Store is the persistence boundary of the reconciliation pipeline.
// Everything a webhook writes goes through a single WithinTx call.
type Store interface {
	// CallExists is the idempotency guard, checked before any external fetch.
	CallExists(ctx context.Context, conversationID string) (bool, error)
	// WithinTx runs fn in one transaction. Returning an error rolls back every write.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the reads and writes performed inside a reconciliation.
// Lookups return (nil, nil) when nothing matches.
type Tx interface {
	FindSessionByID(ctx context.Context, id string) (*SessionRecord, error)
	FindSessionByConversationID(ctx context.Context, conversationID string) (*SessionRecord, error)
	UpdateSession(ctx context.Context, update SessionUpdate) error

	GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error)
	FindCustomerByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*Customer, error)
	FindLatestCustomerByPhone(ctx context.Context, phone string) (*Customer, error)
	CreateCustomer(ctx context.Context, customer Customer) error
	UpdateCustomer(ctx context.Context, id uuid.UUID, name, phone string) error

	// EnsureConversation inserts the conversation row or, when another writer
	// got there first, returns the id of that writer's row.
	EnsureConversation(ctx context.Context, rec ConversationRecord) (uuid.UUID, error)
	// InsertCall reports false when a call for the conversation already exists.
	InsertCall(ctx context.Context, rec CallRecord) (bool, error)
	SetConversationRecording(ctx context.Context, conversationID, url string) error

	FindBookingBySession(ctx context.Context, sessionID string) (*Booking, error)
	CreateBooking(ctx context.Context, booking Booking) error
	FindTicketBySession(ctx context.Context, sessionID string) (*Ticket, error)
	CreateTicket(ctx context.Context, ticket Ticket) error
}
