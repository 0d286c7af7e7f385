package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// DB is the subset of pgxpool.Pool used by the repository.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides data access for voice sessions and their outcomes.
type Repository struct {
	db DB
}

// NewRepository creates a new voice repository.
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `id, tenant_id, customer_id, conversation_id, phone, status, summary, intent, created_at, ended_at`

func scanSession(row pgx.Row) (*SessionRecord, error) {
	var s SessionRecord
	err := row.Scan(&s.ID, &s.TenantID, &s.CustomerID, &s.ConversationID, &s.Phone,
		&s.Status, &s.Summary, &s.Intent, &s.CreatedAt, &s.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CallExists reports whether a call row exists for the conversation.
func (r *Repository) CallExists(ctx context.Context, conversationID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM voice_calls WHERE conversation_id = $1)`,
		conversationID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check call exists: %w", err)
	}
	return exists, nil
}

// WithinTx runs fn inside a transaction and commits when it returns nil.
func (r *Repository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return r.withPgTx(ctx, func(tx *pgTx) error { return fn(tx) })
}

func (r *Repository) withPgTx(ctx context.Context, fn func(tx *pgTx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CreateSession inserts a new active session.
func (r *Repository) CreateSession(ctx context.Context, s SessionRecord) (SessionRecord, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO voice_sessions (id, tenant_id, customer_id, phone, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+sessionColumns,
		s.ID, s.TenantID, s.CustomerID, s.Phone, SessionActive,
	)
	created, err := scanSession(row)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("create session: %w", err)
	}
	if created == nil {
		return SessionRecord{}, fmt.Errorf("create session: no row returned")
	}
	return *created, nil
}

// GetSession returns a session by id.
func (r *Repository) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	s, err := scanSession(r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM voice_sessions WHERE id = $1`, id))
	if err != nil {
		return SessionRecord{}, fmt.Errorf("get session: %w", err)
	}
	if s == nil {
		return SessionRecord{}, ErrSessionNotFound
	}
	return *s, nil
}

// FindOrCreateCustomer returns the tenant's most recent customer with phone,
// creating one when none exists.
func (r *Repository) FindOrCreateCustomer(ctx context.Context, tenantID uuid.UUID, name, phone string) (Customer, error) {
	var out Customer
	err := r.WithinTx(ctx, func(tx Tx) error {
		existing, err := tx.FindCustomerByPhone(ctx, tenantID, phone)
		if err != nil {
			return err
		}
		if existing != nil {
			out = *existing
			return nil
		}
		out = Customer{ID: uuid.New(), TenantID: tenantID, Name: customerName(name), Phone: phone}
		return tx.CreateCustomer(ctx, out)
	})
	return out, err
}

// GetBookingReminderInfo loads a booking together with its customer contact.
func (r *Repository) GetBookingReminderInfo(ctx context.Context, bookingID uuid.UUID) (BookingReminderInfo, error) {
	var info BookingReminderInfo
	b := &info.Booking
	err := r.db.QueryRow(ctx, `
		SELECT b.id, b.tenant_id, b.customer_id, b.session_id, b.conversation_id, b.project,
			b.start_time, b.date_fallback, b.status, b.notes, c.name, c.phone
		FROM voice_bookings b
		JOIN voice_customers c ON c.id = b.customer_id
		WHERE b.id = $1
	`, bookingID).Scan(&b.ID, &b.TenantID, &b.CustomerID, &b.SessionID, &b.ConversationID, &b.Project,
		&b.StartTime, &b.DateFallback, &b.Status, &b.Notes, &info.CustomerName, &info.CustomerPhone)
	if errors.Is(err, pgx.ErrNoRows) {
		return BookingReminderInfo{}, ErrBookingNotFound
	}
	if err != nil {
		return BookingReminderInfo{}, fmt.Errorf("get booking reminder info: %w", err)
	}
	return info, nil
}

// ClaimPendingArchives marks up to limit calls without a recording as
// requested and returns them. Rows locked by another claimer are skipped.
func (r *Repository) ClaimPendingArchives(ctx context.Context, createdBefore time.Time, limit int) ([]PendingArchive, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE voice_calls SET archive_requested_at = now()
		WHERE id IN (
			SELECT id FROM voice_calls
			WHERE recording_url = '' AND archive_requested_at IS NULL AND created_at < $1
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, conversation_id, tenant_id
	`, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending archives: %w", err)
	}
	defer rows.Close()

	var out []PendingArchive
	for rows.Next() {
		var p PendingArchive
		if err := rows.Scan(&p.CallID, &p.ConversationID, &p.TenantID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetRecordingURL stores the archived recording on both history rows.
func (r *Repository) SetRecordingURL(ctx context.Context, conversationID, url string) error {
	return r.withPgTx(ctx, func(tx *pgTx) error {
		if _, err := tx.tx.Exec(ctx,
			`UPDATE voice_calls SET recording_url = $2 WHERE conversation_id = $1`,
			conversationID, url); err != nil {
			return fmt.Errorf("set call recording: %w", err)
		}
		return tx.SetConversationRecording(ctx, conversationID, url)
	})
}

// ExpireStaleSessions fails active sessions that never received a call.
func (r *Repository) ExpireStaleSessions(ctx context.Context, createdBefore time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE voice_sessions
		SET status = 'failed', ended_at = now()
		WHERE status = 'active' AND conversation_id IS NULL AND created_at < $1
	`, createdBefore)
	if err != nil {
		return 0, fmt.Errorf("expire stale sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// =============================================================================
// Transaction-scoped operations
// =============================================================================

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) FindSessionByID(ctx context.Context, id string) (*SessionRecord, error) {
	s, err := scanSession(t.tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM voice_sessions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("find session by id: %w", err)
	}
	return s, nil
}

func (t *pgTx) FindSessionByConversationID(ctx context.Context, conversationID string) (*SessionRecord, error) {
	s, err := scanSession(t.tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM voice_sessions WHERE conversation_id = $1 FOR UPDATE`, conversationID))
	if err != nil {
		return nil, fmt.Errorf("find session by conversation: %w", err)
	}
	return s, nil
}

func (t *pgTx) UpdateSession(ctx context.Context, u SessionUpdate) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE voice_sessions SET
			customer_id = COALESCE(customer_id, $2),
			conversation_id = COALESCE(conversation_id, NULLIF($3::text, '')),
			phone = CASE WHEN $4::text <> '' THEN $4::text ELSE phone END,
			summary = CASE WHEN $5::text <> '' THEN $5::text ELSE summary END,
			intent = $6,
			status = CASE WHEN status = 'active' THEN 'completed' ELSE status END,
			ended_at = COALESCE(ended_at, $7)
		WHERE id = $1
	`, u.SessionID, u.CustomerID, u.ConversationID, u.Phone, u.Summary, u.Intent, u.EndedAt)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

const customerColumns = `id, tenant_id, name, phone, created_at`

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error) {
	c, err := scanCustomer(t.tx.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM voice_customers WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

func (t *pgTx) FindCustomerByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*Customer, error) {
	c, err := scanCustomer(t.tx.QueryRow(ctx, `
		SELECT `+customerColumns+` FROM voice_customers
		WHERE tenant_id = $1 AND phone = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, tenantID, phone))
	if err != nil {
		return nil, fmt.Errorf("find customer by phone: %w", err)
	}
	return c, nil
}

func (t *pgTx) FindLatestCustomerByPhone(ctx context.Context, phone string) (*Customer, error) {
	c, err := scanCustomer(t.tx.QueryRow(ctx, `
		SELECT `+customerColumns+` FROM voice_customers
		WHERE phone = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, phone))
	if err != nil {
		return nil, fmt.Errorf("find latest customer by phone: %w", err)
	}
	return c, nil
}

func (t *pgTx) CreateCustomer(ctx context.Context, c Customer) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO voice_customers (id, tenant_id, name, phone)
		VALUES ($1, $2, $3, $4)
	`, c.ID, c.TenantID, c.Name, c.Phone)
	if err != nil {
		return fmt.Errorf("create customer: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateCustomer(ctx context.Context, id uuid.UUID, name, phone string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE voice_customers SET
			name = CASE WHEN $2::text <> '' THEN $2::text ELSE name END,
			phone = CASE WHEN phone = '' THEN $3::text ELSE phone END,
			updated_at = now()
		WHERE id = $1
	`, id, name, phone)
	if err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	return nil
}

func (t *pgTx) conversationRowID(ctx context.Context, conversationID string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx,
		`SELECT id FROM voice_conversations WHERE conversation_id = $1`, conversationID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("find conversation: %w", err)
	}
	return id, true, nil
}

func (t *pgTx) EnsureConversation(ctx context.Context, rec ConversationRecord) (uuid.UUID, error) {
	if id, found, err := t.conversationRowID(ctx, rec.ConversationID); err != nil || found {
		return id, err
	}

	transcript := rec.Transcript
	if transcript == nil {
		transcript = []TranscriptEntry{}
	}
	transcriptJSON, err := json.Marshal(transcript)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode transcript: %w", err)
	}

	// Nested Begin opens a savepoint so a unique violation does not abort the outer transaction.
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("open savepoint: %w", err)
	}

	_, err = sp.Exec(ctx, `
		INSERT INTO voice_conversations
			(id, tenant_id, customer_id, session_id, conversation_id, summary, intent, transcript, transcript_count, recording_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.TenantID, rec.CustomerID, rec.SessionID, rec.ConversationID,
		rec.Summary, rec.Intent, transcriptJSON, rec.TranscriptCount, rec.RecordingURL)
	if err != nil {
		_ = sp.Rollback(ctx)
		if isUniqueViolation(err) {
			id, found, lookupErr := t.conversationRowID(ctx, rec.ConversationID)
			if lookupErr != nil {
				return uuid.Nil, lookupErr
			}
			if found {
				return id, nil
			}
		}
		return uuid.Nil, fmt.Errorf("insert conversation: %w", err)
	}

	if err := sp.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("release savepoint: %w", err)
	}
	return rec.ID, nil
}

func (t *pgTx) InsertCall(ctx context.Context, rec CallRecord) (bool, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, `
		INSERT INTO voice_calls
			(id, tenant_id, customer_id, conversation_record_id, session_id, conversation_id,
			 phone, started_at, ended_at, duration_seconds, recording_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (conversation_id) DO NOTHING
		RETURNING id
	`, rec.ID, rec.TenantID, rec.CustomerID, rec.ConversationRecordID, rec.SessionID, rec.ConversationID,
		rec.Phone, rec.StartedAt, rec.EndedAt, rec.DurationSecs, rec.RecordingURL,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert call: %w", err)
	}
	return true, nil
}

func (t *pgTx) SetConversationRecording(ctx context.Context, conversationID, url string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE voice_conversations SET recording_url = $2
		WHERE conversation_id = $1 AND recording_url = ''
	`, conversationID, url)
	if err != nil {
		return fmt.Errorf("set conversation recording: %w", err)
	}
	return nil
}

func (t *pgTx) FindBookingBySession(ctx context.Context, sessionID string) (*Booking, error) {
	var b Booking
	err := t.tx.QueryRow(ctx, `
		SELECT id, tenant_id, customer_id, session_id, conversation_id, project, start_time, date_fallback, status, notes
		FROM voice_bookings
		WHERE session_id = $1
		ORDER BY created_at
		LIMIT 1
	`, sessionID).Scan(&b.ID, &b.TenantID, &b.CustomerID, &b.SessionID, &b.ConversationID,
		&b.Project, &b.StartTime, &b.DateFallback, &b.Status, &b.Notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find booking by session: %w", err)
	}
	return &b, nil
}

func (t *pgTx) CreateBooking(ctx context.Context, b Booking) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO voice_bookings
			(id, tenant_id, customer_id, session_id, conversation_id, project, start_time, date_fallback, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, b.ID, b.TenantID, b.CustomerID, b.SessionID, b.ConversationID,
		b.Project, b.StartTime, b.DateFallback, b.Status, b.Notes)
	if err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

func (t *pgTx) FindTicketBySession(ctx context.Context, sessionID string) (*Ticket, error) {
	var tk Ticket
	err := t.tx.QueryRow(ctx, `
		SELECT id, tenant_id, customer_id, session_id, conversation_id, issue, priority, category, status
		FROM voice_tickets
		WHERE session_id = $1
		ORDER BY created_at
		LIMIT 1
	`, sessionID).Scan(&tk.ID, &tk.TenantID, &tk.CustomerID, &tk.SessionID, &tk.ConversationID,
		&tk.Issue, &tk.Priority, &tk.Category, &tk.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find ticket by session: %w", err)
	}
	return &tk, nil
}

func (t *pgTx) CreateTicket(ctx context.Context, tk Ticket) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO voice_tickets
			(id, tenant_id, customer_id, session_id, conversation_id, issue, priority, category, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, tk.ID, tk.TenantID, tk.CustomerID, tk.SessionID, tk.ConversationID,
		tk.Issue, tk.Priority, tk.Category, tk.Status)
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

var (
	_ Store = (*Repository)(nil)
	_ Tx    = (*pgTx)(nil)
)
