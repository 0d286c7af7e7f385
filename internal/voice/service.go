package voice

import (
	"context"
	"errors"
	"time"

	"voicecrm_backend/internal/events"
	"voicecrm_backend/platform/apperr"
	"voicecrm_backend/platform/logger"
	"voicecrm_backend/platform/metrics"

	"github.com/google/uuid"
)

// ConversationFetcher loads conversation detail from the voice provider.
type ConversationFetcher interface {
	GetConversation(ctx context.Context, conversationID string) (map[string]any, error)
}

// Status is the outcome reported to the webhook caller.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusAlreadyProcessed Status = "already_processed"
	StatusInProgress       Status = "in_progress"
	StatusError            Status = "error"
)

// Action values reported in Result.Action.
const (
	ResultBookingCreated = "booking_created"
	ResultBookingExists  = "booking_exists"
	ResultTicketCreated  = "ticket_created"
	ResultTicketExists   = "ticket_exists"
	ResultNone           = "none"
)

// Result is the structured response of one webhook delivery.
type Result struct {
	Status          Status     `json:"status"`
	ConversationID  string     `json:"conversationId,omitempty"`
	SessionID       string     `json:"sessionId,omitempty"`
	TenantID        *uuid.UUID `json:"tenantId,omitempty"`
	CustomerID      *uuid.UUID `json:"customerId,omitempty"`
	CallID          *uuid.UUID `json:"callId,omitempty"`
	Action          string     `json:"action,omitempty"`
	BookingID       *uuid.UUID `json:"bookingId,omitempty"`
	TicketID        *uuid.UUID `json:"ticketId,omitempty"`
	Ghost           bool       `json:"ghost"`
	DateFallback    bool       `json:"dateFallback"`
	TranscriptCount int        `json:"transcriptCount"`
	Error           string     `json:"error,omitempty"`
}

// errCallRecorded aborts the transaction when a concurrent delivery
// committed the call row first.
var errCallRecorded = errors.New("call already recorded")

// Service reconciles post-call webhooks against sessions and customers.
type Service struct {
	store         Store
	fetcher       ConversationFetcher
	extractor     *Extractor
	locker        Locker
	eventBus      events.Bus
	log           *logger.Logger
	defaultTenant uuid.UUID
	loc           *time.Location
	now           func() time.Time
}

// NewService creates the reconciliation service. defaultTenant owns customers
// created for calls that match no session and no known phone.
func NewService(store Store, fetcher ConversationFetcher, extractor *Extractor, locker Locker, eventBus events.Bus, defaultTenant uuid.UUID, loc *time.Location, log *logger.Logger) *Service {
	if locker == nil {
		locker = NoopLocker{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if extractor == nil {
		extractor = NewExtractor(nil)
	}
	return &Service{
		store:         store,
		fetcher:       fetcher,
		extractor:     extractor,
		locker:        locker,
		eventBus:      eventBus,
		log:           log,
		defaultTenant: defaultTenant,
		loc:           loc,
		now:           time.Now,
	}
}

// resolution is the output of the context resolver.
type resolution struct {
	session        Session
	customer       Customer
	details        CallDetails
	sessionSummary string
	sessionStart   *time.Time
	sessionEnd     *time.Time
}

// outcome is the output of the action executor.
type outcome struct {
	callID       uuid.UUID
	action       string
	booking      *Booking
	ticket       *Ticket
	newBooking   bool
	newTicket    bool
	dateFallback bool
}

// ProcessPostCall runs the four pipeline stages for one webhook body.
func (s *Service) ProcessPostCall(ctx context.Context, payload Fields) (Result, error) {
	conversationID := ExtractConversationID(payload)
	if conversationID == "" {
		s.log.Warn("webhook: post-call payload without conversation id")
		return s.finish(Result{Status: StatusError, Error: "missing conversation id"},
			apperr.Validation("missing conversation id"))
	}
	ctx = logger.ContextWithConversationID(ctx, conversationID)
	log := s.log.WithContext(ctx)
	log.WebhookEvent("ingress")

	exists, err := s.store.CallExists(ctx, conversationID)
	if err != nil {
		log.Error("webhook: idempotency check failed", "error", err)
		return s.finish(Result{Status: StatusError, ConversationID: conversationID, Error: "idempotency check failed"},
			apperr.Wrap(apperr.KindInternal, "failed to check call history", err))
	}
	if exists {
		log.WebhookEvent("idempotency_guard", "result", "already_processed")
		return s.finish(Result{Status: StatusAlreadyProcessed, ConversationID: conversationID}, nil)
	}

	release, acquired, err := s.locker.Acquire(ctx, conversationID)
	if err != nil {
		log.Warn("webhook: in-flight lock unavailable, continuing without it", "error", err)
	} else if !acquired {
		log.WebhookEvent("idempotency_guard", "result", "in_progress")
		return s.finish(Result{Status: StatusInProgress, ConversationID: conversationID}, nil)
	}
	defer release()

	raw, err := s.fetcher.GetConversation(ctx, conversationID)
	if err != nil {
		log.Error("webhook: failed to fetch conversation detail", "error", err)
		if !apperr.Is(err, apperr.KindUpstream) {
			err = apperr.Upstream("failed to fetch conversation detail", err)
		}
		return s.finish(Result{Status: StatusError, ConversationID: conversationID, Error: "provider fetch failed"}, err)
	}
	details := s.extractor.Extract(conversationID, Fields(raw))
	log.WebhookEvent("extracted",
		"intent", details.Intent,
		"hasPhone", details.Phone != "",
		"clientReference", details.ClientReference,
		"transcriptEntries", len(details.Transcript),
	)

	var res resolution
	var out outcome
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		res, err = s.resolve(ctx, tx, details)
		if err != nil {
			return err
		}
		out, err = s.execute(ctx, tx, res)
		return err
	})
	if errors.Is(err, errCallRecorded) {
		log.WebhookEvent("action_executor", "result", "already_processed")
		return s.finish(Result{Status: StatusAlreadyProcessed, ConversationID: conversationID}, nil)
	}
	if err != nil {
		log.Error("webhook: reconciliation rolled back", "error", err)
		return s.finish(Result{Status: StatusError, ConversationID: conversationID, Error: "reconciliation failed"},
			apperr.Wrap(apperr.KindInternal, "failed to reconcile call", err))
	}

	result := s.buildResult(res, out)
	s.publish(ctx, res, out)
	if out.dateFallback {
		metrics.DateFallbacks.Inc()
	}
	log.WebhookEvent("committed",
		"sessionId", result.SessionID,
		"ghost", result.Ghost,
		"action", result.Action,
		"dateFallback", result.DateFallback,
	)
	return s.finish(result, nil)
}

func (s *Service) finish(result Result, err error) (Result, error) {
	action := result.Action
	if action == "" {
		action = ResultNone
	}
	metrics.WebhookOutcomes.WithLabelValues(string(result.Status), action).Inc()
	return result, err
}

// =============================================================================
// Context resolver
// =============================================================================

func (s *Service) resolve(ctx context.Context, tx Tx, d CallDetails) (resolution, error) {
	var rec *SessionRecord
	var err error
	if d.ClientReference != "" {
		if rec, err = tx.FindSessionByID(ctx, d.ClientReference); err != nil {
			return resolution{}, err
		}
	}
	if rec == nil {
		if rec, err = tx.FindSessionByConversationID(ctx, d.ConversationID); err != nil {
			return resolution{}, err
		}
	}

	if rec != nil {
		return s.resolvePersisted(ctx, tx, *rec, d)
	}
	return s.resolveGhost(ctx, tx, d)
}

func (s *Service) resolvePersisted(ctx context.Context, tx Tx, rec SessionRecord, d CallDetails) (resolution, error) {
	now := s.now()
	lookupPhone := firstNonEmpty(d.Phone, rec.Phone)

	var customer *Customer
	var err error
	if rec.CustomerID != nil {
		if customer, err = tx.GetCustomer(ctx, *rec.CustomerID); err != nil {
			return resolution{}, err
		}
	}
	if customer == nil && lookupPhone != "" {
		if customer, err = tx.FindCustomerByPhone(ctx, rec.TenantID, lookupPhone); err != nil {
			return resolution{}, err
		}
	}
	if customer == nil {
		created := Customer{ID: uuid.New(), TenantID: rec.TenantID, Name: customerName(d.CustomerName), Phone: lookupPhone, CreatedAt: now}
		if err := tx.CreateCustomer(ctx, created); err != nil {
			return resolution{}, err
		}
		customer = &created
	} else if err := s.improveCustomer(ctx, tx, customer, d.CustomerName, lookupPhone); err != nil {
		return resolution{}, err
	}

	end := now
	if rec.EndedAt != nil {
		end = *rec.EndedAt
	}
	start := rec.CreatedAt

	return resolution{
		session:        PersistedSession{Record: rec},
		customer:       *customer,
		details:        d,
		sessionSummary: firstNonEmpty(d.Summary, rec.Summary),
		sessionStart:   &start,
		sessionEnd:     &end,
	}, nil
}

func (s *Service) resolveGhost(ctx context.Context, tx Tx, d CallDetails) (resolution, error) {
	now := s.now()
	ghost := GhostSession{
		SessionID: GhostSessionID(d.ClientReference, d.ConversationID),
		Status:    SessionCompleted,
		CreatedAt: now,
	}

	var customer *Customer
	if d.Phone != "" {
		existing, err := tx.FindLatestCustomerByPhone(ctx, d.Phone)
		if err != nil {
			return resolution{}, err
		}
		if existing != nil {
			if err := s.improveCustomer(ctx, tx, existing, d.CustomerName, d.Phone); err != nil {
				return resolution{}, err
			}
			customer = existing
			s.log.Info("webhook: ghost session recovered existing customer",
				"conversationId", d.ConversationID, "customerId", existing.ID, "tenantId", existing.TenantID)
		}
	}
	if customer == nil {
		created := Customer{ID: uuid.New(), TenantID: s.defaultTenant, Name: customerName(d.CustomerName), Phone: d.Phone, CreatedAt: now}
		if err := tx.CreateCustomer(ctx, created); err != nil {
			return resolution{}, err
		}
		customer = &created
		s.log.Info("webhook: ghost session created customer under default tenant",
			"conversationId", d.ConversationID, "customerId", created.ID, "tenantId", created.TenantID)
	}
	ghost.Tenant = customer.TenantID

	return resolution{
		session:        ghost,
		customer:       *customer,
		details:        d,
		sessionSummary: d.Summary,
	}, nil
}

func (s *Service) improveCustomer(ctx context.Context, tx Tx, c *Customer, name, phone string) error {
	newName := ""
	if name != "" && name != c.Name {
		newName = name
	}
	newPhone := ""
	if c.Phone == "" && phone != "" {
		newPhone = phone
	}
	if newName == "" && newPhone == "" {
		return nil
	}
	if err := tx.UpdateCustomer(ctx, c.ID, newName, newPhone); err != nil {
		return err
	}
	if newName != "" {
		c.Name = newName
	}
	if newPhone != "" {
		c.Phone = newPhone
	}
	return nil
}

func customerName(name string) string {
	if name == "" {
		return PlaceholderCustomerName
	}
	return name
}

// =============================================================================
// Action executor
// =============================================================================

func (s *Service) execute(ctx context.Context, tx Tx, res resolution) (outcome, error) {
	d := res.details
	sessionID := res.session.ID()
	tenantID := res.session.TenantID()

	switch session := res.session.(type) {
	case PersistedSession:
		// Only active sessions advance; completed and failed keep their status.
		if err := tx.UpdateSession(ctx, SessionUpdate{
			SessionID:      session.Record.ID,
			CustomerID:     res.customer.ID,
			ConversationID: d.ConversationID,
			Phone:          d.Phone,
			Summary:        d.Summary,
			Intent:         d.Intent,
			EndedAt:        s.now(),
		}); err != nil {
			return outcome{}, err
		}
	case GhostSession:
		s.log.Info("webhook: ghost session not persisted", "conversationId", d.ConversationID, "sessionId", session.SessionID)
	}

	conversationRowID, err := tx.EnsureConversation(ctx, ConversationRecord{
		ID:              uuid.New(),
		TenantID:        tenantID,
		CustomerID:      res.customer.ID,
		SessionID:       sessionID,
		ConversationID:  d.ConversationID,
		Summary:         d.Summary,
		Intent:          d.Intent,
		Transcript:      d.Transcript,
		TranscriptCount: len(d.Transcript),
		RecordingURL:    d.RecordingURL,
	})
	if err != nil {
		return outcome{}, err
	}

	startedAt, endedAt, duration := s.callTiming(res)
	out := outcome{callID: uuid.New(), action: ResultNone}
	created, err := tx.InsertCall(ctx, CallRecord{
		ID:                   out.callID,
		TenantID:             tenantID,
		CustomerID:           res.customer.ID,
		ConversationRecordID: conversationRowID,
		SessionID:            sessionID,
		ConversationID:       d.ConversationID,
		Phone:                firstNonEmpty(d.Phone, res.customer.Phone),
		StartedAt:            startedAt,
		EndedAt:              endedAt,
		DurationSecs:         duration,
		RecordingURL:         d.RecordingURL,
	})
	if err != nil {
		return outcome{}, err
	}
	if !created {
		return outcome{}, errCallRecorded
	}

	switch RouteIntent(d) {
	case ActionBooking:
		if err := s.ensureBooking(ctx, tx, res, &out); err != nil {
			return outcome{}, err
		}
	case ActionTicket:
		if err := s.ensureTicket(ctx, tx, res, &out); err != nil {
			return outcome{}, err
		}
	}

	if d.RecordingURL != "" {
		if err := tx.SetConversationRecording(ctx, d.ConversationID, d.RecordingURL); err != nil {
			return outcome{}, err
		}
	}

	return out, nil
}

func (s *Service) ensureBooking(ctx context.Context, tx Tx, res resolution, out *outcome) error {
	sessionID := res.session.ID()
	existing, err := tx.FindBookingBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if existing != nil {
		out.action = ResultBookingExists
		out.booking = existing
		return nil
	}

	d := res.details
	start, fallback := ResolveBookingTime(d.PreferredDateTime, s.now(), s.loc)
	if fallback {
		s.log.Warn("webhook: booking date fallback applied",
			"marker", "date_fallback",
			"conversationId", d.ConversationID,
			"sessionId", sessionID,
			"rawDatetime", d.PreferredDateTime,
			"scheduledFor", start,
		)
	}

	booking := Booking{
		ID:             uuid.New(),
		TenantID:       res.session.TenantID(),
		CustomerID:     res.customer.ID,
		SessionID:      sessionID,
		ConversationID: d.ConversationID,
		Project:        BookingProject(d),
		StartTime:      start,
		DateFallback:   fallback,
		Status:         "scheduled",
		Notes:          d.Summary,
	}
	if err := tx.CreateBooking(ctx, booking); err != nil {
		return err
	}

	out.action = ResultBookingCreated
	out.booking = &booking
	out.newBooking = true
	out.dateFallback = fallback
	return nil
}

func (s *Service) ensureTicket(ctx context.Context, tx Tx, res resolution, out *outcome) error {
	sessionID := res.session.ID()
	existing, err := tx.FindTicketBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if existing != nil {
		out.action = ResultTicketExists
		out.ticket = existing
		return nil
	}

	d := res.details
	ticket := Ticket{
		ID:             uuid.New(),
		TenantID:       res.session.TenantID(),
		CustomerID:     res.customer.ID,
		SessionID:      sessionID,
		ConversationID: d.ConversationID,
		Issue:          TicketIssue(d, res.sessionSummary),
		Priority:       TicketPriority(d.Priority),
		Category:       TicketCategory,
		Status:         "open",
	}
	if err := tx.CreateTicket(ctx, ticket); err != nil {
		return err
	}

	out.action = ResultTicketCreated
	out.ticket = &ticket
	out.newTicket = true
	return nil
}

// callTiming prefers provider timestamps and falls back to the session's lifetime.
func (s *Service) callTiming(res resolution) (*time.Time, *time.Time, *int) {
	d := res.details

	var start, end time.Time
	switch {
	case d.StartedAt != nil && d.DurationSecs != nil:
		start = *d.StartedAt
		end = start.Add(time.Duration(*d.DurationSecs) * time.Second)
	case d.StartedAt != nil:
		start = *d.StartedAt
		return &start, nil, nil
	case res.sessionStart != nil && res.sessionEnd != nil:
		start, end = *res.sessionStart, *res.sessionEnd
	case d.DurationSecs != nil:
		end = s.now()
		start = end.Add(-time.Duration(*d.DurationSecs) * time.Second)
	default:
		return nil, nil, nil
	}

	if end.Before(start) {
		return &start, nil, nil
	}
	secs := int(end.Sub(start) / time.Second)
	return &start, &end, &secs
}

func (s *Service) buildResult(res resolution, out outcome) Result {
	tenantID := res.session.TenantID()
	customerID := res.customer.ID
	callID := out.callID

	result := Result{
		Status:          StatusSuccess,
		ConversationID:  res.details.ConversationID,
		SessionID:       res.session.ID(),
		TenantID:        &tenantID,
		CustomerID:      &customerID,
		CallID:          &callID,
		Action:          out.action,
		Ghost:           IsGhost(res.session),
		DateFallback:    out.dateFallback,
		TranscriptCount: len(res.details.Transcript),
	}
	if out.booking != nil {
		id := out.booking.ID
		result.BookingID = &id
	}
	if out.ticket != nil {
		id := out.ticket.ID
		result.TicketID = &id
	}
	return result
}

func (s *Service) publish(ctx context.Context, res resolution, out outcome) {
	if s.eventBus == nil {
		return
	}

	s.eventBus.Publish(ctx, events.CallReconciled{
		BaseEvent:      events.NewBaseEvent(),
		ConversationID: res.details.ConversationID,
		CallID:         out.callID,
		SessionID:      res.session.ID(),
		TenantID:       res.session.TenantID(),
		CustomerID:     res.customer.ID,
		Intent:         res.details.Intent,
		Ghost:          IsGhost(res.session),
		HasRecording:   res.details.RecordingURL != "",
	})

	if out.newBooking && out.booking != nil {
		s.eventBus.Publish(ctx, events.BookingCreated{
			BaseEvent:    events.NewBaseEvent(),
			BookingID:    out.booking.ID,
			TenantID:     out.booking.TenantID,
			CustomerID:   out.booking.CustomerID,
			SessionID:    out.booking.SessionID,
			Project:      out.booking.Project,
			StartTime:    out.booking.StartTime,
			DateFallback: out.booking.DateFallback,
		})
	}
	if out.newTicket && out.ticket != nil {
		s.eventBus.Publish(ctx, events.TicketCreated{
			BaseEvent:  events.NewBaseEvent(),
			TicketID:   out.ticket.ID,
			TenantID:   out.ticket.TenantID,
			CustomerID: out.ticket.CustomerID,
			SessionID:  out.ticket.SessionID,
			Priority:   out.ticket.Priority,
		})
	}
}
