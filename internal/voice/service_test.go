package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voicecrm_backend/internal/events"
	"voicecrm_backend/platform/apperr"
	"voicecrm_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tenantA       = uuid.MustParse("6f1c7a52-0c4e-4d8b-9a57-0d5f0b1b7a01")
	tenantB       = uuid.MustParse("b2c1e7a4-5d3f-4e6a-8b9c-1a2b3c4d5e6f")
	defaultTenant = uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
	fixedNow      = time.Date(2025, 12, 15, 12, 0, 0, 0, time.UTC)
)

type fakeFetcher struct {
	mu      sync.Mutex
	details map[string]map[string]any
	err     error
	calls   int
}

func (f *fakeFetcher) GetConversation(_ context.Context, id string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	detail, ok := f.details[id]
	if !ok {
		return nil, apperr.Upstream("conversation not found at provider", nil)
	}
	return detail, nil
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, string) (func(), bool, error) {
	return func() {}, false, nil
}

type brokenLocker struct{}

func (brokenLocker) Acquire(context.Context, string) (func(), bool, error) {
	return func() {}, false, errors.New("redis down")
}

type pipelineHarness struct {
	store   *memStore
	fetcher *fakeFetcher
	bus     *events.InMemoryBus
	service *Service
}

func newHarness(t *testing.T) *pipelineHarness {
	t.Helper()
	log := logger.New("test")
	store := newMemStore()
	fetcher := &fakeFetcher{details: map[string]map[string]any{}}
	bus := events.NewInMemoryBus(log)

	svc := NewService(store, fetcher, NewExtractor(nil), nil, bus, defaultTenant, time.UTC, log)
	svc.now = func() time.Time { return fixedNow }

	return &pipelineHarness{store: store, fetcher: fetcher, bus: bus, service: svc}
}

// detail builds a provider conversation in the provider's data-collection shape.
func detail(reference string, results map[string]any) map[string]any {
	wrapped := map[string]any{}
	for k, v := range results {
		wrapped[k] = map[string]any{"value": v, "rationale": "collected during call"}
	}
	d := map[string]any{
		"analysis": map[string]any{
			"transcript_summary":      "Caller asked about a unit.",
			"data_collection_results": wrapped,
		},
		"transcript": []any{
			map[string]any{"role": "user", "message": "I want a visit", "time_in_call_secs": 4},
			map[string]any{"role": "agent", "message": "Hello", "time_in_call_secs": 0},
		},
	}
	if reference != "" {
		d["user_id"] = reference
	}
	return d
}

func webhook(conversationID string) Fields {
	return Fields{"type": "post_call_transcription", "data": map[string]any{"conversation_id": conversationID}}
}

func TestProcessPostCallBooksAppointmentForKnownSession(t *testing.T) {
	h := newHarness(t)
	h.store.seedSession(SessionRecord{ID: "vs_abc", TenantID: tenantA})
	h.fetcher.details["conv_1"] = detail("vs_abc", map[string]any{
		"phone":              "01154688628",
		"customer_name":      "Omar Hassan",
		"extracted_intent":   "book_appointment",
		"preferred_datetime": "2025-12-16T14:00:00+00:00",
		"project":            "سقيفة 28",
	})

	res, err := h.service.ProcessPostCall(context.Background(), webhook("conv_1"))
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "vs_abc", res.SessionID)
	assert.False(t, res.Ghost)
	assert.False(t, res.DateFallback)
	assert.Equal(t, ResultBookingCreated, res.Action)
	assert.Equal(t, 2, res.TranscriptCount)
	require.NotNil(t, res.TenantID)
	assert.Equal(t, tenantA, *res.TenantID)

	state := h.store.state
	session := state.sessions["vs_abc"]
	assert.Equal(t, SessionCompleted, session.Status)
	require.NotNil(t, session.ConversationID)
	assert.Equal(t, "conv_1", *session.ConversationID)
	require.NotNil(t, session.CustomerID)

	customer := state.customers[*session.CustomerID]
	assert.Equal(t, "+201154688628", customer.Phone)
	assert.Equal(t, "Omar Hassan", customer.Name)
	assert.Equal(t, tenantA, customer.TenantID)

	require.Len(t, state.bookings, 1)
	booking := state.bookings[0]
	assert.Equal(t, "سقيفة 28", booking.Project)
	assert.True(t, booking.StartTime.Equal(time.Date(2025, 12, 16, 14, 0, 0, 0, time.UTC)))
	assert.Equal(t, "vs_abc", booking.SessionID)
	assert.Equal(t, *res.BookingID, booking.ID)

	require.Contains(t, state.calls, "conv_1")
	conv := state.conversations["conv_1"]
	require.Len(t, conv.Transcript, 2)
	assert.Equal(t, "agent", conv.Transcript[0].Role)
}

func TestProcessPostCallIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.store.seedSession(SessionRecord{ID: "vs_abc", TenantID: tenantA})
	h.fetcher.details["conv_1"] = detail("vs_abc", map[string]any{
		"phone":              "01154688628",
		"extracted_intent":   "book_appointment",
		"preferred_datetime": "2025-12-16",
	})

	first, err := h.service.ProcessPostCall(context.Background(), webhook("conv_1"))
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, first.Status)

	second, err := h.service.ProcessPostCall(context.Background(), webhook("conv_1"))
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyProcessed, second.Status)
	assert.Equal(t, "conv_1", second.ConversationID)

	assert.Equal(t, 1, h.fetcher.calls)
	assert.Len(t, h.store.state.bookings, 1)
	assert.Len(t, h.store.state.calls, 1)
	assert.Len(t, h.store.state.customers, 1)
}

func TestProcessPostCallWithoutConversationIDWritesNothing(t *testing.T) {
	h := newHarness(t)

	res, err := h.service.ProcessPostCall(context.Background(), Fields{"type": "post_call_transcription", "data": map[string]any{}})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, StatusError, res.Status)

	assert.Zero(t, h.store.ops)
	assert.Zero(t, h.fetcher.calls)
}

func TestProcessPostCallGhostRecoversCustomerTenant(t *testing.T) {
	h := newHarness(t)
	existing := h.store.seedCustomer(Customer{TenantID: tenantB, Name: PlaceholderCustomerName, Phone: "+201154688628"})
	h.fetcher.details["conv_2"] = detail("", map[string]any{
		"phone":         "01154688628",
		"customer_name": "Mona",
	})

	res, err := h.service.ProcessPostCall(context.Background(), webhook("conv_2"))
	require.NoError(t, err)

	assert.True(t, res.Ghost)
	assert.Equal(t, "ghost_conv_2", res.SessionID)
	assert.Equal(t, tenantB, *res.TenantID)
	assert.Equal(t, existing.ID, *res.CustomerID)
	assert.Equal(t, ResultNone, res.Action)

	state := h.store.state
	assert.Empty(t, state.sessions)
	assert.Len(t, state.customers, 1)
	assert.Equal(t, "Mona", state.customers[existing.ID].Name)
	assert.Equal(t, "ghost_conv_2", state.calls["conv_2"].SessionID)
	assert.Equal(t, tenantB, state.calls["conv_2"].TenantID)
}

func TestProcessPostCallGhostUsesClientReference(t *testing.T) {
	h := newHarness(t)
	h.fetcher.details["conv_3"] = detail("vs_unknown", map[string]any{
		"extracted_intent": "raise_ticket",
		"issue":            "Water leak in the kitchen",
		"priority":         "urgent",
	})

	res, err := h.service.ProcessPostCall(context.Background(), webhook("conv_3"))
	require.NoError(t, err)

	assert.True(t, res.Ghost)
	assert.Equal(t, "vs_unknown", res.SessionID)
	assert.Equal(t, defaultTenant, *res.TenantID)
	assert.Equal(t, ResultTicketCreated, res.Action)

	state := h.store.state
	require.Len(t, state.customers, 1)
	for _, c := range state.customers {
		assert.Equal(t, PlaceholderCustomerName, c.Name)
		assert.Equal(t, defaultTenant, c.TenantID)
	}
	require.Len(t, state.tickets, 1)
	assert.Equal(t, "vs_unknown", state.tickets[0].SessionID)
	assert.Equal(t, PriorityHigh, state.tickets[0].Priority)
	assert.Equal(t, TicketCategory, state.tickets[0].Category)
	assert.Equal(t, "Water leak in the kitchen", state.tickets[0].Issue)
}

func TestProcessPostCallNumericReferenceIsTreatedAsPhone(t *testing.T) {
	h := newHarness(t)
	h.fetcher.details["conv_4"] = detail("01154688628", map[string]any{})

	res, err := h.service.ProcessPostCall(context.Background(), webhook("conv_4"))
	require.NoError(t, err)

	assert.Equal(t, "ghost_conv_4", res.SessionID)
	customer := h.store.state.customers[*res.CustomerID]
	assert.Equal(t, "+201154688628", customer.Phone)
}

func TestProcessPostCallRoutesUnknownIntentByFields(t *testing.T) {
	tests := []struct {
		name    string
		results map[string]any
		action  string
	}{
		{
			name:    "issue raises ticket",
			results: map[string]any{"issue": "Door handle broken"},
			action:  ResultTicketCreated,
		},
		{
			name:    "datetime books appointment",
			results: map[string]any{"preferred_datetime": "2025-12-20 11:30"},
			action:  ResultBookingCreated,
		},
		{
			name:    "nothing actionable",
			results: map[string]any{"customer_name": "Ali"},
			action:  ResultNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.store.seedSession(SessionRecord{ID: "vs_route", TenantID: tenantA})
			h.fetcher.details["conv_r"] = detail("vs_route", tt.results)

			res, err := h.service.ProcessPostCall(context.Background(), webhook("conv_r"))
			require.NoError(t, err)
			assert.Equal(t, tt.action, res.Action)
		})
	}
}

func TestProcessPostCallAppliesDateFallback(t *testing.T) {
	h := newHarness(t)
	h.store.seedSession(SessionRecord{ID: "vs_fb", TenantID: tenantA})
	h.fetcher.details["conv_fb"] = detail("vs_fb", map[string]any{
		"extracted_intent":   "book_appointment",
		"preferred_datetime": "sometime next week",
	})

	res, err := h.service.ProcessPostCall(context.Background(), webhook("conv_fb"))
	require.NoError(t, err)

	assert.True(t, res.DateFallback)
	require.Len(t, h.store.state.bookings, 1)
	booking := h.store.state.bookings[0]
	assert.True(t, booking.DateFallback)
	assert.True(t, booking.StartTime.Equal(time.Date(2025, 12, 16, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, DefaultProject, booking.Project)
}

func TestProcessPostCallReusesExistingBooking(t *testing.T) {
	h := newHarness(t)
	h.store.seedSession(SessionRecord{ID: "vs_dup", TenantID: tenantA})
	existing := Booking{ID: uuid.New(), TenantID: tenantA, SessionID: "vs_dup", Status: "scheduled"}
	h.store.state.bookings = append(h.store.state.bookings, existing)
	h.fetcher.details["conv_dup"] = detail("vs_dup", map[string]any{
		"extracted_intent":   "book_appointment",
		"preferred_datetime": "2025-12-18T09:00:00Z",
	})

	res, err := h.service.ProcessPostCall(context.Background(), webhook("conv_dup"))
	require.NoError(t, err)

	assert.Equal(t, ResultBookingExists, res.Action)
	assert.Equal(t, existing.ID, *res.BookingID)
	assert.Len(t, h.store.state.bookings, 1)
}

func TestProcessPostCallRollsBackOnActionFailure(t *testing.T) {
	h := newHarness(t)
	h.store.seedSession(SessionRecord{ID: "vs_rb", TenantID: tenantA})
	h.store.failOn = "CreateBooking"
	h.fetcher.details["conv_rb"] = detail("vs_rb", map[string]any{
		"phone":              "01154688628",
		"extracted_intent":   "book_appointment",
		"preferred_datetime": "2025-12-16T14:00:00+00:00",
	})

	res, err := h.service.ProcessPostCall(context.Background(), webhook("conv_rb"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	assert.Equal(t, StatusError, res.Status)

	state := h.store.state
	assert.Empty(t, state.customers)
	assert.Empty(t, state.calls)
	assert.Empty(t, state.conversations)
	assert.Equal(t, SessionActive, state.sessions["vs_rb"].Status)
	assert.Nil(t, state.sessions["vs_rb"].CustomerID)
	assert.Equal(t, 1, h.store.rollback)

	// A redelivery after the fault clears succeeds.
	h.store.failOn = ""
	res, err = h.service.ProcessPostCall(context.Background(), webhook("conv_rb"))
	require.NoError(t, err)
	assert.Equal(t, ResultBookingCreated, res.Action)
}

func TestProcessPostCallLosesRaceToConcurrentWriter(t *testing.T) {
	h := newHarness(t)
	h.store.seedSession(SessionRecord{ID: "vs_race", TenantID: tenantA})
	h.store.foreignCall = true
	h.fetcher.details["conv_race"] = detail("vs_race", map[string]any{
		"extracted_intent": "raise_ticket",
		"issue":            "Lift broken",
	})

	res, err := h.service.ProcessPostCall(context.Background(), webhook("conv_race"))
	require.NoError(t, err)

	assert.Equal(t, StatusAlreadyProcessed, res.Status)
	assert.Empty(t, h.store.state.tickets)
	assert.Empty(t, h.store.state.customers)
	assert.Equal(t, SessionActive, h.store.state.sessions["vs_race"].Status)
}

func TestProcessPostCallProviderFailure(t *testing.T) {
	h := newHarness(t)
	h.fetcher.err = apperr.Upstream("voice provider timed out", context.DeadlineExceeded)

	res, err := h.service.ProcessPostCall(context.Background(), webhook("conv_down"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
	assert.Equal(t, StatusError, res.Status)
	assert.Zero(t, h.store.commits)
}

func TestProcessPostCallReportsInProgress(t *testing.T) {
	h := newHarness(t)
	h.service.locker = busyLocker{}

	res, err := h.service.ProcessPostCall(context.Background(), webhook("conv_busy"))
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, res.Status)
	assert.Zero(t, h.fetcher.calls)
}

func TestProcessPostCallContinuesWhenLockUnavailable(t *testing.T) {
	h := newHarness(t)
	h.service.locker = brokenLocker{}
	h.fetcher.details["conv_nolock"] = detail("", map[string]any{})

	res, err := h.service.ProcessPostCall(context.Background(), webhook("conv_nolock"))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
}

func TestProcessPostCallBindsExistingTenantCustomer(t *testing.T) {
	h := newHarness(t)
	known := h.store.seedCustomer(Customer{TenantID: tenantA, Name: "Karim", Phone: "+201154688628"})
	h.store.seedCustomer(Customer{TenantID: tenantB, Name: "Other tenant", Phone: "+201154688628"})
	h.store.seedSession(SessionRecord{ID: "vs_bind", TenantID: tenantA})
	h.fetcher.details["conv_bind"] = detail("vs_bind", map[string]any{"phone": "+201154688628"})

	res, err := h.service.ProcessPostCall(context.Background(), webhook("conv_bind"))
	require.NoError(t, err)

	assert.Equal(t, known.ID, *res.CustomerID)
	assert.Len(t, h.store.state.customers, 2)
	assert.Equal(t, "Karim", h.store.state.customers[known.ID].Name)
}

func TestProcessPostCallPublishesEventsAfterCommit(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	var names []string
	record := events.HandlerFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		names = append(names, e.EventName())
		return nil
	})
	h.bus.Subscribe(events.CallReconciled{}.EventName(), record)
	h.bus.Subscribe(events.BookingCreated{}.EventName(), record)

	h.store.seedSession(SessionRecord{ID: "vs_ev", TenantID: tenantA})
	h.fetcher.details["conv_ev"] = detail("vs_ev", map[string]any{
		"extracted_intent":   "book_appointment",
		"preferred_datetime": "2025-12-16T14:00:00Z",
	})

	_, err := h.service.ProcessPostCall(context.Background(), webhook("conv_ev"))
	require.NoError(t, err)
	h.bus.Wait()

	assert.ElementsMatch(t, []string{"voice.call.reconciled", "voice.booking.created"}, names)
}

func TestCallTiming(t *testing.T) {
	h := newHarness(t)
	started := time.Date(2025, 12, 15, 11, 0, 0, 0, time.UTC)
	duration := 95
	sessionStart := time.Date(2025, 12, 15, 10, 0, 0, 0, time.UTC)
	sessionEnd := sessionStart.Add(3 * time.Minute)

	start, end, secs := h.service.callTiming(resolution{details: CallDetails{StartedAt: &started, DurationSecs: &duration}})
	require.NotNil(t, secs)
	assert.Equal(t, started, *start)
	assert.Equal(t, started.Add(95*time.Second), *end)
	assert.Equal(t, 95, *secs)

	start, end, secs = h.service.callTiming(resolution{details: CallDetails{StartedAt: &started}})
	require.NotNil(t, start)
	assert.Equal(t, started, *start)
	assert.Nil(t, end)
	assert.Nil(t, secs)

	// A provider start time without a duration never borrows the processing clock.
	late := fixedNow.Add(-6 * time.Hour)
	start, end, secs = h.service.callTiming(resolution{
		details:      CallDetails{StartedAt: &late},
		sessionStart: &sessionStart,
		sessionEnd:   &sessionEnd,
	})
	assert.Equal(t, late, *start)
	assert.Nil(t, end)
	assert.Nil(t, secs)

	start, _, secs = h.service.callTiming(resolution{sessionStart: &sessionStart, sessionEnd: &sessionEnd})
	assert.Equal(t, sessionStart, *start)
	assert.Equal(t, 180, *secs)

	start, end, secs = h.service.callTiming(resolution{details: CallDetails{DurationSecs: &duration}})
	assert.Equal(t, fixedNow, *end)
	assert.Equal(t, fixedNow.Add(-95*time.Second), *start)
	assert.Equal(t, 95, *secs)

	start, end, secs = h.service.callTiming(resolution{})
	assert.Nil(t, start)
	assert.Nil(t, end)
	assert.Nil(t, secs)
}

func TestProcessPostCallWritesRecordingToConversationAndCall(t *testing.T) {
	h := newHarness(t)
	h.store.seedSession(SessionRecord{ID: "vs_rec", TenantID: tenantA})
	d := detail("vs_rec", map[string]any{"phone": "01154688628"})
	d["metadata"] = map[string]any{
		"recording_url":        "https://x/rec.mp3",
		"start_time_unix_secs": fixedNow.Add(-time.Hour).Unix(),
		"call_duration_secs":   42,
	}
	h.fetcher.details["conv_rec"] = d

	_, err := h.service.ProcessPostCall(context.Background(), webhook("conv_rec"))
	require.NoError(t, err)

	call := h.store.state.calls["conv_rec"]
	assert.Equal(t, "https://x/rec.mp3", call.RecordingURL)
	require.NotNil(t, call.DurationSecs)
	assert.Equal(t, 42, *call.DurationSecs)
	assert.Equal(t, "https://x/rec.mp3", h.store.state.conversations["conv_rec"].RecordingURL)
}

func TestProcessPostCallKeepsFailedSessionFailed(t *testing.T) {
	h := newHarness(t)
	h.store.seedSession(SessionRecord{ID: "vs_failed", TenantID: tenantA, Status: SessionFailed})
	h.fetcher.details["conv_failed"] = detail("vs_failed", map[string]any{
		"phone":            "01154688628",
		"extracted_intent": "raise_ticket",
	})

	res, err := h.service.ProcessPostCall(context.Background(), webhook("conv_failed"))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "vs_failed", res.SessionID)
	assert.False(t, res.Ghost)

	session := h.store.state.sessions["vs_failed"]
	assert.Equal(t, SessionFailed, session.Status)
	require.NotNil(t, session.ConversationID)
	assert.Equal(t, "conv_failed", *session.ConversationID)
	require.Contains(t, h.store.state.calls, "conv_failed")
}
