package voice

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memState is the committed state of memStore.
type memState struct {
	sessions      map[string]SessionRecord
	customers     map[uuid.UUID]Customer
	conversations map[string]ConversationRecord
	calls         map[string]CallRecord
	bookings      []Booking
	tickets       []Ticket
}

func newMemState() memState {
	return memState{
		sessions:      map[string]SessionRecord{},
		customers:     map[uuid.UUID]Customer{},
		conversations: map[string]ConversationRecord{},
		calls:         map[string]CallRecord{},
	}
}

func (s memState) clone() memState {
	out := newMemState()
	for k, v := range s.sessions {
		out.sessions[k] = v
	}
	for k, v := range s.customers {
		out.customers[k] = v
	}
	for k, v := range s.conversations {
		out.conversations[k] = v
	}
	for k, v := range s.calls {
		out.calls[k] = v
	}
	out.bookings = append(out.bookings, s.bookings...)
	out.tickets = append(out.tickets, s.tickets...)
	return out
}

// memStore is an in-memory Store. Transactions work on a copy that replaces
// the committed state only when fn returns nil.
type memStore struct {
	mu    sync.Mutex
	state memState
	clock time.Time

	// failOn makes the named Tx method return errInjected.
	failOn string
	// foreignCall makes InsertCall report that another writer recorded the call.
	foreignCall bool

	ops      int
	commits  int
	rollback int
}

var errInjected = errors.New("injected failure")

func newMemStore() *memStore {
	return &memStore{
		state: newMemState(),
		clock: time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) CallExists(_ context.Context, conversationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops++
	_, ok := m.state.calls[conversationID]
	return ok, nil
}

func (m *memStore) WithinTx(_ context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops++

	tx := &memTx{store: m, state: m.state.clone()}
	if err := fn(tx); err != nil {
		m.rollback++
		return err
	}
	m.state = tx.state
	m.commits++
	return nil
}

// seedSession adds a committed session.
func (m *memStore) seedSession(s SessionRecord) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.tick()
	}
	if s.Status == "" {
		s.Status = SessionActive
	}
	m.state.sessions[s.ID] = s
}

// seedCustomer adds a committed customer.
func (m *memStore) seedCustomer(c Customer) Customer {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.tick()
	}
	m.state.customers[c.ID] = c
	return c
}

func (m *memStore) customersByPhone(phone string) []Customer {
	var out []Customer
	for _, c := range m.state.customers {
		if c.Phone == phone {
			out = append(out, c)
		}
	}
	return out
}

type memTx struct {
	store *memStore
	state memState
}

func (t *memTx) fail(method string) error {
	if t.store.failOn == method {
		return errInjected
	}
	return nil
}

func (t *memTx) FindSessionByID(_ context.Context, id string) (*SessionRecord, error) {
	if err := t.fail("FindSessionByID"); err != nil {
		return nil, err
	}
	s, ok := t.state.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (t *memTx) FindSessionByConversationID(_ context.Context, conversationID string) (*SessionRecord, error) {
	for _, s := range t.state.sessions {
		if s.ConversationID != nil && *s.ConversationID == conversationID {
			found := s
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memTx) UpdateSession(_ context.Context, u SessionUpdate) error {
	if err := t.fail("UpdateSession"); err != nil {
		return err
	}
	s, ok := t.state.sessions[u.SessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.CustomerID == nil {
		id := u.CustomerID
		s.CustomerID = &id
	}
	if s.ConversationID == nil && u.ConversationID != "" {
		conv := u.ConversationID
		s.ConversationID = &conv
	}
	if u.Phone != "" {
		s.Phone = u.Phone
	}
	if u.Summary != "" {
		s.Summary = u.Summary
	}
	s.Intent = u.Intent
	if s.Status == SessionActive {
		s.Status = SessionCompleted
	}
	if s.EndedAt == nil {
		ended := u.EndedAt
		s.EndedAt = &ended
	}
	t.state.sessions[s.ID] = s
	return nil
}

func (t *memTx) GetCustomer(_ context.Context, id uuid.UUID) (*Customer, error) {
	c, ok := t.state.customers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (t *memTx) latest(match func(Customer) bool) *Customer {
	var found []Customer
	for _, c := range t.state.customers {
		if match(c) {
			found = append(found, c)
		}
	}
	if len(found) == 0 {
		return nil
	}
	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.After(found[j].CreatedAt) })
	return &found[0]
}

func (t *memTx) FindCustomerByPhone(_ context.Context, tenantID uuid.UUID, phone string) (*Customer, error) {
	return t.latest(func(c Customer) bool { return c.TenantID == tenantID && c.Phone == phone }), nil
}

func (t *memTx) FindLatestCustomerByPhone(_ context.Context, phone string) (*Customer, error) {
	return t.latest(func(c Customer) bool { return c.Phone == phone }), nil
}

func (t *memTx) CreateCustomer(_ context.Context, c Customer) error {
	if err := t.fail("CreateCustomer"); err != nil {
		return err
	}
	c.CreatedAt = t.store.tick()
	t.state.customers[c.ID] = c
	return nil
}

func (t *memTx) UpdateCustomer(_ context.Context, id uuid.UUID, name, phone string) error {
	c, ok := t.state.customers[id]
	if !ok {
		return errors.New("customer not found")
	}
	if name != "" {
		c.Name = name
	}
	if c.Phone == "" {
		c.Phone = phone
	}
	t.state.customers[id] = c
	return nil
}

func (t *memTx) EnsureConversation(_ context.Context, rec ConversationRecord) (uuid.UUID, error) {
	if err := t.fail("EnsureConversation"); err != nil {
		return uuid.Nil, err
	}
	if existing, ok := t.state.conversations[rec.ConversationID]; ok {
		return existing.ID, nil
	}
	t.state.conversations[rec.ConversationID] = rec
	return rec.ID, nil
}

func (t *memTx) InsertCall(_ context.Context, rec CallRecord) (bool, error) {
	if err := t.fail("InsertCall"); err != nil {
		return false, err
	}
	if t.store.foreignCall {
		return false, nil
	}
	if _, ok := t.state.calls[rec.ConversationID]; ok {
		return false, nil
	}
	t.state.calls[rec.ConversationID] = rec
	return true, nil
}

func (t *memTx) SetConversationRecording(_ context.Context, conversationID, url string) error {
	rec, ok := t.state.conversations[conversationID]
	if ok && rec.RecordingURL == "" {
		rec.RecordingURL = url
		t.state.conversations[conversationID] = rec
	}
	return nil
}

func (t *memTx) FindBookingBySession(_ context.Context, sessionID string) (*Booking, error) {
	for _, b := range t.state.bookings {
		if b.SessionID == sessionID {
			found := b
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateBooking(_ context.Context, b Booking) error {
	if err := t.fail("CreateBooking"); err != nil {
		return err
	}
	t.state.bookings = append(t.state.bookings, b)
	return nil
}

func (t *memTx) FindTicketBySession(_ context.Context, sessionID string) (*Ticket, error) {
	for _, tk := range t.state.tickets {
		if tk.SessionID == sessionID {
			found := tk
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateTicket(_ context.Context, tk Ticket) error {
	if err := t.fail("CreateTicket"); err != nil {
		return err
	}
	t.state.tickets = append(t.state.tickets, tk)
	return nil
}

var (
	_ Store = (*memStore)(nil)
	_ Tx    = (*memTx)(nil)
)
