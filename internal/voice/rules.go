package voice

import (
	"strings"
	"time"
)

const (
	IntentBookAppointment = "book_appointment"
	IntentRaiseTicket     = "raise_ticket"

	// DefaultProject is used for bookings when the caller named no project.
	DefaultProject = "General Inquiry"
	// TicketCategory is the fixed category for tickets raised by calls.
	TicketCategory = "voice_support"

	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"

	defaultBookingHour = 10
	fallbackIssue      = "Voice call follow-up"
)

// ActionKind is the business outcome selected for a call.
type ActionKind string

const (
	ActionNone    ActionKind = "none"
	ActionBooking ActionKind = "booking"
	ActionTicket  ActionKind = "ticket"
)

// RouteIntent picks the business action for a call. Calls with an
// unrecognized intent are routed by the fields the caller supplied.
func RouteIntent(d CallDetails) ActionKind {
	switch d.Intent {
	case IntentBookAppointment:
		return ActionBooking
	case IntentRaiseTicket:
		return ActionTicket
	}
	if d.Issue != "" {
		return ActionTicket
	}
	if d.PreferredDateTime != "" {
		return ActionBooking
	}
	return ActionNone
}

// TicketPriority maps free-form urgency wording onto the ticket scale.
func TicketPriority(raw string) string {
	p := strings.ToLower(raw)
	switch {
	case strings.Contains(p, "high"), strings.Contains(p, "urgent"):
		return PriorityHigh
	case strings.Contains(p, "low"):
		return PriorityLow
	default:
		return PriorityMedium
	}
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ResolveBookingTime parses the caller's preferred slot. A full timestamp is
// used as given, a bare date is booked at 10:00 in loc, and anything else
// falls back to 10:00 tomorrow. The bool reports that the fallback was used.
func ResolveBookingTime(raw string, now time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	value := strings.TrimSpace(raw)

	if value != "" {
		for _, layout := range dateTimeLayouts {
			if t, err := time.ParseInLocation(layout, value, loc); err == nil {
				return t, false
			}
		}
		if d, err := time.ParseInLocation("2006-01-02", value, loc); err == nil {
			return time.Date(d.Year(), d.Month(), d.Day(), defaultBookingHour, 0, 0, 0, loc), false
		}
	}

	local := now.In(loc)
	next := local.AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(), defaultBookingHour, 0, 0, 0, loc), true
}

// BookingProject returns the project, defaulting when absent.
func BookingProject(d CallDetails) string {
	if p := strings.TrimSpace(d.Project); p != "" {
		return p
	}
	return DefaultProject
}

// TicketIssue returns the issue text, falling back to the call summary.
func TicketIssue(d CallDetails, sessionSummary string) string {
	if d.Issue != "" {
		return d.Issue
	}
	if d.Summary != "" {
		return d.Summary
	}
	if sessionSummary != "" {
		return sessionSummary
	}
	return fallbackIssue
}
