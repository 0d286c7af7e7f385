package voice

import (
	"context"
	"fmt"
	"time"

	"voicecrm_backend/internal/events"
	"voicecrm_backend/platform/logger"

	"github.com/google/uuid"
)

// ReminderScheduler enqueues a delayed booking reminder.
type ReminderScheduler interface {
	ScheduleBookingReminder(ctx context.Context, bookingID, tenantID uuid.UUID, runAt time.Time) error
}

// BookingReminderHandler schedules a reminder for every new booking.
type BookingReminderHandler struct {
	scheduler ReminderScheduler
	leadTime  time.Duration
	now       func() time.Time
	log       *logger.Logger
}

// NewBookingReminderHandler creates the BookingCreated subscriber.
func NewBookingReminderHandler(scheduler ReminderScheduler, leadTime time.Duration, log *logger.Logger) *BookingReminderHandler {
	return &BookingReminderHandler{scheduler: scheduler, leadTime: leadTime, now: time.Now, log: log}
}

// Handle implements events.Handler.
func (h *BookingReminderHandler) Handle(ctx context.Context, event events.Event) error {
	e, ok := event.(events.BookingCreated)
	if !ok {
		return nil
	}
	if h.scheduler == nil {
		return nil
	}

	runAt := e.StartTime.Add(-h.leadTime)
	if !runAt.After(h.now()) {
		h.log.Info("voice: booking reminder skipped, start is too close", "bookingId", e.BookingID, "startTime", e.StartTime)
		return nil
	}

	if err := h.scheduler.ScheduleBookingReminder(ctx, e.BookingID, e.TenantID, runAt); err != nil {
		return fmt.Errorf("schedule booking reminder %s: %w", e.BookingID, err)
	}
	h.log.Info("voice: booking reminder scheduled", "bookingId", e.BookingID, "runAt", runAt)
	return nil
}
