package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"

	"voicecrm_backend/internal/adapters/storage"
	"voicecrm_backend/internal/events"
	"voicecrm_backend/internal/voice"
	"voicecrm_backend/platform/config"
	"voicecrm_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// BookingReader loads what a reminder needs.
type BookingReader interface {
	GetBookingReminderInfo(ctx context.Context, bookingID uuid.UUID) (voice.BookingReminderInfo, error)
}

// RecordingWriter stores the archived recording reference.
type RecordingWriter interface {
	SetRecordingURL(ctx context.Context, conversationID, url string) error
}

// AudioFetcher downloads call audio from the voice provider.
type AudioFetcher interface {
	GetConversationAudio(ctx context.Context, conversationID string) (io.ReadCloser, string, int64, error)
}

// ArchiveDeps wires recording archival. A nil Store disables the task handler.
type ArchiveDeps struct {
	Audio      AudioFetcher
	Store      storage.RecordingStore
	Bucket     string
	Recordings RecordingWriter
}

type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	bookings BookingReader
	archive  ArchiveDeps
	bus      events.Bus
	log      *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, bookings BookingReader, archive ArchiveDeps, bus events.Bus, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:   server,
		mux:      mux,
		bookings: bookings,
		archive:  archive,
		bus:      bus,
		log:      log,
	}

	mux.HandleFunc(TaskBookingReminder, w.handleBookingReminder)
	if archive.Store != nil {
		mux.HandleFunc(TaskRecordingArchive, w.handleRecordingArchive)
	}

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleBookingReminder(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseBookingReminderPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	bookingID, err := uuid.Parse(payload.BookingID)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	info, err := w.bookings.GetBookingReminderInfo(ctx, bookingID)
	if errors.Is(err, voice.ErrBookingNotFound) {
		w.log.Warn("booking reminder for missing booking", "bookingId", bookingID)
		return nil
	}
	if err != nil {
		return err
	}

	if info.Booking.Status != "scheduled" {
		return nil
	}
	if info.CustomerPhone == "" || w.bus == nil {
		return nil
	}

	w.bus.Publish(ctx, events.BookingReminderDue{
		BaseEvent:     events.NewBaseEvent(),
		BookingID:     info.Booking.ID,
		TenantID:      info.Booking.TenantID,
		CustomerID:    info.Booking.CustomerID,
		CustomerName:  info.CustomerName,
		CustomerPhone: info.CustomerPhone,
		Project:       info.Booking.Project,
		StartTime:     info.Booking.StartTime,
	})
	return nil
}

func (w *Worker) handleRecordingArchive(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseRecordingArchivePayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if payload.ConversationID == "" {
		return fmt.Errorf("recording archive without conversation id: %w", asynq.SkipRetry)
	}

	audio, contentType, size, err := w.archive.Audio.GetConversationAudio(ctx, payload.ConversationID)
	if err != nil {
		return fmt.Errorf("download recording %s: %w", payload.ConversationID, err)
	}
	defer func() { _ = audio.Close() }()

	key := storage.RecordingKey(payload.TenantID, payload.ConversationID, contentType)
	if err := w.archive.Store.PutRecording(ctx, w.archive.Bucket, key, contentType, audio, size); err != nil {
		return err
	}

	if err := w.archive.Recordings.SetRecordingURL(ctx, payload.ConversationID, storage.ObjectURL(w.archive.Bucket, key)); err != nil {
		return err
	}

	w.log.Info("call recording archived", "conversationId", payload.ConversationID, "objectKey", key)
	if w.bus != nil {
		w.bus.Publish(ctx, events.RecordingArchived{
			BaseEvent:      events.NewBaseEvent(),
			ConversationID: payload.ConversationID,
			ObjectKey:      key,
		})
	}
	return nil
}
