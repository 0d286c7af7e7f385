package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskBookingReminder = "voice.booking.reminder"

const TaskRecordingArchive = "voice.recording.archive"

type BookingReminderPayload struct {
	BookingID string `json:"bookingId"`
	TenantID  string `json:"tenantId"`
}

type RecordingArchivePayload struct {
	CallID         string `json:"callId"`
	ConversationID string `json:"conversationId"`
	TenantID       string `json:"tenantId"`
}

func NewBookingReminderTask(payload BookingReminderPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBookingReminder, data), nil
}

func ParseBookingReminderPayload(task *asynq.Task) (BookingReminderPayload, error) {
	var payload BookingReminderPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return BookingReminderPayload{}, err
	}
	return payload, nil
}

func NewRecordingArchiveTask(payload RecordingArchivePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecordingArchive, data), nil
}

func ParseRecordingArchivePayload(task *asynq.Task) (RecordingArchivePayload, error) {
	var payload RecordingArchivePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RecordingArchivePayload{}, err
	}
	return payload, nil
}
