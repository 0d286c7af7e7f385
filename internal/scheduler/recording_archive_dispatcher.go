package scheduler

import (
	"context"
	"fmt"
	"time"

	"voicecrm_backend/internal/voice"
	"voicecrm_backend/platform/config"
	"voicecrm_backend/platform/logger"

	"github.com/hibiken/asynq"
)

const (
	archiveDispatchInterval = 30 * time.Second
	archiveBatchSize        = 50
	// Provider audio is not always ready when the post-call webhook fires.
	archiveSettleDelay = 2 * time.Minute
)

// PendingArchiveClaimer hands out calls whose recording has not been archived.
type PendingArchiveClaimer interface {
	ClaimPendingArchives(ctx context.Context, createdBefore time.Time, limit int) ([]voice.PendingArchive, error)
}

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// RecordingArchiveDispatcher turns pending archives into asynq tasks.
type RecordingArchiveDispatcher struct {
	client   taskEnqueuer
	queue    string
	repo     PendingArchiveClaimer
	interval time.Duration
	now      func() time.Time
	log      *logger.Logger
}

func NewRecordingArchiveDispatcher(cfg config.SchedulerConfig, repo PendingArchiveClaimer, log *logger.Logger) (*RecordingArchiveDispatcher, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	return &RecordingArchiveDispatcher{
		client:   asynq.NewClient(opt),
		queue:    queueName(cfg),
		repo:     repo,
		interval: archiveDispatchInterval,
		now:      time.Now,
		log:      log,
	}, nil
}

func (d *RecordingArchiveDispatcher) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

func (d *RecordingArchiveDispatcher) Run(ctx context.Context) {
	if d == nil || d.client == nil || d.repo == nil {
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		d.dispatch(ctx)
	}
}

func (d *RecordingArchiveDispatcher) dispatch(ctx context.Context) int {
	pending, err := d.repo.ClaimPendingArchives(ctx, d.now().Add(-archiveSettleDelay), archiveBatchSize)
	if err != nil {
		d.log.Warn("recording archive claim failed", "error", err)
		return 0
	}

	enqueued := 0
	for _, p := range pending {
		task, err := NewRecordingArchiveTask(RecordingArchivePayload{
			CallID:         p.CallID.String(),
			ConversationID: p.ConversationID,
			TenantID:       p.TenantID.String(),
		})
		if err != nil {
			d.log.Warn("recording archive task build failed", "conversationId", p.ConversationID, "error", err)
			continue
		}

		_, err = d.client.EnqueueContext(ctx, task,
			asynq.Queue(d.queue),
			asynq.TaskID("recording-archive:"+p.ConversationID),
			asynq.MaxRetry(10),
		)
		if err != nil {
			d.log.Warn("recording archive enqueue failed", "conversationId", p.ConversationID, "error", err)
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		d.log.Info("recording archives enqueued", "count", enqueued)
	}
	return enqueued
}
