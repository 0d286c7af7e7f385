package scheduler

import (
	"context"
	"time"

	"voicecrm_backend/platform/logger"
)

const (
	defaultSessionExpiryInterval = 15 * time.Minute
	defaultSessionStaleAfter     = 24 * time.Hour
)

// StaleSessionExpirer fails sessions that never received a call.
type StaleSessionExpirer interface {
	ExpireStaleSessions(ctx context.Context, createdBefore time.Time) (int64, error)
}

// SessionExpiry periodically marks abandoned sessions as failed.
type SessionExpiry struct {
	repo       StaleSessionExpirer
	log        *logger.Logger
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

func NewSessionExpiry(repo StaleSessionExpirer, log *logger.Logger, interval, staleAfter time.Duration) *SessionExpiry {
	if interval <= 0 {
		interval = defaultSessionExpiryInterval
	}
	if staleAfter <= 0 {
		staleAfter = defaultSessionStaleAfter
	}

	return &SessionExpiry{
		repo:       repo,
		log:        log,
		interval:   interval,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

func (e *SessionExpiry) Run(ctx context.Context) {
	if e == nil || e.repo == nil {
		return
	}

	e.expire(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.expire(ctx)
		}
	}
}

func (e *SessionExpiry) expire(ctx context.Context) {
	expired, err := e.repo.ExpireStaleSessions(ctx, e.now().Add(-e.staleAfter))
	if err != nil {
		e.log.Warn("voice session expiry failed", "error", err)
		return
	}

	if expired > 0 {
		e.log.Info("voice session expiry failed stale sessions", "expired", expired)
	}
}
