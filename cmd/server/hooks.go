package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jigaku-backend/internal/presence"
	"jigaku-backend/internal/worker"
)

const hookTimeout = 5 * time.Second

// timerHooks publishes timer status to the presence store and hands finished
// sessions to the worker queue.
type timerHooks struct {
	statuses *presence.Store
	queue    *worker.Queue
	logger   *zap.Logger
}

func (h *timerHooks) StatusChanged(userID uuid.UUID, studying bool) {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	if err := h.statuses.Set(ctx, userID.String(), studying); err != nil {
		h.logger.Warn("failed to publish study status",
			zap.String("user_id", userID.String()), zap.Bool("studying", studying), zap.Error(err))
	}
}

func (h *timerHooks) Completed(userID uuid.UUID, seconds int) {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	job, err := h.queue.Enqueue(ctx, userID, seconds)
	if err != nil {
		h.logger.Error("failed to enqueue completed session",
			zap.String("user_id", userID.String()), zap.Int("seconds", seconds), zap.Error(err))
		return
	}
	h.logger.Debug("session queued", zap.String("job_id", job.ID.String()))
}
