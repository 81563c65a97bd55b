package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"jigaku-backend/internal/models"
)

const (
	SessionQueue      = "queue:session-completion"
	DefaultMaxRetries = 3
)

// Queue produces session completion jobs onto a Redis list.
type Queue struct {
	redis      *redis.Client
	maxRetries int
}

func NewQueue(redisClient *redis.Client, maxRetries int) *Queue {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Queue{redis: redisClient, maxRetries: maxRetries}
}

func (q *Queue) Enqueue(ctx context.Context, userID uuid.UUID, seconds int) (*models.Job, error) {
	job := &models.Job{
		ID:              uuid.New(),
		UserID:          userID,
		Type:            models.JobTypeSessionCompletion,
		DurationSeconds: seconds,
		MaxRetries:      q.maxRetries,
		CreatedAt:       time.Now().UTC(),
	}
	if err := push(ctx, q.redis, job); err != nil {
		return nil, err
	}
	return job, nil
}

func push(ctx context.Context, client *redis.Client, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := client.LPush(ctx, SessionQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return nil
}
