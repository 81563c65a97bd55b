package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"jigaku-backend/internal/metrics"
	"jigaku-backend/internal/models"
	"jigaku-backend/internal/services"
)

type SessionCompleter interface {
	Complete(ctx context.Context, userID uuid.UUID, seconds int) (*models.StudySession, int64, error)
}

type Options struct {
	Workers     int
	PollTimeout time.Duration
	LockTTL     time.Duration
	// Backoff returns the delay before retry n is re-queued.
	Backoff func(retry int) time.Duration
	// OnRecorded runs after a session is stored.
	OnRecorded func(ctx context.Context, session *models.StudySession, total int64)
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

type Pool struct {
	redis    *redis.Client
	sessions SessionCompleter
	opts     Options
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(redisClient *redis.Client, sessions SessionCompleter, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Second
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	if opts.Backoff == nil {
		opts.Backoff = func(retry int) time.Duration {
			return time.Duration(1<<uint(retry)) * time.Second
		}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pool{
		redis:    redisClient,
		sessions: sessions,
		opts:     opts,
		logger:   opts.Logger,
	}
}

func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Info("started session workers", zap.Int("workers", p.opts.Workers))
}

// Stop cancels the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.With(zap.Int("worker", id))

	for {
		if ctx.Err() != nil {
			log.Debug("worker shutting down")
			return
		}

		result, err := p.redis.BLPop(ctx, p.opts.PollTimeout, SessionQueue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				log.Warn("queue pop failed", zap.Error(err))
				sleep(ctx, time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job models.Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Error("dropping malformed job", zap.Error(err))
			p.opts.Metrics.SessionJob("malformed")
			continue
		}

		p.process(ctx, log, &job)
	}
}

func (p *Pool) process(ctx context.Context, log *zap.Logger, job *models.Job) {
	lockKey := fmt.Sprintf("job_lock:%s:%d", job.ID, job.RetryCount)
	locked, err := p.redis.SetNX(ctx, lockKey, "1", p.opts.LockTTL).Result()
	if err != nil || !locked {
		return
	}
	defer p.redis.Del(context.Background(), lockKey)

	log = log.With(zap.String("job_id", job.ID.String()), zap.String("user_id", job.UserID.String()))

	// A popped job is finished even if shutdown starts mid-flight.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	session, total, err := p.sessions.Complete(jobCtx, job.UserID, job.DurationSeconds)
	if err != nil {
		p.handleFailure(log, job, err)
		return
	}

	p.opts.Metrics.SessionJob("completed")
	log.Info("session recorded", zap.Int("seconds", job.DurationSeconds), zap.Int64("total", total))

	if p.opts.OnRecorded != nil {
		p.opts.OnRecorded(jobCtx, session, total)
	}
}

func (p *Pool) handleFailure(log *zap.Logger, job *models.Job, err error) {
	var verr *services.ValidationError
	var nf *services.NotFoundError
	if errors.As(err, &verr) || errors.As(err, &nf) {
		log.Warn("session job rejected", zap.Error(err))
		p.opts.Metrics.SessionJob("rejected")
		return
	}

	job.RetryCount++
	maxRetries := job.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	if job.RetryCount >= maxRetries {
		log.Error("session job failed permanently", zap.Int("attempts", job.RetryCount), zap.Error(err))
		p.opts.Metrics.SessionJob("failed")
		return
	}

	backoff := p.opts.Backoff(job.RetryCount)
	log.Warn("session job failed, retrying", zap.Int("attempt", job.RetryCount), zap.Duration("backoff", backoff), zap.Error(err))
	p.opts.Metrics.SessionJob("retried")

	retry := *job
	time.AfterFunc(backoff, func() {
		if err := push(context.Background(), p.redis, &retry); err != nil {
			p.logger.Error("failed to re-queue session job", zap.String("job_id", retry.ID.String()), zap.Error(err))
		}
	})
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
