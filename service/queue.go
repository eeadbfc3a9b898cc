package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"DubbingPlatform-server/config"
	"DubbingPlatform-server/logging"

	"github.com/hibiken/asynq"
)

const TypeRunJob = "dubbing:run"

type JobPayload struct {
	JobID string `json:"job_id"`
}

// Enqueuer hands a job to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

func redisOpt(cfg config.Redis) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

type Queue struct {
	client  *asynq.Client
	timeout time.Duration
	logger  *slog.Logger
}

func NewQueue(cfg *config.Config, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := cfg.Pipeline.JobTimeoutDuration()
	if timeout <= 0 {
		timeout = time.Hour
	}
	return &Queue{
		client: asynq.NewClient(redisOpt(cfg.Redis)),
		// The orchestrator enforces the job timeout itself; the task
		// deadline only has to outlive it.
		timeout: timeout + 5*time.Minute,
		logger:  logging.NewComponentLogger(logger, "queue"),
	}
}

// Enqueue schedules one run. Failed runs are never retried by the queue;
// retries go through JobService.Retry.
func (q *Queue) Enqueue(ctx context.Context, jobID string) error {
	payload, err := json.Marshal(JobPayload{JobID: jobID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(TypeRunJob, payload,
		asynq.MaxRetry(0),
		asynq.Timeout(q.timeout),
		asynq.Retention(24*time.Hour),
	)

	info, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	q.logger.Info("job enqueued", logging.FieldJobID, jobID, "task_id", info.ID, "queue", info.Queue)
	return nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}
