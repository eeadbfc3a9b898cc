package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"DubbingPlatform-server/config"
	"DubbingPlatform-server/logging"
	"DubbingPlatform-server/models"

	"github.com/hibiken/asynq"
)

// Runner executes one job to a terminal state.
type Runner interface {
	Run(ctx context.Context, jobID string) (*models.Job, error)
}

// Processor consumes queued jobs and hands them to the orchestrator.
type Processor struct {
	runner Runner
	cfg    *config.Config
	logger *slog.Logger
	srv    *asynq.Server
}

func NewProcessor(runner Runner, cfg *config.Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Processor{
		runner: runner,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "processor"),
	}
}

// Start runs the consumer in the background until Shutdown.
func (p *Processor) Start() error {
	p.srv = asynq.NewServer(
		redisOpt(p.cfg.Redis),
		asynq.Config{
			Concurrency: p.cfg.Pipeline.MaxConcurrentJobs,
			Queues: map[string]int{
				"default": 1,
			},
			Logger: asynqLogger{p.logger},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRunJob, p.HandleRunJob)

	p.logger.Info("starting job processor", "concurrency", p.cfg.Pipeline.MaxConcurrentJobs)
	return p.srv.Start(mux)
}

func (p *Processor) Shutdown() {
	if p.srv != nil {
		p.srv.Shutdown()
	}
}

// HandleRunJob is the asynq handler for TypeRunJob.
func (p *Processor) HandleRunJob(ctx context.Context, t *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	job, err := p.runner.Run(ctx, payload.JobID)
	switch {
	case errors.Is(err, models.ErrInvalidTransition):
		// Cancelled or already finished before a worker picked it up.
		p.logger.Info("job not runnable, skipping",
			logging.FieldJobID, payload.JobID,
			logging.Error(err),
		)
		return nil
	case err != nil:
		return fmt.Errorf("run job %s: %v: %w", payload.JobID, err, asynq.SkipRetry)
	}

	p.logger.Info("job finished",
		logging.FieldJobID, job.ID,
		"status", job.Status,
		"progress", job.Progress,
	)
	return nil
}

// asynqLogger routes asynq's own logging through slog.
type asynqLogger struct{ l *slog.Logger }

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
