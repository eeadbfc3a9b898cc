// Package pipeline drives one dubbing job through its stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"DubbingPlatform-server/config"
	"DubbingPlatform-server/ledger"
	"DubbingPlatform-server/logging"
	"DubbingPlatform-server/models"
	"DubbingPlatform-server/stages"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
)

// Progress reached when each stage finishes.
const (
	ProgressRecognition = 0.2
	ProgressTranslation = 0.4
	ProgressSynthesis   = 0.6
	ProgressReanimation = 0.8
)

// errCancelled stops the run when the job was cancelled from outside.
var errCancelled = errors.New("job cancelled")

type Orchestrator struct {
	db     *gorm.DB
	stages stages.Set
	ledger *ledger.Ledger
	cfg    *config.Config
	clock  models.Clock
	logger *slog.Logger
	calls  *semaphore.Weighted
}

type Option func(*Orchestrator)

func WithClock(c models.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func New(db *gorm.DB, set stages.Set, l *ledger.Ledger, cfg *config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		db:     db,
		stages: set,
		ledger: l,
		cfg:    cfg,
		clock:  models.SystemClock{},
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	limit := cfg.Pipeline.MaxConcurrentCalls
	if limit <= 0 {
		limit = 1
	}
	o.calls = semaphore.NewWeighted(int64(limit))
	o.logger = logging.NewComponentLogger(o.logger, "orchestrator")
	return o
}

// run carries the intermediate results of one execution.
type run struct {
	job     *models.Job
	project *models.Project
	logger  *slog.Logger
	langs   []string
	source  string

	sourceHash string
	transcript *stages.RecognitionResult

	translations map[string]*stages.TranslationResult
	audio        map[string]*stages.SynthesisResult
	videos       map[string]*stages.ReanimationResult
	metrics      models.QualityReport
}

// Run executes the job. Stage failures are recorded on the job and do not
// surface as an error; the returned error covers lookups, state machine
// violations and persistence problems.
func (o *Orchestrator) Run(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := models.GetJob(o.db, jobID)
	if err != nil {
		return nil, err
	}
	project, err := models.GetProject(o.db, job.ProjectID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusPending && job.Status != models.JobStatusRetrying {
		return job, &models.InvalidTransitionError{Op: "start", From: string(job.Status)}
	}

	r := &run{
		job:     job,
		project: project,
		langs:   job.Parameters.TargetLanguages,
		source:  job.Parameters.SourceLanguage,
		logger: o.logger.With(
			logging.FieldJobID, job.ID,
			logging.FieldProjectID, project.ID,
		),
	}

	// Consent is checked before the job leaves pending so that no AI stage
	// ever runs on non-compliant input.
	if project.RequireConsent {
		status, err := o.ledger.CheckConsent(ctx, project.ID)
		if err != nil {
			return nil, fmt.Errorf("check consent: %w", err)
		}
		if !status.Active {
			return o.fail(r, &models.EthicsError{Message: "no active consent record for project " + project.ID})
		}
	}

	if job, err = models.MutateJob(o.db, jobID, func(j *models.Job) error {
		return j.Start(o.clock.Now())
	}); err != nil {
		return nil, err
	}
	r.job = job
	o.updateProject(r, func(p *models.Project, now time.Time) { p.MarkProcessing(now) })
	r.logger.Info("job started",
		logging.FieldEventType, "job_started",
		"languages", r.langs,
		"retry_count", job.RetryCount,
	)

	if timeout := o.cfg.Pipeline.JobTimeoutDuration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	steps := []struct {
		stage    string
		progress float64
		fn       func(context.Context, *run) error
	}{
		{"ethics_precheck", 0, o.recordSource},
		{stages.StageRecognition, ProgressRecognition, o.recognize},
		{stages.StageTranslation, ProgressTranslation, o.translate},
		{stages.StageSynthesis, ProgressSynthesis, o.synthesize},
		{stages.StageReanimation, ProgressReanimation, o.reanimate},
		{"quality_gate", 0, o.qualityGate},
	}
	for _, step := range steps {
		if err := o.checkActive(ctx, jobID); err != nil {
			return o.stop(ctx, r, err)
		}
		started := time.Now()
		if err := step.fn(ctx, r); err != nil {
			return o.stop(ctx, r, err)
		}
		if step.progress > 0 {
			if err := o.setProgress(r, step.progress); err != nil {
				return nil, err
			}
		}
		r.logger.Info("stage completed",
			logging.FieldStage, step.stage,
			logging.FieldEventType, "stage_completed",
			"duration", time.Since(started),
		)
	}

	if err := o.checkActive(ctx, jobID); err != nil {
		return o.stop(ctx, r, err)
	}
	outputs, err := o.postProcess(ctx, r)
	if err != nil {
		return o.stop(ctx, r, err)
	}

	job, err = models.MutateJob(o.db, jobID, func(j *models.Job) error {
		return j.Complete(outputs, r.metrics, o.clock.Now())
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			// Cancelled during post-processing.
			return models.GetJob(o.db, jobID)
		}
		return nil, err
	}
	o.updateProject(r, func(p *models.Project, now time.Time) { p.MarkCompleted(now) })
	r.logger.Info("job completed",
		logging.FieldEventType, "job_completed",
		"duration_seconds", job.ActualDuration,
	)
	return job, nil
}

// stop ends the run after a stage error or an external cancellation.
func (o *Orchestrator) stop(ctx context.Context, r *run, err error) (*models.Job, error) {
	if errors.Is(err, errCancelled) {
		r.logger.Info("job cancelled, stopping", logging.FieldEventType, "job_cancelled")
		return models.GetJob(o.db, r.job.ID)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("job timed out after %s: %w", o.cfg.Pipeline.JobTimeoutDuration(), err)
	}
	return o.fail(r, err)
}

func (o *Orchestrator) fail(r *run, cause error) (*models.Job, error) {
	job, err := models.MutateJob(o.db, r.job.ID, func(j *models.Job) error {
		return j.Fail(cause.Error(), o.clock.Now())
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			return models.GetJob(o.db, r.job.ID)
		}
		return nil, err
	}
	o.updateProject(r, func(p *models.Project, now time.Time) { p.MarkFailed(now) })
	r.logger.Warn("job failed",
		logging.FieldEventType, "job_failed",
		logging.Error(cause),
	)
	return job, nil
}

func (o *Orchestrator) checkActive(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var statuses []models.JobStatus
	if err := o.db.Model(&models.Job{}).Where("id = ?", jobID).Pluck("status", &statuses).Error; err != nil {
		return err
	}
	if len(statuses) == 0 || statuses[0] == models.JobStatusCancelled {
		return errCancelled
	}
	return nil
}

func (o *Orchestrator) setProgress(r *run, p float64) error {
	job, err := models.MutateJob(o.db, r.job.ID, func(j *models.Job) error {
		j.UpdateProgress(p, o.clock.Now())
		return nil
	})
	if err != nil {
		return err
	}
	r.job = job
	o.updateProject(r, func(pr *models.Project, now time.Time) { pr.UpdateProgress(job.Progress, now) })
	return nil
}

// updateProject mirrors job state onto the project. Errors are logged only;
// the job record is authoritative.
func (o *Orchestrator) updateProject(r *run, fn func(*models.Project, time.Time)) {
	_, err := models.MutateProject(o.db, r.project.ID, func(p *models.Project) error {
		fn(p, o.clock.Now())
		return nil
	})
	if err != nil {
		r.logger.Warn("project update failed", logging.Error(err))
	}
}

// call runs one external call under the process wide call limit.
func (o *Orchestrator) call(ctx context.Context, fn func(context.Context) error) error {
	if err := o.calls.Acquire(ctx, 1); err != nil {
		return err
	}
	defer o.calls.Release(1)
	return fn(ctx)
}

// fanOut runs fn once per language with bounded concurrency. The first
// failure cancels the remaining calls and is returned.
func fanOut[T any](ctx context.Context, o *Orchestrator, r *run, stage string, fn func(ctx context.Context, lang string) (T, error)) (map[string]T, error) {
	limit := min(len(r.langs), o.cfg.Pipeline.PerJobConcurrency)
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var mu sync.Mutex
	out := make(map[string]T, len(r.langs))
	for _, lang := range r.langs {
		g.Go(func() error {
			if err := o.checkActive(gctx, r.job.ID); err != nil {
				return err
			}
			var v T
			err := o.call(gctx, func(ctx context.Context) error {
				var err error
				v, err = fn(ctx, lang)
				return err
			})
			if err != nil {
				r.logger.Warn("language failed",
					logging.FieldStage, stage,
					logging.FieldLanguage, lang,
					logging.Error(err),
				)
				return err
			}
			mu.Lock()
			out[lang] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
