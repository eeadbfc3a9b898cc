package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"DubbingPlatform-server/config"
	"DubbingPlatform-server/ledger"
	"DubbingPlatform-server/logging"
	"DubbingPlatform-server/models"
	"DubbingPlatform-server/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobService is the owner scoped surface over projects and jobs.
type JobService struct {
	db     *gorm.DB
	store  storage.Store
	ledger *ledger.Ledger
	queue  Enqueuer
	cfg    *config.Config
	clock  models.Clock
	logger *slog.Logger
}

func NewJobService(db *gorm.DB, store storage.Store, l *ledger.Ledger, queue Enqueuer, cfg *config.Config, clock models.Clock, logger *slog.Logger) *JobService {
	if clock == nil {
		clock = models.SystemClock{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &JobService{
		db:     db,
		store:  store,
		ledger: l,
		queue:  queue,
		cfg:    cfg,
		clock:  clock,
		logger: logging.NewComponentLogger(logger, "jobs"),
	}
}

// ProjectRequest creates a draft project. Nil flags and zero thresholds
// take the configured defaults.
type ProjectRequest struct {
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	SourceLanguage      string   `json:"sourceLanguage"`
	TargetLanguages     []string `json:"targetLanguages"`
	TargetLSEC          float64  `json:"targetLseC"`
	TargetFID           float64  `json:"targetFid"`
	TargetAUCorrelation float64  `json:"targetAuCorrelation"`
	TargetBLEU          float64  `json:"targetBleu"`
	RequireConsent      *bool    `json:"requireConsent"`
	EnableWatermarking  *bool    `json:"enableWatermarking"`
	EnableProvenance    *bool    `json:"enableProvenance"`
}

// SubmitRequest starts a full dubbing job. With ProjectID set the job runs
// under that existing project; otherwise a project is created from Project.
type SubmitRequest struct {
	ProjectID          string         `json:"projectId"`
	Project            ProjectRequest `json:"project"`
	VideoRef           string         `json:"videoRef"`
	SourceLanguage     string         `json:"sourceLanguage"`
	TargetLanguages    []string       `json:"targetLanguages"`
	VoiceCloning       bool           `json:"voiceCloning"`
	Emotion            string         `json:"emotion"`
	ReanimationMode    string         `json:"reanimationMode"`
	PreservePose       *bool          `json:"preservePose"`
	PreserveExpression *bool          `json:"preserveExpression"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func (s *JobService) validateLanguages(source string, targets []string) ([]string, string, error) {
	limit := s.cfg.Pipeline.MaxTargetLanguages
	if len(targets) == 0 || len(targets) > limit {
		return nil, "", models.Invalid("targetLanguages", "between 1 and %d languages required", limit)
	}
	source = strings.ToLower(strings.TrimSpace(source))
	if source != "" && !s.cfg.Supports(source) {
		return nil, "", models.Invalid("sourceLanguage", "unsupported language %q", source)
	}
	seen := make(map[string]bool, len(targets))
	out := make([]string, 0, len(targets))
	for _, lang := range targets {
		lang = strings.ToLower(strings.TrimSpace(lang))
		switch {
		case !s.cfg.Supports(lang):
			return nil, "", models.Invalid("targetLanguages", "unsupported language %q", lang)
		case seen[lang]:
			return nil, "", models.Invalid("targetLanguages", "duplicate language %q", lang)
		case lang == source:
			return nil, "", models.Invalid("targetLanguages", "%q is the source language", lang)
		}
		seen[lang] = true
		out = append(out, lang)
	}
	return out, source, nil
}

func (s *JobService) newProject(ownerID string, req ProjectRequest, source string, targets []string, now time.Time) *models.Project {
	q := s.cfg.Quality
	e := s.cfg.Ethics
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("Dubbing %s", now.Format("2006-01-02 15:04"))
	}
	return &models.Project{
		ID:                  uuid.NewString(),
		OwnerID:             ownerID,
		Name:                name,
		Description:         req.Description,
		Status:              models.ProjectStatusDraft,
		SourceLanguage:      source,
		TargetLanguages:     targets,
		TargetLSEC:          floatOr(req.TargetLSEC, q.TargetLSEC),
		TargetFID:           floatOr(req.TargetFID, q.TargetFID),
		TargetAUCorrelation: floatOr(req.TargetAUCorrelation, q.TargetAUCorrelation),
		TargetBLEU:          floatOr(req.TargetBLEU, q.TargetBLEU),
		RequireConsent:      boolOr(req.RequireConsent, e.RequireConsent),
		EnableWatermarking:  boolOr(req.EnableWatermarking, e.EnableWatermarking),
		EnableProvenance:    boolOr(req.EnableProvenance, e.EnableProvenance),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// CreateProject registers a draft project so consent can be recorded
// before the first job is submitted.
func (s *JobService) CreateProject(ctx context.Context, ownerID string, req ProjectRequest) (*models.Project, error) {
	targets, source, err := s.validateLanguages(req.SourceLanguage, req.TargetLanguages)
	if err != nil {
		return nil, err
	}
	p := s.newProject(ownerID, req, source, targets, s.clock.Now())
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	s.logger.Info("project created", logging.FieldProjectID, p.ID, "owner_id", ownerID)
	return p, nil
}

func (s *JobService) GetProject(ctx context.Context, ownerID, id string) (*models.Project, error) {
	p, err := models.GetProject(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, models.NotFound("project", id)
	}
	return p, nil
}

func (s *JobService) DeleteProject(ctx context.Context, ownerID, id string) error {
	return models.DeleteProject(s.db.WithContext(ctx), ownerID, id)
}

// Submit validates the request, persists a pending job and enqueues it.
// When the project requires consent and has none, the job is kept pending
// and an EthicsError is returned; Start enqueues it once consent exists.
func (s *JobService) Submit(ctx context.Context, ownerID string, req SubmitRequest) (*models.Job, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, models.Invalid("owner", "is required")
	}
	if strings.TrimSpace(req.VideoRef) == "" {
		return nil, models.Invalid("videoRef", "is required")
	}
	mode := req.ReanimationMode
	if mode == "" {
		mode = s.cfg.Pipeline.ReanimationMode
	}
	if mode != "structural" && mode != "end_to_end" {
		return nil, models.Invalid("reanimationMode", "must be structural or end_to_end")
	}

	db := s.db.WithContext(ctx)
	now := s.clock.Now()
	var project *models.Project
	source, targets := req.SourceLanguage, req.TargetLanguages
	if req.ProjectID != "" {
		p, err := s.GetProject(ctx, ownerID, req.ProjectID)
		if err != nil {
			return nil, err
		}
		if source == "" {
			source = p.SourceLanguage
		}
		if len(targets) == 0 {
			targets = p.TargetLanguages
		}
		project = p
	}
	targets, source, err := s.validateLanguages(source, targets)
	if err != nil {
		return nil, err
	}

	ok, err := s.store.Exists(ctx, req.VideoRef)
	if err != nil {
		return nil, fmt.Errorf("check video: %w", err)
	}
	if !ok {
		return nil, models.Invalid("videoRef", "%s does not exist", req.VideoRef)
	}

	params := models.JobParameters{
		VideoRef:        req.VideoRef,
		SourceLanguage:  source,
		TargetLanguages: targets,
		Recognition:     models.RecognitionParams{Language: source},
		Synthesis:       models.SynthesisParams{VoiceCloning: req.VoiceCloning, Emotion: req.Emotion},
		Reanimation: models.ReanimationParams{
			Mode:               mode,
			PreservePose:       boolOr(req.PreservePose, true),
			PreserveExpression: boolOr(req.PreserveExpression, true),
		},
	}

	var job *models.Job
	if project == nil {
		project = s.newProject(ownerID, req.Project, source, targets, now)
		job = models.NewJob(uuid.NewString(), project.ID, ownerID, params, now)
		if err := models.CreateProjectWithJob(db, project, job); err != nil {
			return nil, fmt.Errorf("create job: %w", err)
		}
	} else {
		active, err := models.ListJobs(db, models.JobFilter{ProjectID: project.ID})
		if err != nil {
			return nil, err
		}
		for i := range active {
			if active[i].IsActive() {
				return nil, models.Invalid("projectId", "project already has active job %s", active[i].ID)
			}
		}
		job = models.NewJob(uuid.NewString(), project.ID, ownerID, params, now)
		if err := db.Create(job).Error; err != nil {
			return nil, fmt.Errorf("create job: %w", err)
		}
	}
	s.logger.Info("job submitted",
		logging.FieldJobID, job.ID,
		logging.FieldProjectID, project.ID,
		"languages", targets,
	)

	return job, s.precheckAndEnqueue(ctx, project, job)
}

// Start enqueues a job that is not running yet: a pending job whose consent
// pre-check failed at submission, or a retrying job whose enqueue failed.
func (s *JobService) Start(ctx context.Context, ownerID, id string) (*models.Job, error) {
	job, err := models.GetJobForOwner(s.db.WithContext(ctx), ownerID, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusPending && job.Status != models.JobStatusRetrying {
		return nil, &models.InvalidTransitionError{Op: "start", From: string(job.Status)}
	}
	project, err := models.GetProject(s.db.WithContext(ctx), job.ProjectID)
	if err != nil {
		return nil, err
	}
	return job, s.precheckAndEnqueue(ctx, project, job)
}

func (s *JobService) precheckAndEnqueue(ctx context.Context, project *models.Project, job *models.Job) error {
	if project.RequireConsent {
		status, err := s.ledger.CheckConsent(ctx, project.ID)
		if err != nil {
			return fmt.Errorf("check consent: %w", err)
		}
		if !status.Active {
			s.logger.Warn("job held pending: no active consent",
				logging.FieldJobID, job.ID,
				logging.FieldProjectID, project.ID,
				logging.FieldErrorHint, "create and grant a consent record, then start the job",
			)
			return &models.EthicsError{Message: "project " + project.ID + " requires an active consent record"}
		}
	}
	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

func (s *JobService) Get(ctx context.Context, ownerID, id string) (*models.Job, error) {
	return models.GetJobForOwner(s.db.WithContext(ctx), ownerID, id)
}

func (s *JobService) List(ctx context.Context, ownerID string, f models.JobFilter) ([]models.Job, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, models.Invalid("status", "unknown status %q", f.Status)
	}
	f.OwnerID = ownerID
	return models.ListJobs(s.db.WithContext(ctx), f)
}

func (s *JobService) Stats(ctx context.Context, ownerID string) (models.JobStats, error) {
	return models.GetJobStats(s.db.WithContext(ctx), ownerID)
}

// Cancel marks the job cancelled. A running orchestrator notices before its
// next stage or language call.
func (s *JobService) Cancel(ctx context.Context, ownerID, id string) (*models.Job, error) {
	db := s.db.WithContext(ctx)
	if _, err := models.GetJobForOwner(db, ownerID, id); err != nil {
		return nil, err
	}
	job, err := models.MutateJob(db, id, func(j *models.Job) error {
		return j.Cancel(s.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	if _, err := models.MutateProject(db, job.ProjectID, func(p *models.Project) error {
		p.MarkCancelled(s.clock.Now())
		return nil
	}); err != nil {
		s.logger.Warn("project update failed", logging.FieldProjectID, job.ProjectID, logging.Error(err))
	}
	s.logger.Info("job cancelled", logging.FieldJobID, id)
	return job, nil
}

// Retry moves a failed job back to retrying and enqueues a fresh run.
func (s *JobService) Retry(ctx context.Context, ownerID, id string) (*models.Job, error) {
	db := s.db.WithContext(ctx)
	if _, err := models.GetJobForOwner(db, ownerID, id); err != nil {
		return nil, err
	}
	job, err := models.MutateJob(db, id, func(j *models.Job) error {
		return j.Retry(s.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("job retry requested", logging.FieldJobID, id, "retry_count", job.RetryCount)
	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		return job, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return job, nil
}
