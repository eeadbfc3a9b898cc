package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"DubbingPlatform-server/config"
	"DubbingPlatform-server/ledger"
	"DubbingPlatform-server/models"
	"DubbingPlatform-server/service"
	"DubbingPlatform-server/storage"
	"DubbingPlatform-server/testsupport"

	"gorm.io/gorm"
)

type fakeQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (q *fakeQueue) Enqueue(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, jobID)
	return nil
}

func (q *fakeQueue) enqueued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.ids...)
}

type env struct {
	cfg    *config.Config
	db     *gorm.DB
	clock  *testsupport.Clock
	queue  *fakeQueue
	store  storage.Store
	ledger *ledger.Ledger
	svc    *service.JobService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := testsupport.Config(t)
	db := testsupport.OpenDB(t)
	store, err := storage.NewLocalStore(cfg.Storage.LocalDir, "")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.Put(context.Background(), "uploads/in.mp4", strings.NewReader("video"), -1); err != nil {
		t.Fatalf("put: %v", err)
	}
	clock := testsupport.NewClock()
	l := ledger.New(db, store, cfg.Ethics, ledger.WithClock(clock))
	q := &fakeQueue{}
	return &env{
		cfg:    cfg,
		db:     db,
		clock:  clock,
		queue:  q,
		store:  store,
		ledger: l,
		svc:    service.NewJobService(db, store, l, q, cfg, clock, nil),
	}
}

func noConsent() service.ProjectRequest {
	f := false
	return service.ProjectRequest{RequireConsent: &f}
}

func TestSubmitValidation(t *testing.T) {
	eleven := []string{"es", "fr", "de", "it", "pt", "ru", "zh", "ja", "ko", "ar", "hi"}
	cases := map[string]service.SubmitRequest{
		"no languages":     {VideoRef: "uploads/in.mp4"},
		"too many":         {VideoRef: "uploads/in.mp4", TargetLanguages: eleven},
		"unsupported":      {VideoRef: "uploads/in.mp4", TargetLanguages: []string{"xx"}},
		"duplicate":        {VideoRef: "uploads/in.mp4", TargetLanguages: []string{"es", "ES"}},
		"source as target": {VideoRef: "uploads/in.mp4", SourceLanguage: "en", TargetLanguages: []string{"en"}},
		"missing video":    {VideoRef: "uploads/none.mp4", TargetLanguages: []string{"es"}},
		"no video":         {TargetLanguages: []string{"es"}},
		"bad mode":         {VideoRef: "uploads/in.mp4", TargetLanguages: []string{"es"}, ReanimationMode: "magic"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t)
			_, err := e.svc.Submit(context.Background(), "owner-1", req)
			if !errors.Is(err, models.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			var jobs int64
			e.db.Model(&models.Job{}).Count(&jobs)
			if jobs != 0 {
				t.Fatalf("no job may be created, got %d", jobs)
			}
		})
	}
}

func TestSubmitWithoutConsentKeepsJobPending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	job, err := e.svc.Submit(ctx, "owner-1", service.SubmitRequest{
		VideoRef: "uploads/in.mp4", SourceLanguage: "en", TargetLanguages: []string{"es", "fr"},
	})
	if !errors.Is(err, models.ErrEthics) {
		t.Fatalf("expected ethics error, got %v", err)
	}
	if job == nil || job.Status != models.JobStatusPending {
		t.Fatalf("expected pending job, got %+v", job)
	}
	stored, _ := models.GetJob(e.db, job.ID)
	if stored.Status != models.JobStatusPending || stored.StartedAt != nil {
		t.Fatalf("job must stay pending, got %s", stored.Status)
	}
	if ids := e.queue.enqueued(); len(ids) != 0 {
		t.Fatalf("job must not be enqueued, got %v", ids)
	}

	c, err := e.ledger.CreateConsent(ctx, ledger.ConsentInput{ProjectID: job.ProjectID, ConsentType: "voice", SubjectName: "Speaker"})
	if err != nil {
		t.Fatalf("CreateConsent: %v", err)
	}
	if _, err := e.ledger.Grant(ctx, c.ID, ""); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	// The held job is still active, so only Start can resume it.
	if _, err := e.svc.Submit(ctx, "owner-1", service.SubmitRequest{ProjectID: job.ProjectID, VideoRef: "uploads/in.mp4"}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("resubmitting into the held project should be refused, got %v", err)
	}
	if _, err := e.svc.Start(ctx, "owner-1", job.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ids := e.queue.enqueued(); len(ids) != 1 || ids[0] != job.ID {
		t.Fatalf("expected job to be enqueued after consent, got %v", ids)
	}
}

func TestSubmitIntoExistingProject(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	p, err := e.svc.CreateProject(ctx, "owner-1", service.ProjectRequest{
		Name: "Trailer", SourceLanguage: "en", TargetLanguages: []string{"de"},
	})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if p.TargetLSEC != e.cfg.Quality.TargetLSEC || !p.RequireConsent {
		t.Fatalf("expected configured defaults, got %+v", p)
	}
	c, _ := e.ledger.CreateConsent(ctx, ledger.ConsentInput{ProjectID: p.ID, ConsentType: "likeness", SubjectName: "Actor"})
	if _, err := e.ledger.Grant(ctx, c.ID, ""); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	job, err := e.svc.Submit(ctx, "owner-1", service.SubmitRequest{ProjectID: p.ID, VideoRef: "uploads/in.mp4"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.ProjectID != p.ID || job.Parameters.TargetLanguages[0] != "de" || job.Parameters.SourceLanguage != "en" {
		t.Fatalf("job should inherit project languages: %+v", job.Parameters)
	}

	if _, err := e.svc.Submit(ctx, "owner-1", service.SubmitRequest{ProjectID: p.ID, VideoRef: "uploads/in.mp4"}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("second active job should be refused, got %v", err)
	}
	if _, err := e.svc.Submit(ctx, "owner-2", service.SubmitRequest{ProjectID: p.ID, VideoRef: "uploads/in.mp4"}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("other owners must not see the project, got %v", err)
	}
}

func TestCancelAndRetry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	job, err := e.svc.Submit(ctx, "owner-1", service.SubmitRequest{
		VideoRef: "uploads/in.mp4", TargetLanguages: []string{"es"}, Project: noConsent(),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ids := e.queue.enqueued(); len(ids) != 1 {
		t.Fatalf("expected enqueue, got %v", ids)
	}

	if _, err := e.svc.Cancel(ctx, "owner-2", job.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("cancel by another owner should be not found, got %v", err)
	}
	if _, err := e.svc.Retry(ctx, "owner-1", job.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("retry of pending job should fail, got %v", err)
	}

	if _, err := models.MutateJob(e.db, job.ID, func(j *models.Job) error {
		if err := j.Start(e.clock.Now()); err != nil {
			return err
		}
		return j.Fail("translation service error: boom", e.clock.Now())
	}); err != nil {
		t.Fatalf("fail job: %v", err)
	}
	retried, err := e.svc.Retry(ctx, "owner-1", job.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Status != models.JobStatusRetrying || retried.RetryCount != 1 {
		t.Fatalf("unexpected retried job %+v", retried)
	}
	if ids := e.queue.enqueued(); len(ids) != 2 {
		t.Fatalf("retry should enqueue a new run, got %v", ids)
	}

	cancelled, err := e.svc.Cancel(ctx, "owner-1", job.ID)
	if err != nil || cancelled.Status != models.JobStatusCancelled {
		t.Fatalf("Cancel: %+v %v", cancelled, err)
	}
	if _, err := e.svc.Cancel(ctx, "owner-1", job.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("second cancel should fail, got %v", err)
	}
	p, _ := models.GetProject(e.db, job.ProjectID)
	if p.Status != models.ProjectStatusCancelled {
		t.Fatalf("project should follow the job, got %s", p.Status)
	}
}

func TestRetryWithFailedEnqueueCanBeStarted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	job, err := e.svc.Submit(ctx, "owner-1", service.SubmitRequest{
		VideoRef: "uploads/in.mp4", TargetLanguages: []string{"es"}, Project: noConsent(),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := models.MutateJob(e.db, job.ID, func(j *models.Job) error {
		if err := j.Start(e.clock.Now()); err != nil {
			return err
		}
		return j.Fail("synthesis service error: boom", e.clock.Now())
	}); err != nil {
		t.Fatalf("fail job: %v", err)
	}

	e.queue.mu.Lock()
	e.queue.err = errors.New("redis down")
	e.queue.mu.Unlock()
	retried, err := e.svc.Retry(ctx, "owner-1", job.ID)
	if err == nil || !strings.Contains(err.Error(), "redis down") {
		t.Fatalf("expected enqueue error, got %v", err)
	}
	if retried == nil || retried.Status != models.JobStatusRetrying {
		t.Fatalf("expected job left retrying, got %+v", retried)
	}

	e.queue.mu.Lock()
	e.queue.err = nil
	e.queue.mu.Unlock()
	started, err := e.svc.Start(ctx, "owner-1", job.ID)
	if err != nil {
		t.Fatalf("Start of retrying job: %v", err)
	}
	if started.Status != models.JobStatusRetrying || started.RetryCount != 1 {
		t.Fatalf("Start must not consume another retry: %+v", started)
	}
	ids := e.queue.enqueued()
	if len(ids) != 2 || ids[1] != job.ID {
		t.Fatalf("expected the job to be enqueued again, got %v", ids)
	}

	if _, err := models.MutateJob(e.db, job.ID, func(j *models.Job) error {
		if err := j.Start(e.clock.Now()); err != nil {
			return err
		}
		return j.Complete(nil, nil, e.clock.Now())
	}); err != nil {
		t.Fatalf("complete job: %v", err)
	}
	if _, err := e.svc.Start(ctx, "owner-1", job.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("Start of a completed job should fail, got %v", err)
	}
}

func TestListAndStats(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := e.svc.Submit(ctx, "owner-1", service.SubmitRequest{
			VideoRef: "uploads/in.mp4", TargetLanguages: []string{"es"}, Project: noConsent(),
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if _, err := e.svc.Submit(ctx, "owner-2", service.SubmitRequest{
		VideoRef: "uploads/in.mp4", TargetLanguages: []string{"fr"}, Project: noConsent(),
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	jobs, err := e.svc.List(ctx, "owner-1", models.JobFilter{Status: models.JobStatusPending})
	if err != nil || len(jobs) != 3 {
		t.Fatalf("expected 3 pending jobs, got %d (%v)", len(jobs), err)
	}
	if _, err := e.svc.List(ctx, "owner-1", models.JobFilter{Status: "bogus"}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error for bad status, got %v", err)
	}
	stats, err := e.svc.Stats(ctx, "owner-2")
	if err != nil || stats.Total != 1 {
		t.Fatalf("unexpected stats %+v (%v)", stats, err)
	}
}

func TestProgressView(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	job, err := e.svc.Submit(ctx, "owner-1", service.SubmitRequest{
		VideoRef: "uploads/in.mp4", TargetLanguages: []string{"es"}, Project: noConsent(),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := models.MutateJob(e.db, job.ID, func(j *models.Job) error {
		if err := j.Start(e.clock.Now()); err != nil {
			return err
		}
		j.UpdateProgress(0.4, e.clock.Now())
		return nil
	}); err != nil {
		t.Fatalf("advance job: %v", err)
	}
	e.clock.Advance(time.Minute)

	v, err := e.svc.Progress(ctx, "owner-1", job.ID)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if v.CurrentStage != "Voice Synthesis" || len(v.Stages) != 6 {
		t.Fatalf("unexpected stages: %s %+v", v.CurrentStage, v.Stages)
	}
	if v.Stages[0].Progress != 1 || v.Stages[2].Progress != 1 || v.Stages[3].Progress != 0 {
		t.Fatalf("unexpected stage completion %+v", v.Stages)
	}
	if v.EstimatedRemainingSec == nil || *v.EstimatedRemainingSec <= 0 {
		t.Fatalf("expected an ETA, got %v", v.EstimatedRemainingSec)
	}
	if _, err := e.svc.Progress(ctx, "owner-2", job.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found for another owner, got %v", err)
	}
}

func TestAuthorizeArtifactScopesRefsToOwner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for _, ref := range []string{"uploads/owner-1/mine.mp4", "uploads/owner-2/theirs.mp4"} {
		if err := e.store.Put(ctx, ref, strings.NewReader("video"), -1); err != nil {
			t.Fatalf("put %s: %v", ref, err)
		}
	}
	job, err := e.svc.Submit(ctx, "owner-1", service.SubmitRequest{
		VideoRef: "uploads/in.mp4", TargetLanguages: []string{"es"}, Project: noConsent(),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	allowed := []string{"uploads/in.mp4", "uploads/owner-1/mine.mp4"}
	for _, ref := range allowed {
		if err := e.svc.AuthorizeArtifact(ctx, "owner-1", job.ProjectID, ref); err != nil {
			t.Fatalf("%s should be allowed: %v", ref, err)
		}
	}
	denied := []string{"uploads/owner-2/theirs.mp4", "uploads/owner-1/../owner-2/theirs.mp4", "dubbed/es.mp4"}
	for _, ref := range denied {
		if err := e.svc.AuthorizeArtifact(ctx, "owner-1", job.ProjectID, ref); !errors.Is(err, models.ErrNotFound) {
			t.Fatalf("%s should be rejected, got %v", ref, err)
		}
	}
	if err := e.svc.AuthorizeArtifact(ctx, "owner-2", job.ProjectID, "uploads/owner-2/theirs.mp4"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("another owner's project should be not found, got %v", err)
	}

	if _, err := models.MutateJob(e.db, job.ID, func(j *models.Job) error {
		if err := j.Start(e.clock.Now()); err != nil {
			return err
		}
		return j.Complete(models.JobOutputs{"es": {VideoRef: "dubbed/es.mp4"}}, nil, e.clock.Now())
	}); err != nil {
		t.Fatalf("complete job: %v", err)
	}
	if err := e.svc.AuthorizeArtifact(ctx, "owner-1", job.ProjectID, "dubbed/es.mp4"); err != nil {
		t.Fatalf("job output should be allowed: %v", err)
	}
}
