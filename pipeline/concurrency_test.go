package pipeline_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"DubbingPlatform-server/models"
	"DubbingPlatform-server/stages"
)

// inFlight tracks the peak number of overlapping calls.
type inFlight struct {
	cur  atomic.Int64
	peak atomic.Int64
}

func (f *inFlight) hook(ctx context.Context, _ stages.SynthesisRequest) error {
	n := f.cur.Add(1)
	defer f.cur.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-time.After(30 * time.Millisecond):
	case <-ctx.Done():
	}
	return nil
}

func (h *harness) seedUnconsented(t *testing.T, projectID, jobID string, langs ...string) *models.Job {
	t.Helper()
	now := h.clock.Now()
	p := &models.Project{
		ID:              projectID,
		OwnerID:         "owner-1",
		Status:          models.ProjectStatusDraft,
		SourceLanguage:  "en",
		TargetLanguages: langs,
		TargetLSEC:      h.cfg.Quality.TargetLSEC,
		TargetFID:       h.cfg.Quality.TargetFID,
		TargetBLEU:      h.cfg.Quality.TargetBLEU,
		CreatedAt:       now,
	}
	j := models.NewJob(jobID, p.ID, p.OwnerID, models.JobParameters{
		VideoRef:        "uploads/in.mp4",
		SourceLanguage:  "en",
		TargetLanguages: langs,
	}, now)
	if err := models.CreateProjectWithJob(h.db, p, j); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return j
}

func TestFanOutRespectsPerJobLimit(t *testing.T) {
	h := newHarness(t)
	h.cfg.Pipeline.PerJobConcurrency = 2
	h.cfg.Pipeline.MaxConcurrentCalls = 8
	var flight inFlight
	h.fake.OnSynthesize = flight.hook

	job := h.seedUnconsented(t, "proj-a", "job-a", "es", "fr", "de", "it")
	got, err := h.orchestrator(h.fake.Set()).Run(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed, got %s: %s", got.Status, got.ErrorMessage)
	}
	if n := len(h.fake.Calls(stages.StageSynthesis)); n != 4 {
		t.Fatalf("expected 4 synthesis calls, got %d", n)
	}
	if peak := flight.peak.Load(); peak > 2 {
		t.Fatalf("per-job limit exceeded: %d concurrent synthesis calls", peak)
	}
}

func TestExternalCallLimitSpansJobs(t *testing.T) {
	h := newHarness(t)
	h.cfg.Pipeline.PerJobConcurrency = 4
	h.cfg.Pipeline.MaxConcurrentCalls = 3
	var flight inFlight
	h.fake.OnSynthesize = flight.hook

	jobs := []*models.Job{
		h.seedUnconsented(t, "proj-a", "job-a", "es", "fr", "de", "it"),
		h.seedUnconsented(t, "proj-b", "job-b", "pt", "ru", "ja", "ko"),
	}
	// One orchestrator owns the process wide call semaphore.
	orch := h.orchestrator(h.fake.Set())

	var wg sync.WaitGroup
	results := make([]*models.Job, len(jobs))
	errs := make([]error, len(jobs))
	for i, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = orch.Run(context.Background(), j.ID)
		}()
	}
	wg.Wait()

	for i := range jobs {
		if errs[i] != nil {
			t.Fatalf("Run %s: %v", jobs[i].ID, errs[i])
		}
		if results[i].Status != models.JobStatusCompleted {
			t.Fatalf("%s: expected completed, got %s: %s", jobs[i].ID, results[i].Status, results[i].ErrorMessage)
		}
	}
	if n := len(h.fake.Calls(stages.StageSynthesis)); n != 8 {
		t.Fatalf("expected 8 synthesis calls, got %d", n)
	}
	if peak := flight.peak.Load(); peak > 3 {
		t.Fatalf("process wide call limit exceeded: %d concurrent calls", peak)
	}
}
