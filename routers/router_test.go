package routers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"DubbingPlatform-server/ledger"
	"DubbingPlatform-server/routers"
	"DubbingPlatform-server/routers/api"
	"DubbingPlatform-server/service"
	"DubbingPlatform-server/storage"
	"DubbingPlatform-server/testsupport"

	"github.com/gin-gonic/gin"
)

type recordingQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *recordingQueue) Enqueue(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, jobID)
	return nil
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

type harness struct {
	engine *gin.Engine
	queue  *recordingQueue
	store  storage.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := testsupport.Config(t)
	db := testsupport.OpenDB(t)
	store, err := storage.NewLocalStore(cfg.Storage.LocalDir, "http://files.test")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.Put(context.Background(), "uploads/in.mp4", strings.NewReader("video"), -1); err != nil {
		t.Fatalf("put: %v", err)
	}
	clock := testsupport.NewClock()
	l := ledger.New(db, store, cfg.Ethics, ledger.WithClock(clock))
	q := &recordingQueue{}
	svc := service.NewJobService(db, store, l, q, cfg, clock, nil)
	h := api.NewHandler(svc, l, store, nil)
	return &harness{engine: routers.InitRouter(h, ""), queue: q, store: store}
}

func (h *harness) do(t *testing.T, method, path, owner string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(api.OwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	out := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func field(t *testing.T, m map[string]interface{}, path ...string) interface{} {
	t.Helper()
	var cur interface{} = m
	for _, p := range path {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			t.Fatalf("no object at %q in %v", p, m)
		}
		cur = obj[p]
	}
	return cur
}

func submitBody() map[string]interface{} {
	return map[string]interface{}{
		"videoRef":        "uploads/in.mp4",
		"sourceLanguage":  "en",
		"targetLanguages": []string{"es", "fr"},
	}
}

func TestMissingOwnerIsUnauthorized(t *testing.T) {
	h := newHarness(t)
	rec, _ := h.do(t, http.MethodGet, "/v1/api/jobs", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSubmitWithoutConsentThenStart(t *testing.T) {
	h := newHarness(t)

	rec, body := h.do(t, http.MethodPost, "/v1/api/jobs", "alice", submitBody())
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without consent, got %d: %s", rec.Code, rec.Body)
	}
	jobID := field(t, body, "job", "id").(string)
	projectID := field(t, body, "job", "projectId").(string)
	if field(t, body, "job", "status") != "pending" {
		t.Fatalf("expected pending job, got %v", field(t, body, "job", "status"))
	}
	if h.queue.count() != 0 {
		t.Fatal("job must not be enqueued before consent")
	}

	rec, body = h.do(t, http.MethodPost, "/v1/api/projects/"+projectID+"/consents", "alice", map[string]interface{}{
		"consentType": "voice",
		"subjectName": "Narrator",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create consent: %d %s", rec.Code, rec.Body)
	}
	consentID := field(t, body, "consent", "id").(string)

	rec, _ = h.do(t, http.MethodPost, "/v1/api/projects/"+projectID+"/consents/"+consentID+"/grant", "alice",
		map[string]string{"documentRef": "docs/release.pdf"})
	if rec.Code != http.StatusOK {
		t.Fatalf("grant: %d %s", rec.Code, rec.Body)
	}

	rec, _ = h.do(t, http.MethodPost, "/v1/api/jobs/"+jobID+"/start", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body)
	}
	if h.queue.count() != 1 {
		t.Fatalf("expected one enqueued job, got %d", h.queue.count())
	}

	rec, body = h.do(t, http.MethodGet, "/v1/api/projects/"+projectID+"/compliance", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard: %d %s", rec.Code, rec.Body)
	}
	if field(t, body, "consentStatus", "activeConsents").(float64) != 1 {
		t.Fatalf("expected one active consent, got %v", body["consentStatus"])
	}
}

func TestOwnerScopingHidesOtherUsersJobs(t *testing.T) {
	h := newHarness(t)
	_, body := h.do(t, http.MethodPost, "/v1/api/jobs", "alice", submitBody())
	jobID := field(t, body, "job", "id").(string)
	projectID := field(t, body, "job", "projectId").(string)

	for _, path := range []string{
		"/v1/api/jobs/" + jobID,
		"/v1/api/jobs/" + jobID + "/progress",
		"/v1/api/projects/" + projectID,
		"/v1/api/projects/" + projectID + "/consents",
	} {
		rec, _ := h.do(t, http.MethodGet, path, "mallory", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404 for another owner, got %d", path, rec.Code)
		}
	}
}

func TestErrorStatusMapping(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{"unsupported language", map[string]interface{}{"videoRef": "uploads/in.mp4", "sourceLanguage": "en", "targetLanguages": []string{"xx"}}, http.StatusUnprocessableEntity},
		{"source in targets", map[string]interface{}{"videoRef": "uploads/in.mp4", "sourceLanguage": "en", "targetLanguages": []string{"en"}}, http.StatusUnprocessableEntity},
		{"missing video", map[string]interface{}{"videoRef": "uploads/none.mp4", "sourceLanguage": "en", "targetLanguages": []string{"es"}}, http.StatusUnprocessableEntity},
		{"unknown project", map[string]interface{}{"projectId": "nope", "videoRef": "uploads/in.mp4"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := h.do(t, http.MethodPost, "/v1/api/jobs", "alice", tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %v", tc.want, rec.Code, body)
			}
		})
	}

	rec, _ := h.do(t, http.MethodGet, "/v1/api/jobs?status=bogus", "alice", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad status filter, got %d", rec.Code)
	}
}

func TestCancelTwiceConflicts(t *testing.T) {
	h := newHarness(t)
	_, body := h.do(t, http.MethodPost, "/v1/api/jobs", "alice", submitBody())
	jobID := field(t, body, "job", "id").(string)

	rec, body := h.do(t, http.MethodPost, "/v1/api/jobs/"+jobID+"/cancel", "alice", nil)
	if rec.Code != http.StatusOK || field(t, body, "job", "status") != "cancelled" {
		t.Fatalf("cancel: %d %v", rec.Code, body)
	}
	rec, _ = h.do(t, http.MethodPost, "/v1/api/jobs/"+jobID+"/cancel", "alice", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second cancel, got %d", rec.Code)
	}
	rec, _ = h.do(t, http.MethodPost, "/v1/api/jobs/"+jobID+"/retry", "alice", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 retrying a cancelled job, got %d", rec.Code)
	}
}

func TestUploadStoresVideo(t *testing.T) {
	h := newHarness(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "clip.mp4")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = fw.Write([]byte("frames"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(api.OwnerHeader, "alice")
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body)
	}
	var out struct {
		VideoRef string `json:"videoRef"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(out.VideoRef, "uploads/alice/") {
		t.Fatalf("unexpected ref %q", out.VideoRef)
	}
	ok, err := h.store.Exists(context.Background(), out.VideoRef)
	if err != nil || !ok {
		t.Fatalf("uploaded object missing: %v", err)
	}
}

func TestLedgerRejectsForeignArtifacts(t *testing.T) {
	h := newHarness(t)
	if err := h.store.Put(context.Background(), "uploads/bob/private.mp4", strings.NewReader("bob"), -1); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, body := h.do(t, http.MethodPost, "/v1/api/jobs", "alice", submitBody())
	projectID := field(t, body, "job", "projectId").(string)

	rec, _ := h.do(t, http.MethodPost, "/v1/api/projects/"+projectID+"/watermarks", "alice",
		map[string]string{"artifactRef": "uploads/bob/private.mp4"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("watermarking another owner's upload: expected 404, got %d", rec.Code)
	}
	rec, _ = h.do(t, http.MethodPost, "/v1/api/projects/"+projectID+"/provenance", "alice",
		map[string]string{"artifactRef": "uploads/bob/private.mp4"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("recording provenance for another owner's upload: expected 404, got %d", rec.Code)
	}

	rec, _ = h.do(t, http.MethodPost, "/v1/api/projects/"+projectID+"/watermarks", "alice",
		map[string]string{"artifactRef": "uploads/in.mp4"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("watermarking the job input: expected 201, got %d: %s", rec.Code, rec.Body)
	}
}
