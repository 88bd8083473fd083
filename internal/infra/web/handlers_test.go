package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"intellidoc-pipeline/internal/domain"
	"intellidoc-pipeline/internal/domain/model"
	"intellidoc-pipeline/internal/usecase"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

type fakeJobUC struct {
	submitted usecase.CreateJobParams
	submitErr error
	view      *model.JobStatusView
	viewErr   error
	cancelled *model.Job
	cancelErr error
}

var _ usecase.JobUC = (*fakeJobUC)(nil)

func (f *fakeJobUC) Submit(ctx context.Context, p usecase.CreateJobParams) (*model.Job, error) {
	f.submitted = p
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &model.Job{ID: "job-1", Status: model.JobStatusPending, Stages: []string{"extract"}}, nil
}

func (f *fakeJobUC) GetStatus(ctx context.Context, jobID string) (*model.JobStatusView, error) {
	if f.viewErr != nil {
		return nil, f.viewErr
	}
	return f.view, nil
}

func (f *fakeJobUC) Cancel(ctx context.Context, jobID string) (*model.Job, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return f.cancelled, nil
}

type fakeResultUC struct {
	result    *model.AggregatedResult
	resultErr error
	dlName    string
	dlType    string
	dlData    []byte
	dlErr     error
}

var _ usecase.ResultUC = (*fakeResultUC)(nil)

func (f *fakeResultUC) GetResult(ctx context.Context, jobID string) (*model.AggregatedResult, error) {
	if f.resultErr != nil {
		return nil, f.resultErr
	}
	return f.result, nil
}

func (f *fakeResultUC) Download(ctx context.Context, jobID, format string) (string, string, []byte, error) {
	if f.dlErr != nil {
		return "", "", nil, f.dlErr
	}
	return f.dlName, f.dlType, f.dlData, nil
}

type fakeBatchUC struct {
	items   []usecase.CreateJobParams
	batch   *model.BatchJob
	results []usecase.BatchItemResult
	view    *model.BatchStatusView
	viewErr error
}

var _ usecase.BatchUC = (*fakeBatchUC)(nil)

func (f *fakeBatchUC) Submit(ctx context.Context, items []usecase.CreateJobParams) (*model.BatchJob, []usecase.BatchItemResult, error) {
	f.items = items
	return f.batch, f.results, nil
}

func (f *fakeBatchUC) GetStatus(ctx context.Context, batchID string) (*model.BatchStatusView, error) {
	if f.viewErr != nil {
		return nil, f.viewErr
	}
	return f.view, nil
}

type fakeWebhookUC struct {
	sub *model.WebhookSubscription
	err error
}

var _ usecase.WebhookUC = (*fakeWebhookUC)(nil)

func (f *fakeWebhookUC) Subscribe(ctx context.Context, url string, events []string, secret string) (*model.WebhookSubscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sub, nil
}

type testServer struct {
	jobs    *fakeJobUC
	results *fakeResultUC
	batches *fakeBatchUC
	hooks   *fakeWebhookUC
	handler http.Handler
}

func newTestServer(apiKey string, pingers map[string]Pinger) *testServer {
	ts := &testServer{
		jobs:    &fakeJobUC{},
		results: &fakeResultUC{},
		batches: &fakeBatchUC{},
		hooks:   &fakeWebhookUC{},
	}
	srv := NewServer(ts.jobs, ts.results, ts.batches, ts.hooks, pingers, apiKey, testLogger())
	ts.handler = srv.Router()
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

// multipartBody builds a multipart form with one or more files under the given
// field name. %PDF magic bytes make http.DetectContentType see application/pdf.
func multipartBody(t *testing.T, field string, files map[string][]byte, stages string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		part, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if stages != "" {
		_ = mw.WriteField("stages", stages)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()
	ts := newTestServer("secret-key", nil)
	ts.jobs.view = &model.JobStatusView{JobID: "job-1", Status: model.JobStatusProcessing}

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"malformed", "secret-key", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret-key", http.StatusUnauthorized},
		{"wrong key", "Bearer nope", http.StatusForbidden},
		{"valid", "Bearer secret-key", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if rec := ts.do(t, req); rec.Code != tc.want {
				t.Fatalf("status %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestAuthMiddleware_DisabledWithEmptyKey(t *testing.T) {
	t.Parallel()
	ts := newTestServer("", nil)
	ts.jobs.view = &model.JobStatusView{JobID: "job-1"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1", nil)
	if rec := ts.do(t, req); rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
}

func TestSubmitHandler(t *testing.T) {
	t.Parallel()
	ts := newTestServer("", nil)

	body, contentType := multipartBody(t, "file", map[string][]byte{
		"report.pdf": []byte("%PDF-1.4 test"),
	}, "extract, classify")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", contentType)

	rec := ts.do(t, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var resp submitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.JobID != "job-1" || resp.Status != model.JobStatusPending {
		t.Fatalf("unexpected response: %+v", resp)
	}

	got := ts.jobs.submitted
	if got.Filename != "report.pdf" || got.MimeType != "application/pdf" {
		t.Fatalf("params: %+v", got)
	}
	if len(got.Stages) != 2 || got.Stages[0] != "extract" || got.Stages[1] != "classify" {
		t.Fatalf("stages: %v", got.Stages)
	}
}

func TestSubmitHandler_Errors(t *testing.T) {
	t.Parallel()
	ts := newTestServer("", nil)
	ts.jobs.submitErr = domain.ErrUnsupportedFormat

	body, contentType := multipartBody(t, "file", map[string][]byte{"a.bin": {0x00, 0x01}}, "")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	if rec := ts.do(t, req); rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status %d, want 415", rec.Code)
	}

	// No file part at all.
	empty, ct := multipartBody(t, "other", map[string][]byte{"a.pdf": []byte("%PDF")}, "")
	req = httptest.NewRequest(http.MethodPost, "/api/v1/documents", empty)
	req.Header.Set("Content-Type", ct)
	if rec := ts.do(t, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestSubmitBatchHandler(t *testing.T) {
	t.Parallel()
	ts := newTestServer("", nil)
	ts.batches.batch = &model.BatchJob{ID: "batch-1"}
	ts.batches.results = []usecase.BatchItemResult{
		{Filename: "a.pdf", JobID: "job-a"},
		{Filename: "b.gif", Err: domain.ErrUnsupportedFormat},
	}

	body, contentType := multipartBody(t, "files", map[string][]byte{
		"a.pdf": []byte("%PDF-1.4 a"),
		"b.pdf": []byte("%PDF-1.4 b"),
	}, "")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/batch", body)
	req.Header.Set("Content-Type", contentType)

	rec := ts.do(t, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if len(ts.batches.items) != 2 {
		t.Fatalf("forwarded %d items", len(ts.batches.items))
	}

	var resp struct {
		BatchID string              `json:"batch_id"`
		Jobs    []batchItemResponse `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.BatchID != "batch-1" || len(resp.Jobs) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Jobs[1].Error == "" {
		t.Fatal("per-item error not surfaced")
	}
}

func TestStatusHandler_NotFound(t *testing.T) {
	t.Parallel()
	ts := newTestServer("", nil)
	ts.jobs.viewErr = domain.ErrNotFound

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/missing", nil)
	rec := ts.do(t, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Error == "" {
		t.Fatalf("error body: %q (%v)", rec.Body.String(), err)
	}
}

func TestCancelHandler(t *testing.T) {
	t.Parallel()
	ts := newTestServer("", nil)
	ts.jobs.cancelled = &model.Job{ID: "job-1", Status: model.JobStatusFailed, Reason: domain.ReasonCancelled}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/job-1", nil)
	rec := ts.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != string(model.JobStatusFailed) || resp.Reason != domain.ReasonCancelled {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestResultHandler_NotReady(t *testing.T) {
	t.Parallel()
	ts := newTestServer("", nil)
	ts.results.resultErr = errors.New("wrapped: " + domain.ErrNotReady.Error())

	// An arbitrary error maps to 500; ErrNotReady maps to 409.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/result", nil)
	if rec := ts.do(t, req); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", rec.Code)
	}

	ts.results.resultErr = domain.ErrNotReady
	if rec := ts.do(t, req); rec.Code != http.StatusConflict {
		t.Fatalf("status %d, want 409", rec.Code)
	}
}

func TestDownloadHandler(t *testing.T) {
	t.Parallel()
	ts := newTestServer("", nil)
	ts.results.dlName = "report.json"
	ts.results.dlType = "application/json"
	ts.results.dlData = []byte(`{"job_id":"job-1"}`)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/download/JSON", nil)
	rec := ts.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type: %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="report.json"`) {
		t.Fatalf("content disposition: %q", cd)
	}
	if rec.Body.String() != `{"job_id":"job-1"}` {
		t.Fatalf("body: %q", rec.Body.String())
	}

	ts.results.dlErr = domain.ErrUnsupportedFormat
	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/download/xlsx", nil)
	if rec := ts.do(t, req); rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status %d, want 415", rec.Code)
	}
}

func TestSubscribeHandler(t *testing.T) {
	t.Parallel()
	ts := newTestServer("", nil)
	ts.hooks.sub = &model.WebhookSubscription{
		ID: "sub-1", URL: "https://example.com/hook", Events: []string{model.EventJobCompleted},
	}

	body := strings.NewReader(`{"url":"https://example.com/hook","events":["job.completed"],"secret":"s"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks", body)
	rec := ts.do(t, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	// Garbage body is a 400 before the use case is ever reached.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks", strings.NewReader("{"))
	if rec := ts.do(t, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	t.Parallel()
	ts := newTestServer("key-never-needed-here", map[string]Pinger{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("down") },
	})

	// Health bypasses auth.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := ts.do(t, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", rec.Code)
	}
	var resp struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" || resp.Components["postgres"] != "up" || resp.Components["redis"] != "down" {
		t.Fatalf("unexpected health: %+v", resp)
	}
}
