package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/thermalspool/internal/api/handlers"
	"github.com/orrn/thermalspool/internal/archive"
	"github.com/orrn/thermalspool/internal/config"
	"github.com/orrn/thermalspool/internal/core"
	"github.com/orrn/thermalspool/internal/db"
	"github.com/orrn/thermalspool/internal/webhook"
)

type nopPrinter struct{}

func (nopPrinter) Print(ctx context.Context, job *core.PrintJob) error { return nil }

type fixture struct {
	router  *gin.Engine
	queue   *core.Queue
	status  *core.Status
	history *db.HistoryOperations
}

func newFixture(t *testing.T, withHistory bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		queue:  core.NewQueue(nopPrinter{}, time.Hour),
		status: core.NewStatus("usb"),
	}
	deps := Deps{
		Queue:          f.queue,
		Status:         f.status,
		MaxUploadBytes: 1024,
	}

	if withHistory {
		dir := t.TempDir()
		conn, err := db.Open(filepath.Join(dir, "history.db"))
		if err != nil {
			t.Fatalf("db.Open: %v", err)
		}
		t.Cleanup(func() { conn.Close() })

		archiver, err := archive.NewArchiver(conn, archive.ArchiveConfig{ArchivePath: filepath.Join(dir, "archives")})
		if err != nil {
			t.Fatalf("NewArchiver: %v", err)
		}
		f.history = &db.HistoryOperations{DB: conn}
		deps.History = f.history
		deps.Counters = &db.CounterOperations{DB: conn}
		deps.Archiver = archiver
		deps.ArchiveLog = &db.ArchiveOperations{DB: conn}
	}

	router, err := NewRouter(deps)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	f.router = router
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

type part struct {
	field, filename string
	data            []byte
}

func multipartRequest(t *testing.T, fields map[string]string, files ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	for _, p := range files {
		fw, err := mw.CreateFormFile(p.field, p.filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write(p.data)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/print", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func smallPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 0
	}
	img.SetGray(1, 1, color.Gray{Y: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestIndexPage(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got=%d want=200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `action="/print"`) {
		t.Fatalf("form missing from page")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("request id header missing")
	}
}

func TestSubmitTextJob(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(multipartRequest(t, map[string]string{"name": " Ann ", "text": "Hi"}))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: got=%d want=202 body=%s", w.Code, w.Body)
	}

	var resp handlers.SubmitJobResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID == "" || resp.Position != 1 {
		t.Fatalf("response: got=%+v", resp)
	}

	job := f.queue.DrainOne()
	if job == nil || job.ID != resp.ID || job.Name != "Ann" || job.Text != "Hi" || job.Image != nil {
		t.Fatalf("queued job: got=%+v", job)
	}
	if job.SubmittedBy == "" {
		t.Fatalf("client ip not recorded")
	}
}

func TestSubmitEmptyJobPrintsPlaceholder(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(multipartRequest(t, map[string]string{"name": "Ann"}))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: got=%d want=202", w.Code)
	}
	job := f.queue.DrainOne()
	if job == nil || job.Text != core.BlankPrint {
		t.Fatalf("queued job: got=%+v", job)
	}
}

func TestSubmitURLEncodedForm(t *testing.T) {
	f := newFixture(t, false)
	req := httptest.NewRequest(http.MethodPost, "/print", strings.NewReader("text=hello"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := f.do(req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: got=%d want=202 body=%s", w.Code, w.Body)
	}
	if job := f.queue.DrainOne(); job == nil || job.Text != "hello" {
		t.Fatalf("queued job: got=%+v", job)
	}
}

func TestSubmitImage(t *testing.T) {
	f := newFixture(t, false)
	data := smallPNG(t)
	w := f.do(multipartRequest(t, nil, part{"image", "dot.png", data}))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: got=%d want=202 body=%s", w.Code, w.Body)
	}

	job := f.queue.DrainOne()
	if job == nil || job.Image == nil {
		t.Fatalf("image not queued: %+v", job)
	}
	if job.Image.MimeType != "image/png" || job.Image.Filename != "dot.png" || !bytes.Equal(job.Image.Data, data) {
		t.Fatalf("attachment: mime=%s name=%s len=%d", job.Image.MimeType, job.Image.Filename, len(job.Image.Data))
	}
	if job.Text != "" {
		t.Fatalf("image job must not get placeholder text: %q", job.Text)
	}
}

func TestSubmitRejectsBadImages(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"not an image", []byte("plain text, not a picture")},
		{"too large", append(smallPNG(t), make([]byte, 2048)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			w := f.do(multipartRequest(t, map[string]string{"text": "x"}, part{"image", "upload.bin", tt.data}))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status: got=%d want=400", w.Code)
			}
			if f.queue.Len() != 0 {
				t.Fatalf("rejected job was queued")
			}
		})
	}
}

func TestSubmitHTMLAcknowledgement(t *testing.T) {
	f := newFixture(t, false)
	f.queue.Enqueue(&core.PrintJob{Text: "ahead"})

	req := multipartRequest(t, map[string]string{"text": "Hi"})
	req.Header.Set("Accept", "text/html")
	w := f.do(req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: got=%d want=202", w.Code)
	}
	if !strings.Contains(w.Body.String(), "number 2 in line") {
		t.Fatalf("html body: %s", w.Body)
	}
}

func TestQueueAndPrinterStatus(t *testing.T) {
	f := newFixture(t, false)
	f.queue.Enqueue(&core.PrintJob{Text: "a"})
	f.status.SetConnected(true)
	f.status.RecordSuccess(time.Now())

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/queue", nil))
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != `{"pending":1}` {
		t.Fatalf("queue: code=%d body=%s", w.Code, w.Body)
	}

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/printer", nil))
	var status handlers.PrinterStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Transport != "usb" || !status.Connected || status.Printed != 1 || status.Pending != 1 {
		t.Fatalf("printer status: got=%+v", status)
	}
}

func TestTestPrintIsQueued(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(httptest.NewRequest(http.MethodPost, "/api/printer/test", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: got=%d want=202", w.Code)
	}
	if job := f.queue.DrainOne(); job == nil || job.Name == "" {
		t.Fatalf("test job not queued: %+v", job)
	}
}

func TestHistoryDisabled(t *testing.T) {
	f := newFixture(t, false)
	for _, path := range []string{"/api/jobs", "/api/stats"} {
		w := f.do(httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: got=%d want=503", path, w.Code)
		}
	}
	w := f.do(httptest.NewRequest(http.MethodGet, "/api/archives", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("archives without archiver: got=%d want=404", w.Code)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	now := time.Now()
	for i, status := range []string{db.StatusCompleted, db.StatusFailed, db.StatusCompleted} {
		r := &db.PrintRecord{
			JobID:       string(rune('a' + i)),
			Status:      status,
			Transport:   "usb",
			SubmittedAt: now,
			FinishedAt:  now.Add(time.Duration(i) * time.Second),
		}
		if err := f.history.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/jobs?limit=2", nil))
	var jobs handlers.ListJobsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("decode jobs: %v body=%s", err, w.Body)
	}
	if jobs.Count != 2 || jobs.Jobs[0].JobID != "c" {
		t.Fatalf("jobs: got=%+v", jobs)
	}

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/jobs?status=failed", nil))
	if err := json.Unmarshal(w.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	if jobs.Count != 1 || jobs.Jobs[0].JobID != "b" {
		t.Fatalf("failed jobs: got=%+v", jobs)
	}

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/jobs?limit=500", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("oversized limit: got=%d want=400", w.Code)
	}

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/stats?days=1", nil))
	var stats handlers.StatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 3 || stats.Completed != 2 || stats.Failed != 1 {
		t.Fatalf("stats: got=%+v", stats)
	}

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/archives", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("archives: got=%d want=200", w.Code)
	}
	w = f.do(httptest.NewRequest(http.MethodPost, "/api/archives/run", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"archived":0`) {
		t.Fatalf("archive run: code=%d body=%s", w.Code, w.Body)
	}
}

func TestWebhookEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var hits atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("X-Webhook-Event") != "test" || r.Header.Get("X-Webhook-Signature") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	sender := webhook.NewWebhookSender(webhook.WebhookConfig{
		Endpoints: []webhook.Endpoint{{URL: hook.URL, Secret: "k", Events: []string{"job_failed"}}},
	})
	router, err := NewRouter(Deps{
		Queue:          core.NewQueue(nopPrinter{}, time.Hour),
		Status:         core.NewStatus("network"),
		MaxUploadBytes: 1024,
		Webhooks:       sender,
		Config:         config.Default(),
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/webhooks", nil))
	var list []handlers.WebhookResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].URL != hook.URL || !list[0].HasSecret {
		t.Fatalf("webhooks: got=%+v", list)
	}
	if strings.Contains(w.Body.String(), `"k"`) {
		t.Fatalf("secret leaked: %s", w.Body)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/webhooks/0/test", nil))
	var result handlers.TestWebhookResponse
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.Success || hits.Load() != 1 {
		t.Fatalf("test delivery: got=%+v hits=%d", result, hits.Load())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/webhooks/3/test", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown endpoint: got=%d want=404", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	var settings handlers.ServerConfigResponse
	if err := json.Unmarshal(w.Body.Bytes(), &settings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if settings.QueueInterval != "8s" || settings.DotWidth != 576 {
		t.Fatalf("settings: got=%+v", settings)
	}
}
