package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"act-relay/app/logger"
	"act-relay/app/model"
	"act-relay/app/service"
	"act-relay/app/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

type fakeJobs struct {
	submitted []string
	jobs      map[string]*model.Job
}

func (f *fakeJobs) Submit(ctx context.Context, character, reference service.Upload) (*model.Job, error) {
	data, _ := io.ReadAll(character.Reader)
	f.submitted = append(f.submitted, fmt.Sprintf("%s:%d", character.Filename, len(data)))
	return model.NewJob("11111111-2222-3333-4444-555555555555", "c.mp4", "r.mp4", time.Now()), nil
}

func (f *fakeJobs) Get(ctx context.Context, id string) (*model.Job, error) {
	if job, ok := f.jobs[id]; ok {
		return job, nil
	}
	return nil, store.ErrJobNotFound
}

type part struct {
	field, filename, contentType string
	size                         int
}

func multipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, p.field, p.filename))
		h.Set("Content-Type", p.contentType)
		pw, err := w.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		pw.Write(bytes.Repeat([]byte("v"), p.size))
	}
	w.Close()
	return body, w.FormDataContentType()
}

func setupRouter(t *testing.T, jobs JobService, uploadDir string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewJobHandler(jobs, 4096, logger.NewFromZap(zaptest.NewLogger(t)))
	media := NewMediaHandler(uploadDir)

	r := gin.New()
	r.POST("/api/upload", h.Upload)
	r.POST("/api/validate-videos", h.ValidateVideos)
	r.GET("/api/jobs/:job_id", h.GetJob)
	r.GET("/serve/:filename", media.Serve)
	r.GET("/health", Health)
	r.GET("/", Root)
	return r
}

func post(r *gin.Engine, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestUploadCreatesJob(t *testing.T) {
	jobs := &fakeJobs{}
	r := setupRouter(t, jobs, t.TempDir())

	body, ct := multipartBody(t,
		part{FieldCharacterFile, "me.mp4", "video/mp4", 2048},
		part{FieldReferenceFile, "ref.mp4", "video/mp4", 2048},
	)
	w := post(r, "/api/upload", body, ct)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["status"] != "processing" || out["job_id"] != "11111111-2222-3333-4444-555555555555" {
		t.Errorf("response = %v", out)
	}
	if len(jobs.submitted) != 1 || jobs.submitted[0] != "me.mp4:2048" {
		t.Errorf("submitted = %v", jobs.submitted)
	}
}

func TestUploadRejections(t *testing.T) {
	cases := []struct {
		name  string
		parts []part
		want  string
	}{
		{
			name: "character not a video",
			parts: []part{
				{FieldCharacterFile, "me.png", "image/png", 10},
				{FieldReferenceFile, "ref.mp4", "video/mp4", 10},
			},
			want: "Character file must be a video",
		},
		{
			name: "reference too large",
			parts: []part{
				{FieldCharacterFile, "me.mp4", "video/mp4", 10},
				{FieldReferenceFile, "ref.mp4", "video/mp4", 5000},
			},
			want: "Reference file too large",
		},
		{
			name: "missing reference",
			parts: []part{
				{FieldCharacterFile, "me.mp4", "video/mp4", 10},
			},
			want: "reference_file is required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			jobs := &fakeJobs{}
			r := setupRouter(t, jobs, t.TempDir())

			body, ct := multipartBody(t, tc.parts...)
			w := post(r, "/api/upload", body, ct)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			out := decode(t, w)
			if out["message"] != tc.want || out["code"] != float64(400) {
				t.Errorf("response = %v", out)
			}
			if len(jobs.submitted) != 0 {
				t.Error("no job should be created")
			}
		})
	}
}

func TestValidateVideos(t *testing.T) {
	r := setupRouter(t, &fakeJobs{}, t.TempDir())

	body, ct := multipartBody(t,
		part{FieldCharacterFile, "me.txt", "text/plain", 10},
		part{FieldReferenceFile, "ref.mp4", "video/mp4", 5000},
	)
	out := decode(t, post(r, "/api/validate-videos", body, ct))
	issues, _ := out["issues"].([]any)
	if out["valid"] != false || len(issues) != 2 {
		t.Errorf("response = %v", out)
	}

	body, ct = multipartBody(t,
		part{FieldCharacterFile, "me.mp4", "video/mp4", 10},
		part{FieldReferenceFile, "ref.webm", "video/webm", 10},
	)
	out = decode(t, post(r, "/api/validate-videos", body, ct))
	guidance, _ := out["guidance"].(map[string]any)
	if out["valid"] != true || guidance["requirements"] == nil || guidance["tips"] == nil {
		t.Errorf("response = %v", out)
	}
}

func TestGetJob(t *testing.T) {
	job := model.NewJob("11111111-2222-3333-4444-555555555555", "c.mp4", "r.mp4", time.Now())
	r := setupRouter(t, &fakeJobs{jobs: map[string]*model.Job{job.ID: job}}, t.TempDir())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	out := decode(t, w)
	if out["id"] != job.ID || out["status"] != "processing" {
		t.Errorf("response = %v", out)
	}
	if _, ok := out["output_file"]; ok {
		t.Error("output_file should be omitted while processing")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/jobs/does-not-exist", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if out := decode(t, w); out["message"] != "Job not found" {
		t.Errorf("response = %v", out)
	}
}

func TestServe(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "job_character.webm"), []byte("webm-bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	r := setupRouter(t, &fakeJobs{}, dir)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/serve/job_character.webm", nil))
	if w.Code != http.StatusOK || w.Body.String() != "webm-bytes" {
		t.Fatalf("status = %d, body = %q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "video/webm" {
		t.Errorf("content type = %q", ct)
	}

	for _, name := range []string{"missing.mp4", "..%2Fsecret.mp4", "%2E%2E"} {
		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/serve/"+name, nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", name, w.Code)
		}
	}
}

func TestHealthAndRoot(t *testing.T) {
	r := setupRouter(t, &fakeJobs{}, t.TempDir())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if out := decode(t, w); out["status"] != "healthy" {
		t.Errorf("health = %v", out)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if out := decode(t, w); !strings.HasSuffix(out["message"].(string), "is running") {
		t.Errorf("root = %v", out)
	}
}
