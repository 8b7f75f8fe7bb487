package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ZacxDev/clip-composer/internal/config"
	"github.com/ZacxDev/clip-composer/internal/processor"
	"github.com/ZacxDev/clip-composer/internal/storage"
	"github.com/ZacxDev/clip-composer/pkg/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type fakeComposer struct {
	mu      sync.Mutex
	err     error
	block   chan struct{}
	started chan struct{}
	calls   []processor.Request
	missing []string
}

func (f *fakeComposer) Process(ctx context.Context, req *processor.Request) (*processor.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, *req)
	for _, p := range append([]string{req.Hook, req.Body, req.CTA}, req.Brolls...) {
		if _, err := os.Stat(p); err != nil {
			f.missing = append(f.missing, p)
		}
	}
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	if err := os.WriteFile(req.OutputPath, []byte("rendered:"+req.Hook), 0644); err != nil {
		return nil, err
	}
	return &processor.Result{OutputPath: req.OutputPath, Duration: 12}, nil
}

type testEnv struct {
	cfg      *config.Config
	composer *fakeComposer
	handler  http.Handler
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := &config.Config{
		WorkDir:           t.TempDir(),
		MaxUploadBytes:    config.DefaultMaxUploadBytes,
		MaxConcurrentJobs: 2,
		CORSOrigins:       []string{"https://studio.example.com"},
	}
	if mutate != nil {
		mutate(cfg)
	}
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	composer := &fakeComposer{}
	srv := New(cfg, composer, store, zap.NewNop())
	return &testEnv{cfg: cfg, composer: composer, handler: srv.Router()}
}

type upload struct {
	field, filename, content string
}

func multipartBody(t *testing.T, files []upload, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(part, f.content); err != nil {
			t.Fatal(err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf, mw.FormDataContentType()
}

func requiredUploads() []upload {
	return []upload{
		{"hook", "hook.mov", "hook-bytes"},
		{"body", "body.mp4", "body-bytes"},
		{"cta", "cta", "cta-bytes"},
	}
}

func (e *testEnv) post(t *testing.T, ctx context.Context, files []upload, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, files, fields)
	req := httptest.NewRequest(http.MethodPost, "/generate", body).WithContext(ctx)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

var downloadURL = regexp.MustCompile(`^/download/[0-9a-f-]{36}\.mp4$`)

func TestGenerateAndDownload(t *testing.T) {
	env := newTestEnv(t, nil)

	files := append(requiredUploads(),
		upload{"overlays", "logo.png", "png"},
		upload{"brolls", "a.mp4", "a"},
		upload{"brolls", "b.webm", "b"},
		upload{"music", "track.wav", "wav"},
	)
	rec := env.post(t, context.Background(), files, map[string]string{"platform": "tiktok"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp types.GenerateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !downloadURL.MatchString(resp.DownloadURL) {
		t.Fatalf("unexpected download url %q", resp.DownloadURL)
	}

	call := env.composer.calls[0]
	if len(env.composer.missing) != 0 {
		t.Fatalf("uploads were not on disk during composition: %v", env.composer.missing)
	}
	if len(call.Brolls) != 2 || call.Overlay == "" || call.Music == "" || call.Platform != "tiktok" {
		t.Fatalf("optional uploads not forwarded: %+v", call)
	}
	if !strings.HasSuffix(call.Hook, "hook.mov") || !strings.HasSuffix(call.CTA, "cta.mp4") {
		t.Fatalf("unexpected saved names %s, %s", call.Hook, call.CTA)
	}

	entries, err := os.ReadDir(env.cfg.WorkDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("request work directory should be removed, found %d entries", len(entries))
	}

	dl := env.get(resp.DownloadURL)
	if dl.Code != http.StatusOK {
		t.Fatalf("download status = %d", dl.Code)
	}
	if cd := dl.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment") {
		t.Fatalf("expected attachment, got %q", cd)
	}
	if !strings.HasPrefix(dl.Body.String(), "rendered:") {
		t.Fatalf("unexpected download body %q", dl.Body.String())
	}
}

func TestGenerateMissingRequiredClip(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.post(t, context.Background(), requiredUploads()[:2], nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != msgMissingClip {
		t.Fatalf("unexpected body %q", got)
	}
	if len(env.composer.calls) != 0 {
		t.Fatalf("composer must not run without required clips")
	}
}

func TestGenerateErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &processor.Error{Kind: processor.KindValidation, Asset: "platform", Err: errors.New("unsupported platform")}, http.StatusBadRequest},
		{"decode", &processor.Error{Kind: processor.KindDecode, Asset: "body", Err: errors.New("moov atom not found")}, http.StatusUnprocessableEntity},
		{"composition", &processor.Error{Kind: processor.KindComposition, Asset: "overlay", Err: errors.New("bad size")}, http.StatusInternalServerError},
		{"encode", &processor.Error{Kind: processor.KindEncode, Err: errors.New("disk full")}, http.StatusInternalServerError},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.composer.err = tt.err

			rec := env.post(t, context.Background(), requiredUploads(), nil)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestGenerateOutputsAreUnique(t *testing.T) {
	env := newTestEnv(t, nil)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		rec := env.post(t, context.Background(), requiredUploads(), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp types.GenerateResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if seen[resp.DownloadURL] {
			t.Fatalf("download url %s reused", resp.DownloadURL)
		}
		seen[resp.DownloadURL] = true
	}
}

func TestGenerateRejectsOversizedUpload(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.MaxUploadBytes = 1024 })

	files := requiredUploads()
	files[1].content = strings.Repeat("x", 4096)
	rec := env.post(t, context.Background(), files, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if len(env.composer.calls) != 0 {
		t.Fatalf("composer must not run for oversized uploads")
	}
}

func TestGenerateBusy(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.MaxConcurrentJobs = 1 })
	env.composer.block = make(chan struct{})
	env.composer.started = make(chan struct{}, 1)

	done := make(chan int, 1)
	go func() {
		done <- env.post(t, context.Background(), requiredUploads(), nil).Code
	}()
	<-env.composer.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rec := env.post(t, ctx, requiredUploads(), nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	close(env.composer.block)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("first request status = %d", code)
	}
}

func TestDownloadNotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/download/missing.mp4", "/download/..%2F..%2Fetc%2Fpasswd", "/download/.env"} {
		rec := env.get(path)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: status = %d, want 404", path, rec.Code)
		}
		if got := strings.TrimSpace(rec.Body.String()); got != msgNotFound {
			t.Fatalf("%s: unexpected body %q", path, got)
		}
	}
}

func TestIndexAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get("/")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `action="/generate"`) {
		t.Fatalf("unexpected landing page: %d", rec.Code)
	}

	rec = env.get("/healthz")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response: %d %s", rec.Code, rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/generate", nil)
	req.Header.Set("Origin", "https://studio.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://studio.example.com" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
}
