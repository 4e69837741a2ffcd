package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formscan/permit-ocr-service/internal/ai"
	"github.com/formscan/permit-ocr-service/internal/db"
	"github.com/formscan/permit-ocr-service/internal/models"
	"github.com/formscan/permit-ocr-service/internal/ocr"
	"github.com/formscan/permit-ocr-service/internal/pipeline"
	"github.com/formscan/permit-ocr-service/internal/schema"
)

const formText = "Full Name: AHMED ALI\nAge: 30\nCooking: Yes"

type fakeEngine struct {
	text    string
	err     error
	version string

	mu      sync.Mutex
	path    string
	existed bool
}

func (f *fakeEngine) ExtractText(_ context.Context, imagePath, _ string) (string, error) {
	_, statErr := os.Stat(imagePath)
	f.mu.Lock()
	f.path = imagePath
	f.existed = statErr == nil
	f.mu.Unlock()
	return f.text, f.err
}

func (f *fakeEngine) Version(context.Context) (string, error) {
	if f.version == "" {
		return "", errors.New("tesseract not found")
	}
	return f.version, nil
}

type fakeProvider struct {
	response string
	err      error
	block    bool
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Generate(ctx context.Context, _ string, _ ai.Options) (string, error) {
	if p.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return p.response, p.err
}

func (p *fakeProvider) Close() error { return nil }

type memStore struct {
	mu      sync.Mutex
	runs    []db.Run
	pingErr error
}

func (s *memStore) SaveRun(_ context.Context, run *db.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.ID = uuid.New()
	run.CreatedAt = time.Now()
	s.runs = append(s.runs, *run)
	return nil
}

func (s *memStore) ListRuns(_ context.Context, limit int) ([]db.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.runs) {
		limit = len(s.runs)
	}
	return append([]db.Run(nil), s.runs[:limit]...), nil
}

func (s *memStore) GetRun(_ context.Context, id uuid.UUID) (*db.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == id {
			run := s.runs[i]
			return &run, nil
		}
	}
	return nil, db.ErrRunNotFound
}

func (s *memStore) Ping(context.Context) error { return s.pingErr }

type testEnv struct {
	router http.Handler
	engine *fakeEngine
	store  *memStore
	config *models.Config
}

type envOption func(*models.Config, *Deps)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	config := &models.Config{
		UploadDir:   t.TempDir(),
		MaxUploadMB: 1,
		RateLimit:   models.RateLimitConfig{Every: time.Minute, Burst: 100},
		OCR:         models.OCRConfig{Engine: "tesseract", Language: "ara+eng"},
	}
	engine := &fakeEngine{text: formText, version: "tesseract 5.3.0"}
	store := &memStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pipe, err := pipeline.New(schema.Permit(), pipeline.Config{Mode: pipeline.ModePattern, ModelTimeout: 20 * time.Millisecond},
		pipeline.WithOCR(engine), pipeline.WithLogger(logger))
	require.NoError(t, err)

	deps := Deps{
		Pipeline: pipe,
		Providers: map[string]ai.Provider{
			"slow": &fakeProvider{block: true},
			"down": &fakeProvider{err: fmt.Errorf("fake: %w", ai.ErrUnavailable)},
			"echo": &fakeProvider{response: `{"Full Name": "Sara", "Age": 25}`},
		},
		OCR:    engine,
		Store:  store,
		Logger: logger,
	}
	for _, opt := range opts {
		opt(config, &deps)
	}
	return &testEnv{
		router: NewHandler(config, deps).SetupRoutes(),
		engine: engine,
		store:  store,
		config: config,
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, path, field, filename string, values map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		part.Write([]byte("\x89PNG fake image"))
	}
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestProcessForm(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(uploadRequest(t, "/api/process-form", "file", "Form.PNG", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "pattern", body["strategy"])
	assert.Equal(t, rec.Header().Get("X-Request-ID"), body["request_id"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "Ahmed Ali", data["FullName"])
	assert.Nil(t, data["Nationality"])
	assert.Equal(t, map[string]any{"Cooking": "Yes", "Cleaning": "No", "BabySitting": "No"}, data["Skills"])

	assert.True(t, env.engine.existed, "upload is on disk while OCR runs")
	assert.True(t, strings.HasSuffix(env.engine.path, ".png"))
	_, err := os.Stat(env.engine.path)
	assert.True(t, os.IsNotExist(err), "upload is removed after the request")

	require.Len(t, env.store.runs, 1)
	run := env.store.runs[0]
	assert.Equal(t, "image", run.Source)
	assert.Equal(t, "complete", run.Status)
	assert.Equal(t, "pattern", run.Mode)
	assert.Equal(t, 13, run.UnknownFields)
}

func TestProcessFormAliases(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/predict", "/upload/"} {
		rec := env.do(uploadRequest(t, path, "image", "scan.jpg", nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestProcessFormBadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  *http.Request
		msg  string
	}{
		{
			name: "no file",
			req:  uploadRequest(t, "/api/process-form", "", "", map[string]string{"mode": "pattern"}),
			msg:  "No file provided (use 'file' or 'image' field)",
		},
		{
			name: "not multipart",
			req:  httptest.NewRequest(http.MethodPost, "/api/process-form", strings.NewReader("x")),
			msg:  "File too large or invalid form data",
		},
		{
			name: "unknown mode",
			req:  uploadRequest(t, "/api/process-form", "file", "a.png", map[string]string{"mode": "regex"}),
			msg:  `unknown pipeline mode "regex"`,
		},
		{
			name: "unknown provider",
			req:  uploadRequest(t, "/api/process-form", "file", "a.png", map[string]string{"provider": "claude"}),
			msg:  `AI provider "claude" is not configured`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.msg, decodeBody(t, rec)["error"])
		})
	}
	assert.Empty(t, env.store.runs)
}

func TestProcessFormTooLarge(t *testing.T) {
	env := newTestEnv(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "big.png")
	require.NoError(t, err)
	part.Write(bytes.Repeat([]byte{'x'}, 2<<20))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/process-form", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := env.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessFormOCRFailure(t *testing.T) {
	env := newTestEnv(t)
	env.engine.err = fmt.Errorf("%w: tesseract exited 1", ocr.ErrOCR)

	rec := env.do(uploadRequest(t, "/api/process-form", "file", "a.png", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "OcrError", body["kind"])
	assert.NotEmpty(t, body["request_id"])

	require.Len(t, env.store.runs, 1)
	assert.Equal(t, "failed", env.store.runs[0].Status)
	assert.Equal(t, "OcrError", env.store.runs[0].FailureKind)
}

func TestExtractText(t *testing.T) {
	env := newTestEnv(t)

	t.Run("json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/extract-text", strings.NewReader(`{"text": "Age: 41"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := env.do(req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "41", decodeBody(t, rec)["data"].(map[string]any)["Age"])
	})

	t.Run("plain text with provider", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/extract-text?mode=model&provider=echo", strings.NewReader(formText))
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
		rec := env.do(req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		body := decodeBody(t, rec)
		assert.Equal(t, "model:fake", body["strategy"])
		assert.Equal(t, "model", body["mode"])
		data := body["data"].(map[string]any)
		assert.Equal(t, "Sara", data["FullName"])
		assert.Equal(t, "25", data["Age"])
	})

	t.Run("fallback fills in when the model is down", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/extract-text",
			strings.NewReader(`{"text": "Age: 30", "mode": "model_with_fallback", "provider": "down"}`))
		rec := env.do(req)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, "30", body["data"].(map[string]any)["Age"])
		assert.NotNil(t, body["regex_fallback"])
		assert.NotEmpty(t, body["diagnostics"])
	})

	t.Run("bad input", func(t *testing.T) {
		rec := env.do(httptest.NewRequest(http.MethodPost, "/api/extract-text", strings.NewReader(`{"text": `)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid JSON body", decodeBody(t, rec)["error"])

		rec = env.do(httptest.NewRequest(http.MethodPost, "/api/extract-text", strings.NewReader(`{"text": "  "}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "text is required", decodeBody(t, rec)["error"])
	})
}

func TestExtractTextBackendFailures(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		provider string
		status   int
		kind     string
	}{
		{provider: "slow", status: http.StatusGatewayTimeout, kind: "BackendTimeout"},
		{provider: "down", status: http.StatusBadGateway, kind: "BackendUnavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			payload := fmt.Sprintf(`{"text": %q, "mode": "model", "provider": %q}`, formText, tt.provider)
			rec := env.do(httptest.NewRequest(http.MethodPost, "/api/extract-text", strings.NewReader(payload)))
			assert.Equal(t, tt.status, rec.Code)

			body := decodeBody(t, rec)
			assert.Equal(t, tt.kind, body["kind"])
			assert.Nil(t, body["data"], "no partial record")
		})
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *models.Config, _ *Deps) {
		c.RateLimit = models.RateLimitConfig{Every: time.Hour, Burst: 1}
	})

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/extract-text", strings.NewReader(`{"text": "Age: 1"}`))
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		return env.do(req)
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.5").Code)
	rec := send("203.0.113.5")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, send("203.0.113.6").Code, "limits are per client")
}

func TestRuns(t *testing.T) {
	env := newTestEnv(t)
	env.do(httptest.NewRequest(http.MethodPost, "/api/extract-text", strings.NewReader(`{"text": "Age: 30"}`)))
	require.Len(t, env.store.runs, 1)
	id := env.store.runs[0].ID

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/runs?limit=500", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["count"])

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/runs/"+id.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	run := decodeBody(t, rec)["run"].(map[string]any)
	assert.Equal(t, "text", run["source"])
	assert.Equal(t, "complete", run["status"])

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/runs/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/runs/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunsWithoutStore(t *testing.T) {
	env := newTestEnv(t, func(_ *models.Config, d *Deps) { d.Store = nil })

	for _, path := range []string{"/api/runs", "/api/runs/" + uuid.NewString()} {
		rec := env.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "database not available", decodeBody(t, rec)["error"])
	}

	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/extract-text", strings.NewReader(`{"text": "Age: 30"}`)))
	assert.Equal(t, http.StatusOK, rec.Code, "processing works without the audit log")
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "tesseract 5.3.0", health.Tesseract.Version)
	assert.True(t, health.Database.Available)
	assert.Equal(t, "pattern", health.Pipeline["mode"])
	assert.Equal(t, "down,echo,slow", health.Pipeline["providers"])

	env.engine.version = ""
	env.store.pingErr = errors.New("connection refused")
	rec = env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health.Status)
	assert.False(t, health.Database.Available)
}

func TestIndex(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Version, decodeBody(t, rec)["version"])
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4321"
	assert.Equal(t, "192.0.2.1", getClientIP(req))

	req.Header.Set("X-Real-IP", " 198.51.100.7 ")
	assert.Equal(t, "198.51.100.7", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", getClientIP(req))
}
