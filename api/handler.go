package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/formscan/permit-ocr-service/internal/ai"
	"github.com/formscan/permit-ocr-service/internal/db"
	"github.com/formscan/permit-ocr-service/internal/diag"
	"github.com/formscan/permit-ocr-service/internal/extract"
	"github.com/formscan/permit-ocr-service/internal/models"
	"github.com/formscan/permit-ocr-service/internal/pipeline"
	"github.com/formscan/permit-ocr-service/internal/schema"
)

const Version = "1.0.0"

// RunStore is the audit log used by the handlers.
type RunStore interface {
	SaveRun(ctx context.Context, run *db.Run) error
	ListRuns(ctx context.Context, limit int) ([]db.Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (*db.Run, error)
	Ping(ctx context.Context) error
}

// VersionChecker reports the OCR engine version for /health.
type VersionChecker interface {
	Version(ctx context.Context) (string, error)
}

// Deps are the process-wide collaborators created in main.
type Deps struct {
	Pipeline  *pipeline.Pipeline
	Providers map[string]ai.Provider
	OCR       VersionChecker
	Store     RunStore // nil disables the audit log
	Logger    *slog.Logger
}

// Handler handles HTTP requests for form processing
type Handler struct {
	config    *models.Config
	pipeline  *pipeline.Pipeline
	providers map[string]ai.Provider
	aiOpts    ai.Options
	ocr       VersionChecker
	store     RunStore
	log       *slog.Logger

	limiters sync.Map // client IP -> *rate.Limiter
}

// NewHandler creates a new API handler
func NewHandler(config *models.Config, deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config:    config,
		pipeline:  deps.Pipeline,
		providers: deps.Providers,
		aiOpts: ai.Options{
			Temperature: config.AI.Temperature,
			MaxTokens:   config.AI.MaxTokens,
		},
		ocr:   deps.OCR,
		store: deps.Store,
		log:   logger,
	}
}

// SetupRoutes configures the HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(h.withRecovery, h.withLogging)

	// Main endpoints
	router.HandleFunc("/api/process-form", h.withRateLimit(h.ProcessForm)).Methods("POST")
	router.HandleFunc("/api/extract-text", h.withRateLimit(h.ExtractText)).Methods("POST")

	// Aliases kept for existing clients
	router.HandleFunc("/predict", h.withRateLimit(h.ProcessForm)).Methods("POST")
	router.HandleFunc("/upload/", h.withRateLimit(h.ProcessForm)).Methods("POST")

	// Audit log
	router.HandleFunc("/api/runs", h.ListRuns).Methods("GET")
	router.HandleFunc("/api/runs/{id}", h.GetRun).Methods("GET")

	// Health check
	router.HandleFunc("/health", h.Health).Methods("GET")
	router.HandleFunc("/", h.Index).Methods("GET")

	return router
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Memory    MemoryStats       `json:"memory"`
	Tesseract ServiceStatus     `json:"tesseract"`
	Database  ServiceStatus     `json:"database"`
	Pipeline  map[string]string `json:"pipeline"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	Allocated string `json:"allocated"`
	Total     string `json:"total"`
	System    string `json:"system"`
}

// ServiceStatus represents the status of a service dependency
type ServiceStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

var startTime = time.Now()

// Health endpoint - enhanced for monitoring
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	// Memory statistics
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	tesseractStatus := h.checkTesseract(r.Context())

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Memory: MemoryStats{
			Allocated: fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
			Total:     fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/1024/1024),
			System:    fmt.Sprintf("%.2f MB", float64(m.Sys)/1024/1024),
		},
		Tesseract: tesseractStatus,
		Database:  h.checkDatabase(r.Context()),
		Pipeline: map[string]string{
			"mode":            string(h.pipeline.Mode()),
			"defaultProvider": h.config.AI.DefaultProvider,
			"providers":       strings.Join(h.providerNames(), ","),
			"ocrEngine":       h.config.OCR.Engine,
		},
	}

	// Without OCR only /api/extract-text works
	if !tesseractStatus.Available {
		response.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

// checkTesseract verifies Tesseract OCR is available
func (h *Handler) checkTesseract(ctx context.Context) ServiceStatus {
	if h.ocr == nil {
		return ServiceStatus{Available: false, Error: "OCR engine not configured"}
	}
	version, err := h.ocr.Version(ctx)
	if err != nil {
		return ServiceStatus{Available: false, Error: err.Error()}
	}
	return ServiceStatus{Available: true, Version: version}
}

// checkDatabase verifies PostgreSQL connection
func (h *Handler) checkDatabase(ctx context.Context) ServiceStatus {
	if h.store == nil {
		return ServiceStatus{Available: false, Error: "audit log disabled"}
	}
	if err := h.store.Ping(ctx); err != nil {
		return ServiceStatus{Available: false, Error: err.Error()}
	}
	return ServiceStatus{Available: true, Version: "PostgreSQL"}
}

func (h *Handler) providerNames() []string {
	names := make([]string, 0, len(h.providers))
	for name := range h.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Index is the service banner.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"service": "Permit form OCR service",
		"version": Version,
		"endpoints": []string{
			"POST /api/process-form",
			"POST /api/extract-text",
			"GET  /api/runs",
			"GET  /api/runs/{id}",
			"GET  /health",
		},
	})
}

// ProcessResponse is the success body of the processing endpoints.
type ProcessResponse struct {
	Success bool `json:"success"`
	*pipeline.Result
	Durations models.Durations `json:"durations"`
}

// ProcessForm handles an uploaded form image
func (h *Handler) ProcessForm(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	maxBytes := h.config.MaxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		h.sendError(w, http.StatusBadRequest, "File too large or invalid form data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	// Get file - accept both "file" and "image" field names
	file, header, err := r.FormFile("file")
	if err != nil {
		file, header, err = r.FormFile("image")
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "No file provided (use 'file' or 'image' field)")
			return
		}
	}
	defer file.Close()

	if header.Filename == "" {
		h.sendError(w, http.StatusBadRequest, "No selected file")
		return
	}

	form := models.ProcessRequest{
		Mode:     r.FormValue("mode"),
		Provider: r.FormValue("provider"),
		Language: r.FormValue("language"),
	}
	req, err := h.buildRequest(form.Mode, form.Provider)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Language = form.Language
	if req.Language == "" {
		req.Language = h.config.OCR.Language
	}
	w.Header().Set("X-Request-ID", req.ID)

	path, err := h.saveTemp(file, header)
	if err != nil {
		h.log.Error("api.upload.save", "request_id", req.ID, "error", err)
		h.sendError(w, http.StatusInternalServerError, "Failed to store upload")
		return
	}
	defer h.removeTemp(path)

	result, err := h.pipeline.ProcessImage(r.Context(), path, req)
	h.audit(r.Context(), "image", req, result, err)
	if err != nil {
		h.sendFailure(w, req.ID, err)
		return
	}
	h.sendResult(w, result)
}

// ExtractText handles already extracted OCR text, as JSON or text/plain
func (h *Handler) ExtractText(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadMB<<20)

	var body models.ExtractTextRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/plain") {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "Failed to read body")
			return
		}
		body.Text = string(data)
		body.Mode = r.URL.Query().Get("mode")
		body.Provider = r.URL.Query().Get("provider")
	} else if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.sendError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if strings.TrimSpace(body.Text) == "" {
		h.sendError(w, http.StatusBadRequest, "text is required")
		return
	}

	req, err := h.buildRequest(body.Mode, body.Provider)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("X-Request-ID", req.ID)

	result, err := h.pipeline.Run(r.Context(), body.Text, req)
	h.audit(r.Context(), "text", req, result, err)
	if err != nil {
		h.sendFailure(w, req.ID, err)
		return
	}
	h.sendResult(w, result)
}

// buildRequest applies the per-request mode and provider overrides.
func (h *Handler) buildRequest(mode, provider string) (pipeline.Request, error) {
	req := pipeline.Request{ID: uuid.NewString()}
	if mode != "" {
		m, err := pipeline.ParseMode(mode)
		if err != nil {
			return req, err
		}
		req.Mode = m
	}
	if provider != "" {
		p, ok := h.providers[provider]
		if !ok {
			return req, fmt.Errorf("AI provider %q is not configured", provider)
		}
		req.Model = extract.NewModel(p, h.aiOpts)
	}
	return req, nil
}

func (h *Handler) saveTemp(file multipart.File, header *multipart.FileHeader) (string, error) {
	path := filepath.Join(h.config.UploadDir, uuid.NewString()+strings.ToLower(filepath.Ext(header.Filename)))
	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	return path, nil
}

func (h *Handler) removeTemp(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		h.log.Warn("api.upload.remove", "path", path, "error", err)
	}
}

// audit records run metadata; failures are logged, never returned.
func (h *Handler) audit(ctx context.Context, source string, req pipeline.Request, res *pipeline.Result, runErr error) {
	if h.store == nil {
		return
	}
	run := &db.Run{
		RequestID: req.ID,
		Source:    source,
		Mode:      string(req.Mode),
		Status:    "complete",
	}
	if run.Mode == "" {
		run.Mode = string(h.pipeline.Mode())
	}
	var failure *pipeline.Failure
	if errors.As(runErr, &failure) {
		run.Status = "failed"
		run.FailureKind = string(failure.Kind)
	}
	if res != nil {
		run.Mode = string(res.Mode)
		run.Strategy = res.Strategy
		run.Diagnostics = len(res.Diagnostics)
		run.UnknownFields = len(schema.UnknownFields(res.Data, h.pipeline.Schema()))
		run.UsedFallback = res.RegexFallback != nil
		run.OCRMillis = res.OCRTime.Milliseconds()
		run.ExtractMillis = res.ExtractTime.Milliseconds()
		run.TotalMillis = res.TotalTime.Milliseconds()
	}
	if err := h.store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		h.log.Warn("api.audit.save", "request_id", req.ID, "error", err)
	}
}

func (h *Handler) sendResult(w http.ResponseWriter, res *pipeline.Result) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(ProcessResponse{
		Success: true,
		Result:  res,
		Durations: models.Durations{
			OCR:     res.OCRTime.Seconds(),
			Extract: res.ExtractTime.Seconds(),
			Total:   res.TotalTime.Seconds(),
		},
	})
}

// sendFailure maps a pipeline failure to its status code.
func (h *Handler) sendFailure(w http.ResponseWriter, requestID string, err error) {
	status := http.StatusInternalServerError
	kind := ""
	var failure *pipeline.Failure
	if errors.As(err, &failure) {
		kind = string(failure.Kind)
		switch failure.Kind {
		case diag.BackendUnavailable:
			status = http.StatusBadGateway
		case diag.BackendTimeout:
			status = http.StatusGatewayTimeout
		}
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error:     err.Error(),
		Kind:      kind,
		RequestID: requestID,
	})
}

// sendError sends an error response
func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
