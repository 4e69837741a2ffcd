// Package pipeline runs one form through normalization, extraction,
// validation and defaulting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/formscan/permit-ocr-service/internal/ai"
	"github.com/formscan/permit-ocr-service/internal/diag"
	"github.com/formscan/permit-ocr-service/internal/extract"
	"github.com/formscan/permit-ocr-service/internal/normalize"
	"github.com/formscan/permit-ocr-service/internal/ocr"
	"github.com/formscan/permit-ocr-service/internal/schema"
	"github.com/formscan/permit-ocr-service/internal/validate"
)

// Mode selects the extraction strategy.
type Mode string

const (
	ModePattern           Mode = "pattern"
	ModeModel             Mode = "model"
	ModeModelWithFallback Mode = "model_with_fallback"
)

// ParseMode validates a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModePattern, ModeModel, ModeModelWithFallback:
		return m, nil
	}
	return "", fmt.Errorf("unknown pipeline mode %q", s)
}

func (m Mode) usesModel() bool {
	return m == ModeModel || m == ModeModelWithFallback
}

// State is a step of the per-request state machine.
type State string

const (
	StateReceived      State = "Received"
	StateTextExtracted State = "TextExtracted"
	StateExtracting    State = "Extracting"
	StateValidating    State = "Validating"
	StateDefaulting    State = "Defaulting"
	StateComplete      State = "Complete"
	StateFailed        State = "Failed"
)

// Failure terminates a request. Kind is OcrError, BackendUnavailable or
// BackendTimeout; State is where the request was when it failed.
type Failure struct {
	Kind  diag.Kind
	State State
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s during %s: %v", f.Kind, f.State, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Config holds the pipeline settings.
type Config struct {
	Mode         Mode
	ModelTimeout time.Duration
	// Reconcile fills unknown model fields from the pattern result.
	Reconcile bool
	Normalize normalize.Options
}

// Pipeline is safe for concurrent use; requests share only the schema.
type Pipeline struct {
	schema  *schema.Schema
	cfg     Config
	pattern extract.Strategy
	model   extract.Strategy
	ocr     ocr.Engine
	log     *slog.Logger
}

type Option func(*Pipeline)

// WithModel sets the default model strategy.
func WithModel(m extract.Strategy) Option { return func(p *Pipeline) { p.model = m } }

// WithPattern replaces the pattern strategy.
func WithPattern(s extract.Strategy) Option { return func(p *Pipeline) { p.pattern = s } }

// WithOCR sets the engine used by ProcessImage.
func WithOCR(e ocr.Engine) Option { return func(p *Pipeline) { p.ocr = e } }

func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.log = l } }

// New creates a pipeline over s.
func New(s *schema.Schema, cfg Config, opts ...Option) (*Pipeline, error) {
	if s == nil {
		return nil, errors.New("pipeline: nil schema")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModePattern
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}

	p := &Pipeline{schema: s, cfg: cfg, log: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.pattern == nil {
		pattern := extract.NewPattern(p.log)
		if err := pattern.Prepare(s); err != nil {
			p.log.Warn("pipeline.pattern.labels", "error", err)
		}
		p.pattern = pattern
	}
	if cfg.Mode.usesModel() && p.model == nil {
		return nil, fmt.Errorf("pipeline: mode %s requires a model backend", cfg.Mode)
	}
	return p, nil
}

// Schema returns the field schema shared by every request.
func (p *Pipeline) Schema() *schema.Schema { return p.schema }

// Mode returns the configured default mode.
func (p *Pipeline) Mode() Mode { return p.cfg.Mode }

// Request carries per-request overrides; zero values use the defaults.
type Request struct {
	ID       string
	Mode     Mode
	Language string
	Model    extract.Strategy
}

// Result is the outcome of a completed request.
type Result struct {
	RequestID     string         `json:"request_id"`
	Mode          Mode           `json:"mode"`
	Strategy      string         `json:"strategy"`
	Text          string         `json:"text"`
	Data          schema.Record  `json:"data"`
	Diagnostics   diag.List      `json:"diagnostics,omitempty"`
	RegexFallback schema.Record  `json:"regex_fallback,omitempty"`
	Extras        map[string]any `json:"extras,omitempty"`
	GeneratedText string         `json:"generated_text,omitempty"`

	States      []State       `json:"-"`
	OCRTime     time.Duration `json:"-"`
	ExtractTime time.Duration `json:"-"`
	TotalTime   time.Duration `json:"-"`
}

type run struct {
	res   *Result
	state State
	start time.Time
	log   *slog.Logger
}

func (p *Pipeline) begin(req Request) *run {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	r := &run{
		res:   &Result{RequestID: req.ID},
		start: time.Now(),
		log:   p.log.With("request_id", req.ID),
	}
	r.enter(StateReceived)
	return r
}

func (r *run) enter(s State) {
	r.state = s
	r.res.States = append(r.res.States, s)
	r.log.Debug("pipeline.state", "state", s)
}

func (r *run) fail(kind diag.Kind, err error) error {
	f := &Failure{Kind: kind, State: r.state, Err: err}
	r.enter(StateFailed)
	r.log.Warn("pipeline.failed", "kind", kind, "state", f.State, "error", err)
	return f
}

// Run processes already extracted OCR text. The returned error is a *Failure.
func (p *Pipeline) Run(ctx context.Context, raw string, req Request) (*Result, error) {
	r := p.begin(req)
	r.enter(StateTextExtracted)
	return p.extract(ctx, r, raw, req)
}

// ProcessImage runs OCR on the image at path and processes the text. The
// caller owns the file.
func (p *Pipeline) ProcessImage(ctx context.Context, path string, req Request) (*Result, error) {
	r := p.begin(req)
	if p.ocr == nil {
		return nil, r.fail(diag.OcrError, errors.New("no OCR engine configured"))
	}

	start := time.Now()
	text, err := p.ocr.ExtractText(ctx, path, req.Language)
	r.res.OCRTime = time.Since(start)
	if err != nil {
		return nil, r.fail(diag.OcrError, err)
	}
	r.log.Info("pipeline.ocr.done", "chars", len(text), "duration", r.res.OCRTime)

	r.enter(StateTextExtracted)
	return p.extract(ctx, r, text, req)
}

func (p *Pipeline) extract(ctx context.Context, r *run, raw string, req Request) (*Result, error) {
	res := r.res
	res.Text = normalize.Text(raw, p.cfg.Normalize)

	mode := req.Mode
	if mode == "" {
		mode = p.cfg.Mode
	}
	res.Mode = mode
	model := req.Model
	if model == nil {
		model = p.model
	}
	if mode.usesModel() && model == nil {
		return nil, r.fail(diag.BackendUnavailable, errors.New("no model backend configured"))
	}

	r.enter(StateExtracting)
	start := time.Now()

	var patternOut extract.Output
	if mode != ModeModel {
		// the pattern strategy does not fail
		patternOut, _ = p.pattern.Extract(ctx, res.Text, p.schema)
		res.Strategy = p.pattern.Name()
	}

	var modelOut extract.Output
	var modelErr error
	if mode.usesModel() {
		modelOut, modelErr = p.callModel(ctx, model, res.Text)
		if modelErr != nil {
			kind := backendKind(modelErr)
			if mode == ModeModel {
				res.ExtractTime = time.Since(start)
				return nil, r.fail(kind, modelErr)
			}
			res.Diagnostics.Add(kind, string(StateExtracting), "", "%v; using pattern result", modelErr)
			r.log.Warn("pipeline.model.fallback", "kind", kind, "error", modelErr)
		} else {
			res.Strategy = model.Name()
		}
	}
	res.ExtractTime = time.Since(start)

	r.enter(StateValidating)
	var patternRec schema.Record
	var patternRep validate.Report
	if mode != ModeModel {
		patternRec, patternRep = validate.Candidate(patternOut.Candidate, p.schema)
	}

	var data schema.Record
	modelPartial := false
	if mode.usesModel() && modelErr == nil {
		rec, rep := validate.Response(modelOut.Response, p.schema)
		data = rec
		res.Diagnostics = append(res.Diagnostics, rep.Diagnostics...)
		res.Extras = rep.Extras
		res.GeneratedText = rep.Raw
		modelPartial = rep.Err != nil
	} else {
		data = patternRec
		res.Diagnostics = append(res.Diagnostics, patternRep.Diagnostics...)
		res.Extras = patternRep.Extras
	}

	r.enter(StateDefaulting)
	data = schema.ApplyDefaults(data, p.schema)
	if mode == ModeModelWithFallback {
		patternRec = schema.ApplyDefaults(patternRec, p.schema)
		switch {
		case modelErr != nil:
			res.RegexFallback = patternRec
		case modelPartial || len(schema.UnknownFields(data, p.schema)) > 0:
			res.RegexFallback = patternRec
			if p.cfg.Reconcile {
				data = schema.Fill(data, patternRec, p.schema)
			}
		}
	}
	if err := p.schema.Check(data); err != nil {
		res.Diagnostics.Add(diag.SchemaViolation, string(StateDefaulting), "", "%v", err)
	}
	res.Data = data

	r.enter(StateComplete)
	res.TotalTime = time.Since(r.start)
	r.log.Info("pipeline.complete",
		"mode", mode,
		"strategy", res.Strategy,
		"diagnostics", len(res.Diagnostics),
		"unknown", len(schema.UnknownFields(data, p.schema)),
		"duration", res.TotalTime,
	)
	return res, nil
}

func (p *Pipeline) callModel(ctx context.Context, model extract.Strategy, text string) (extract.Output, error) {
	if p.cfg.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ModelTimeout)
		defer cancel()
	}
	return model.Extract(ctx, text, p.schema)
}

func backendKind(err error) diag.Kind {
	if errors.Is(err, ai.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return diag.BackendTimeout
	}
	return diag.BackendUnavailable
}
