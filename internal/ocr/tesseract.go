package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/formscan/permit-ocr-service/internal/models"
)

// ErrOCR marks a failed text extraction.
var ErrOCR = errors.New("ocr failed")

// Engine turns an image file into text. language is a tesseract language
// hint such as "ara+eng"; empty means the engine default.
type Engine interface {
	ExtractText(ctx context.Context, imagePath, language string) (string, error)
}

// TesseractOCR runs the tesseract CLI. The number of concurrent processes is
// bounded by a weighted semaphore.
type TesseractOCR struct {
	binary   string
	language string
	timeout  time.Duration
	sem      *semaphore.Weighted
}

// NewTesseractOCR creates a new Tesseract OCR engine
func NewTesseractOCR(cfg models.OCRConfig) *TesseractOCR {
	binary := cfg.Binary
	if binary == "" {
		binary = "tesseract"
	}
	language := cfg.Language
	if language == "" {
		language = "ara+eng"
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &TesseractOCR{
		binary:   binary,
		language: language,
		timeout:  timeout,
		sem:      semaphore.NewWeighted(maxConcurrent),
	}
}

// ExtractText performs OCR on the image at imagePath
func (t *TesseractOCR) ExtractText(ctx context.Context, imagePath, language string) (string, error) {
	if language == "" {
		language = t.language
	}

	if err := t.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("%w: waiting for OCR slot: %w", ErrOCR, err)
	}
	defer t.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.binary, imagePath, "stdout", "-l", language)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: tesseract: %w - %s", ErrOCR, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Version returns the first line of `tesseract --version`.
func (t *TesseractOCR) Version(ctx context.Context) (string, error) {
	output, err := exec.CommandContext(ctx, t.binary, "--version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tesseract not found or not executable: %w", err)
	}
	version := "unknown"
	if lines := strings.Split(string(output), "\n"); len(lines) > 0 {
		version = strings.TrimSpace(lines[0])
	}
	return version, nil
}
