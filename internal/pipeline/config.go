package pipeline

import (
	"github.com/formscan/permit-ocr-service/internal/models"
)

// ConfigFrom converts the YAML pipeline section.
func ConfigFrom(c models.PipelineConfig) (Config, error) {
	mode, err := ParseMode(c.Mode)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Mode:         mode,
		ModelTimeout: c.ModelTimeout,
		Reconcile:    c.Reconcile,
		Normalize:    c.Normalize,
	}, nil
}
