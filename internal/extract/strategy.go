// Package extract proposes field values from normalized form text.
package extract

import (
	"context"

	"github.com/formscan/permit-ocr-service/internal/schema"
)

// Output is what a strategy produced: a candidate mapping (pattern strategy)
// or the verbatim model response (model strategy). Exactly one is set.
type Output struct {
	Candidate schema.Record
	Response  string
}

// IsCandidate reports whether the output is already a mapping.
func (o Output) IsCandidate() bool {
	return o.Candidate != nil
}

// Strategy is a field extraction backend.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, text string, s *schema.Schema) (Output, error)
}
