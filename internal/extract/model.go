package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/formscan/permit-ocr-service/internal/ai"
	"github.com/formscan/permit-ocr-service/internal/schema"
)

// Model delegates extraction to a generative model. The response is returned
// verbatim and must be validated by the caller.
type Model struct {
	provider ai.Provider
	opts     ai.Options
}

// NewModel creates a model strategy over provider.
func NewModel(provider ai.Provider, opts ai.Options) *Model {
	return &Model{provider: provider, opts: opts}
}

func (m *Model) Name() string { return "model:" + m.provider.Name() }

// Extract builds the prompt and returns the raw response.
func (m *Model) Extract(ctx context.Context, text string, s *schema.Schema) (Output, error) {
	resp, err := m.provider.Generate(ctx, BuildPrompt(text, s), m.opts)
	if err != nil {
		return Output{}, err
	}
	return Output{Response: resp}, nil
}

// BuildPrompt embeds the text and the expected JSON shape of s.
func BuildPrompt(text string, s *schema.Schema) string {
	var shape strings.Builder
	writeShape(&shape, s.Fields(), 1)

	return fmt.Sprintf(`You are an expert at reading scanned work-permit and identity forms written in Arabic and English. The text below was produced by OCR and is noisy.

## FIELDS TO EXTRACT

Return ONLY valid JSON (no markdown, no comments) with exactly these keys:
{
%s}

## RULES
1. Use null when a value cannot be read. NEVER invent data.
2. Dates use DD/MM/YYYY.
3. Skill fields are "Yes" or "No" only. Use "No" when the form does not mark the skill.
4. Keep Arabic values in Arabic script. Do not translate or transliterate names.
5. Numbers (age, height, weight) contain digits only, without units.
6. Do not add keys that are not listed above.

OCR text:
%s`, shape.String(), text)
}

func writeShape(b *strings.Builder, fields []schema.Field, depth int) {
	indent := strings.Repeat("  ", depth)
	for i, f := range fields {
		sep := ","
		if i == len(fields)-1 {
			sep = ""
		}
		switch f.Kind {
		case schema.KindGroup:
			fmt.Fprintf(b, "%s%q: {\n", indent, f.Name)
			writeShape(b, f.Fields, depth+1)
			fmt.Fprintf(b, "%s}%s\n", indent, sep)
		case schema.KindYesNo:
			fmt.Fprintf(b, "%s%q: \"Yes or No\"%s\n", indent, f.Name, sep)
		default:
			hint := f.Description
			if hint == "" {
				hint = string(f.Kind)
			}
			fmt.Fprintf(b, "%s%q: %q%s\n", indent, f.Name, hint, sep)
		}
	}
}
