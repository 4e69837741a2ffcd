package diag

import "fmt"

// Kind classifies a diagnostic or a request failure.
type Kind string

const (
	// Request-level failures
	OcrError           Kind = "OcrError"
	BackendUnavailable Kind = "BackendUnavailable"
	BackendTimeout     Kind = "BackendTimeout"

	// Response validation, always recoverable
	NoJSONFound   Kind = "NoJsonFound"
	MalformedJSON Kind = "MalformedJson"
	NotAnObject   Kind = "NotAnObject"

	// Warnings
	JSONRepaired    Kind = "JsonRepaired"
	UnknownField    Kind = "UnknownField"
	DuplicateField  Kind = "DuplicateField"
	UnexpectedShape Kind = "UnexpectedShape"
	SchemaViolation Kind = "SchemaViolation"
)

// Diagnostic is a single warning or absorbed error attached to a result.
type Diagnostic struct {
	Kind    Kind   `json:"kind"`
	Stage   string `json:"stage,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Field != "" {
		return fmt.Sprintf("%s [%s] %s: %s", d.Kind, d.Stage, d.Field, d.Message)
	}
	return fmt.Sprintf("%s [%s] %s", d.Kind, d.Stage, d.Message)
}

// List accumulates diagnostics for one stage.
type List []Diagnostic

// Add appends a diagnostic.
func (l *List) Add(kind Kind, stage, field, format string, args ...any) {
	*l = append(*l, Diagnostic{
		Kind:    kind,
		Stage:   stage,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}

// Has reports whether any diagnostic of the given kind is present.
func (l List) Has(kind Kind) bool {
	for _, d := range l {
		if d.Kind == kind {
			return true
		}
	}
	return false
}
