package models

// ProcessRequest represents the optional form fields of an upload
type ProcessRequest struct {
	Mode     string `json:"mode"`     // "pattern", "model", "model_with_fallback"
	Provider string `json:"provider"` // "openai", "gemini", "ollama"
	Language string `json:"language"` // OCR language hint (default: "ara+eng")
}

// ExtractTextRequest is the JSON body of /api/extract-text
type ExtractTextRequest struct {
	Text     string `json:"text"`
	Mode     string `json:"mode,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// ErrorResponse is returned on unrecoverable failures
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Durations reports processing time in seconds
type Durations struct {
	OCR     float64 `json:"ocr,omitempty"`
	Extract float64 `json:"extract"`
	Total   float64 `json:"total"`
}
