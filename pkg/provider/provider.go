// Package provider defines the shared contract between the grading engine
// and the LLM provider adapters. Adapters return a normalized response and
// typed API errors; they never touch key-health state themselves.
package provider

import (
	"context"
	"fmt"

	"GradeLane/internal/model"
)

// Well-known provider names.
const (
	NameGemini = "gemini"
	NameOpenAI = "openai"
	NameOllama = "ollama"
)

// GradeRequest carries everything an adapter needs to grade one document.
// FileBytes holds the raw upload for adapters that accept binary input
// (Gemini inline_data); ParsedText holds the extracted text for adapters
// that only take text.
type GradeRequest struct {
	FileBytes  []byte
	MimeType   string
	FileName   string
	ParsedText string
	RubricName string
	Criteria   []model.Criterion
}

// Usage reports token accounting for one successful provider call.
type Usage struct {
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// GradeResponse is the normalized success shape returned by every adapter.
type GradeResponse struct {
	Result *model.GradingResult
	Usage  Usage
}

// Grader is implemented by each vendor adapter.
type Grader interface {
	// Name returns the stable provider name.
	Name() string
	// GradeDocument grades a single document with the given credential.
	// The call is bounded by the adapter's configured timeout in addition
	// to any deadline already on ctx.
	GradeDocument(ctx context.Context, apiKey string, req *GradeRequest) (*GradeResponse, error)
}

// APIError is a failed provider call with enough detail to classify it.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// MaxScore sums the rubric's criterion maxima.
func (r *GradeRequest) MaxScore() float64 {
	var total float64
	for _, c := range r.Criteria {
		total += c.MaxScore
	}
	return total
}
