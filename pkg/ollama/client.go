// Package ollama implements the grading adapter for a local Ollama server.
// It is an optional, self-hosted fallback; the API key argument is accepted
// for interface symmetry and ignored.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"GradeLane/pkg/provider"
)

const defaultBaseURL = "http://127.0.0.1:11434"

// Config carries adapter settings.
type Config struct {
	BaseURL string // optional, defaults to the local daemon
	Model   string
	Timeout time.Duration
}

// Client calls the Ollama generate endpoint.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// New creates an Ollama client.
func New(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama: model is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		baseURL:    baseURL,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name implements provider.Grader.
func (c *Client) Name() string { return provider.NameOllama }

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int64  `json:"prompt_eval_count"`
	EvalCount       int64  `json:"eval_count"`
}

// GradeDocument implements provider.Grader. The local model grades from the
// extracted text like the OpenAI fallback does.
func (c *Client) GradeDocument(ctx context.Context, _ string, req *provider.GradeRequest) (*provider.GradeResponse, error) {
	if req.ParsedText == "" {
		return nil, &provider.APIError{
			Provider: provider.NameOllama,
			Message:  "document has no extracted text to grade",
		}
	}

	payload := &generateRequest{
		Model:  c.model,
		Prompt: provider.BuildPrompt(req) + "\n\nDocument content:\n" + req.ParsedText,
		Stream: false,
		Format: "json",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("ollama: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, &provider.APIError{
			Provider:   provider.NameOllama,
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	}

	var genResp generateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}

	result, err := provider.ParseResultText(genResp.Response)
	if err != nil {
		result = provider.FallbackResult(req, err)
	}

	return &provider.GradeResponse{
		Result: result,
		Usage: provider.Usage{
			Model:            c.model,
			PromptTokens:     genResp.PromptEvalCount,
			CompletionTokens: genResp.EvalCount,
			TotalTokens:      genResp.PromptEvalCount + genResp.EvalCount,
		},
	}, nil
}
