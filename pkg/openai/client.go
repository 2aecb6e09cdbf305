// Package openai implements the grading adapter for the OpenAI chat
// completions API. It grades from the document's extracted text, which
// makes it the fallback when Gemini's multimodal path is exhausted.
package openai

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

const defaultBaseURL = "https://api.openai.com/v1"

// Config carries adapter settings.
type Config struct {
	BaseURL  string // optional, defaults to api.openai.com
	Model    string
	ProxyURL string
	Timeout  time.Duration
}

// Client calls the chat completions endpoint with a per-call API key.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// New 创建 OpenAI 客户端
func New(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai: model is required")
	}

	httpClient, err := provider.NewHTTPClient(cfg.ProxyURL, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		baseURL:    baseURL,
		model:      cfg.Model,
		httpClient: httpClient,
	}, nil
}

// Name implements provider.Grader.
func (c *Client) Name() string { return provider.NameOpenAI }

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// GradeDocument implements provider.Grader.
func (c *Client) GradeDocument(ctx context.Context, apiKey string, req *provider.GradeRequest) (*provider.GradeResponse, error) {
	if req.ParsedText == "" {
		return nil, &provider.APIError{
			Provider: provider.NameOpenAI,
			Message:  "document has no extracted text to grade",
		}
	}

	payload := &chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You grade student documents against rubrics and reply with JSON only."},
			{Role: "user", Content: provider.BuildPrompt(req) + "\n\nDocument content:\n" + req.ParsedText},
		},
		Temperature:    0.2,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &provider.APIError{
			Provider:   provider.NameOpenAI,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
		}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, &provider.APIError{
			Provider: provider.NameOpenAI,
			Message:  "response contained no choices",
		}
	}

	result, err := provider.ParseResultText(chatResp.Choices[0].Message.Content)
	if err != nil {
		result = provider.FallbackResult(req, err)
	}

	return &provider.GradeResponse{
		Result: result,
		Usage: provider.Usage{
			Model:            c.model,
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
	}, nil
}

func errorMessage(body []byte) string {
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return string(body)
}
