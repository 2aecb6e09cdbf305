// Package gemini implements the grading adapter for the Google Gemini
// generateContent REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"GradeLane/pkg/provider"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Config carries adapter settings.
type Config struct {
	BaseURL  string // optional, defaults to the public endpoint
	Model    string
	ProxyURL string
	Timeout  time.Duration
}

// Client calls the Gemini generateContent endpoint. The API key travels per
// call so one client serves the whole rotating key pool.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// New 创建 Gemini 客户端（API key 按请求传入，支持多 key 轮换）
func New(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini: model is required")
	}

	httpClient, err := provider.NewHTTPClient(cfg.ProxyURL, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
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
func (c *Client) Name() string { return provider.NameGemini }

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature      float64         `json:"temperature"`
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
		TotalTokenCount      int64 `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// gradingSchema constrains the model's JSON output to the result shape.
var gradingSchema = json.RawMessage(`{
	"type": "OBJECT",
	"properties": {
		"totalScore": {"type": "NUMBER"},
		"maxScore": {"type": "NUMBER"},
		"breakdown": {
			"type": "ARRAY",
			"items": {
				"type": "OBJECT",
				"properties": {
					"criteriaId": {"type": "STRING"},
					"name": {"type": "STRING"},
					"score": {"type": "NUMBER"},
					"feedback": {"type": "STRING"}
				},
				"required": ["criteriaId", "name", "score", "feedback"]
			}
		},
		"overallFeedback": {"type": "STRING"}
	},
	"required": ["totalScore", "maxScore", "breakdown", "overallFeedback"]
}`)

// GradeDocument implements provider.Grader.
func (c *Client) GradeDocument(ctx context.Context, apiKey string, req *provider.GradeRequest) (*provider.GradeResponse, error) {
	payload := &generateRequest{
		Contents: []content{{
			Parts: []part{
				{Text: provider.BuildPrompt(req)},
				{InlineData: &inlineData{
					MimeType: req.MimeType,
					Data:     base64.StdEncoding.EncodeToString(req.FileBytes),
				}},
			},
		}},
		GenerationConfig: &generationConfig{
			Temperature:      0.2,
			ResponseMimeType: "application/json",
			ResponseSchema:   gradingSchema,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &provider.APIError{
			Provider:   provider.NameGemini,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
		}
	}

	var genResp generateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}

	text := candidateText(&genResp)
	if text == "" {
		return nil, &provider.APIError{
			Provider: provider.NameGemini,
			Message:  "response contained no candidate text",
		}
	}

	result, err := provider.ParseResultText(text)
	if err != nil {
		// Undecodable output is not an API failure; hand back a sentinel
		// result so the caller retries instead of throttling the key.
		result = provider.FallbackResult(req, err)
	}

	return &provider.GradeResponse{
		Result: result,
		Usage: provider.Usage{
			Model:            c.model,
			PromptTokens:     genResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: genResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      genResp.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func candidateText(resp *generateResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.Text != "" {
			return p.Text
		}
	}
	return ""
}

// errorMessage extracts the API error message, falling back to the raw body.
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
