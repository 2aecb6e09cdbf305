package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GradeLane/internal/model"
	"GradeLane/pkg/provider"
)

func testRequest() *provider.GradeRequest {
	return &provider.GradeRequest{
		FileBytes:  []byte("essay body"),
		MimeType:   "application/pdf",
		FileName:   "essay.pdf",
		RubricName: "Essay Rubric",
		Criteria: []model.Criterion{
			{ID: "c1", Name: "Clarity", MaxScore: 50},
			{ID: "c2", Name: "Structure", MaxScore: 50},
		},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{BaseURL: srv.URL, Model: "gemini-2.5-flash", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return client
}

func TestGradeDocument_Success(t *testing.T) {
	resultJSON := `{"totalScore":82,"maxScore":100,"breakdown":[` +
		`{"criteriaId":"c1","name":"Clarity","score":40,"feedback":"clear thesis throughout"},` +
		`{"criteriaId":"c2","name":"Structure","score":42,"feedback":"well ordered sections"}],` +
		`"overallFeedback":"solid essay overall"}`

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get("x-goog-api-key"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		contents := req["contents"].([]any)
		require.Len(t, contents, 1)

		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": resultJSON}}}},
			},
			"usageMetadata": map[string]any{
				"promptTokenCount":     120,
				"candidatesTokenCount": 80,
				"totalTokenCount":      200,
			},
		})
	})

	resp, err := client.GradeDocument(context.Background(), "secret-key", testRequest())
	require.NoError(t, err)

	assert.Equal(t, float64(82), resp.Result.TotalScore)
	assert.Equal(t, float64(100), resp.Result.MaxScore)
	require.Len(t, resp.Result.Breakdown, 2)
	assert.Equal(t, "c1", resp.Result.Breakdown[0].CriteriaID)
	assert.Equal(t, int64(200), resp.Usage.TotalTokens)
	assert.Equal(t, "gemini-2.5-flash", resp.Usage.Model)
}

func TestGradeDocument_StripsCodeFences(t *testing.T) {
	fenced := "```json\n{\"totalScore\":10,\"maxScore\":100,\"breakdown\":[],\"overallFeedback\":\"ok\"}\n```"

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": fenced}}}},
			},
		})
	})

	resp, err := client.GradeDocument(context.Background(), "k", testRequest())
	require.NoError(t, err)
	assert.Equal(t, float64(10), resp.Result.TotalScore)
}

func TestGradeDocument_RateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`))
	})

	_, err := client.GradeDocument(context.Background(), "k", testRequest())
	require.Error(t, err)

	apiErr, ok := err.(*provider.APIError)
	require.True(t, ok)
	assert.Equal(t, 429, apiErr.StatusCode)
	assert.Equal(t, "Resource has been exhausted", apiErr.Message)
	assert.Equal(t, provider.ErrorRateLimit, provider.Classify(err))
}

func TestGradeDocument_UnparseableTextFallsBack(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": "I cannot grade this document."}}}},
			},
		})
	})

	resp, err := client.GradeDocument(context.Background(), "k", testRequest())
	require.NoError(t, err)

	assert.Zero(t, resp.Result.TotalScore)
	assert.Equal(t, float64(100), resp.Result.MaxScore)
	assert.True(t, strings.Contains(resp.Result.OverallFeedback, model.ParseFailureSentinel))
	require.Len(t, resp.Result.Breakdown, 2)
}

func TestGradeDocument_EmptyCandidates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	})

	_, err := client.GradeDocument(context.Background(), "k", testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no candidate text")
}

func TestNew_RequiresModel(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
