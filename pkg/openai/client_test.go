package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GradeLane/internal/model"
	"GradeLane/pkg/provider"
)

func testRequest() *provider.GradeRequest {
	return &provider.GradeRequest{
		FileName:   "essay.pdf",
		MimeType:   "application/pdf",
		ParsedText: "The essay argues that rivers shaped early trade routes.",
		RubricName: "Essay Rubric",
		Criteria: []model.Criterion{
			{ID: "c1", Name: "Argument", MaxScore: 60},
			{ID: "c2", Name: "Evidence", MaxScore: 40},
		},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{BaseURL: srv.URL, Model: "gpt-4o-mini", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return client
}

func TestGradeDocument_Success(t *testing.T) {
	resultJSON := `{"totalScore":75,"maxScore":100,"breakdown":[` +
		`{"criteriaId":"c1","name":"Argument","score":45,"feedback":"coherent central claim"},` +
		`{"criteriaId":"c2","name":"Evidence","score":30,"feedback":"cites two primary sources"}],` +
		`"overallFeedback":"convincing but thin on evidence"}`

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req["model"])
		messages := req["messages"].([]any)
		require.Len(t, messages, 2)
		user := messages[1].(map[string]any)["content"].(string)
		assert.Contains(t, user, "rivers shaped early trade routes")

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": resultJSON}},
			},
			"usage": map[string]any{"prompt_tokens": 300, "completion_tokens": 120, "total_tokens": 420},
		})
	})

	resp, err := client.GradeDocument(context.Background(), "sk-test", testRequest())
	require.NoError(t, err)
	assert.Equal(t, float64(75), resp.Result.TotalScore)
	assert.Equal(t, int64(420), resp.Usage.TotalTokens)
}

func TestGradeDocument_RequiresParsedText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the server")
	})

	req := testRequest()
	req.ParsedText = ""
	_, err := client.GradeDocument(context.Background(), "sk-test", req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no extracted text")
}

func TestGradeDocument_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"The engine is currently overloaded","type":"server_error"}}`))
	})

	_, err := client.GradeDocument(context.Background(), "sk-test", testRequest())
	require.Error(t, err)

	apiErr, ok := err.(*provider.APIError)
	require.True(t, ok)
	assert.Equal(t, 503, apiErr.StatusCode)
	assert.Equal(t, provider.ErrorOverloaded, provider.Classify(err))
}
