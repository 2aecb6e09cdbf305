package ollama

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

func TestGradeDocument_Success(t *testing.T) {
	resultJSON := `{"totalScore":55,"maxScore":100,"breakdown":[` +
		`{"criteriaId":"c1","name":"Accuracy","score":55,"feedback":"most calculations correct"}],` +
		`"overallFeedback":"passable work"}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.1", req["model"])
		assert.Equal(t, false, req["stream"])
		assert.Equal(t, "json", req["format"])

		json.NewEncoder(w).Encode(map[string]any{
			"response":          resultJSON,
			"prompt_eval_count": 500,
			"eval_count":        90,
		})
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL, Model: "llama3.1", Timeout: 5 * time.Second})
	require.NoError(t, err)

	resp, err := client.GradeDocument(context.Background(), "ignored", &provider.GradeRequest{
		FileName:   "lab.docx",
		ParsedText: "Results table and discussion.",
		RubricName: "Lab Rubric",
		Criteria:   []model.Criterion{{ID: "c1", Name: "Accuracy", MaxScore: 100}},
	})
	require.NoError(t, err)

	assert.Equal(t, float64(55), resp.Result.TotalScore)
	assert.Equal(t, int64(590), resp.Usage.TotalTokens)
}

func TestGradeDocument_DaemonDown(t *testing.T) {
	client, err := New(Config{BaseURL: "http://127.0.0.1:1", Model: "llama3.1", Timeout: time.Second})
	require.NoError(t, err)

	_, err = client.GradeDocument(context.Background(), "", &provider.GradeRequest{
		ParsedText: "text",
		Criteria:   []model.Criterion{{ID: "c1", Name: "Accuracy", MaxScore: 10}},
	})
	require.Error(t, err)
	assert.Equal(t, provider.ErrorUnavailable, provider.Classify(err))
}
