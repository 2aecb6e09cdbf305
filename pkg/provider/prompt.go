package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"GradeLane/internal/model"
)

// BuildPrompt renders the shared grading instruction for one request. All
// adapters use the same prompt so results stay comparable across vendors.
func BuildPrompt(req *GradeRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are an expert grader. Grade the attached document %q against the rubric %q.\n\n", req.FileName, req.RubricName)
	b.WriteString("Grading criteria:\n")
	for _, c := range req.Criteria {
		fmt.Fprintf(&b, "- id=%s, name=%q, max score %.2f", c.ID, c.Name, c.MaxScore)
		if c.Description != "" {
			fmt.Fprintf(&b, ": %s", c.Description)
		}
		b.WriteByte('\n')
	}

	b.WriteString(`
Respond with a single JSON object and nothing else, using this shape:
{
  "totalScore": <number>,
  "maxScore": <number>,
  "breakdown": [{"criteriaId": "<id>", "name": "<name>", "score": <number>, "feedback": "<specific feedback>"}],
  "overallFeedback": "<overall feedback>"
}
Every criterion must appear exactly once in breakdown, scores must not exceed the criterion maximum, and feedback must reference concrete evidence from the document.`)

	return b.String()
}

// ParseResultText decodes the model's raw completion into a grading result.
// Models occasionally wrap JSON in markdown code fences even when asked not
// to, so fences are stripped before decoding.
func ParseResultText(raw string) (*model.GradingResult, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("empty completion text")
	}

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var result model.GradingResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("decode grading JSON: %w", err)
	}

	return &result, nil
}

// FallbackResult builds the zero-score placeholder returned when a provider
// answered but its output could not be decoded. The sentinel feedback makes
// the payload fail result validation upstream, so it is retried rather than
// persisted.
func FallbackResult(req *GradeRequest, parseErr error) *model.GradingResult {
	breakdown := make([]model.CriterionGrade, 0, len(req.Criteria))
	for _, c := range req.Criteria {
		breakdown = append(breakdown, model.CriterionGrade{
			CriteriaID: c.ID,
			Name:       c.Name,
			Score:      0,
			Feedback:   fmt.Sprintf("%s: %v", model.ParseFailureSentinel, parseErr),
		})
	}

	return &model.GradingResult{
		TotalScore:      0,
		MaxScore:        req.MaxScore(),
		Breakdown:       breakdown,
		OverallFeedback: fmt.Sprintf("%s: %v", model.ParseFailureSentinel, parseErr),
	}
}
