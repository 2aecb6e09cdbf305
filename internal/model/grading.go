// Package model contains shared domain models for the grading core.
package model

import (
	"encoding/json"
	"fmt"
)

// TaskStatus is the lifecycle state of one grading task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "PENDING"
	StatusProcessing TaskStatus = "PROCESSING"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusFailed     TaskStatus = "FAILED"
)

// Criterion is one rubric criterion the submission is graded against.
type Criterion struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	MaxScore    float64 `json:"maxScore"`
}

// CriterionGrade is the per-criterion portion of a grading result.
type CriterionGrade struct {
	CriteriaID string  `json:"criteriaId"`
	Name       string  `json:"name"`
	Score      float64 `json:"score"`
	Feedback   string  `json:"feedback"`
}

// ResultMetadata records which provider produced a result and at what cost.
type ResultMetadata struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Tokens   int64  `json:"tokens"`
}

// GradingResult is the normalized payload persisted for a completed task.
type GradingResult struct {
	TotalScore      float64          `json:"totalScore"`
	MaxScore        float64          `json:"maxScore"`
	Breakdown       []CriterionGrade `json:"breakdown"`
	OverallFeedback string           `json:"overallFeedback"`
	Metadata        *ResultMetadata  `json:"metadata,omitempty"`
}

// Parsing-failure sentinels. Adapters embed these in fallback feedback when
// a provider returns undecodable output; the engine's result validator
// rejects any payload carrying one so it is never persisted as a grade.
const (
	ParseFailureSentinel = "Grading failed due to response parsing error"
	APIFailureSentinel   = "Grading failed due to API error"
)

// ParseCriteria decodes a rubric's criteria JSON column.
func ParseCriteria(raw string) ([]Criterion, error) {
	if raw == "" {
		return nil, nil
	}

	var criteria []Criterion
	if err := json.Unmarshal([]byte(raw), &criteria); err != nil {
		return nil, fmt.Errorf("invalid criteria JSON: %w", err)
	}

	return criteria, nil
}

// MarshalResult encodes a grading result for the persistence layer.
func MarshalResult(r *GradingResult) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal grading result: %w", err)
	}
	return string(data), nil
}
