package biz

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"GradeLane/internal/conf"
	"GradeLane/internal/model"
	"GradeLane/pkg/provider"

	"github.com/go-kratos/kratos/v2/log"
)

// Engine validation failures, written verbatim to the task's errorMessage.
var (
	ErrResultNotFound    = errors.New("Grading result not found")
	ErrMissingFileRubric = errors.New("Missing file or rubric data")
	ErrNoParsedContent   = errors.New("File has no parsed content")
	ErrNoCriteria        = errors.New("No grading criteria found in rubric")
)

// Attempt budgets. Retry is a bounded loop over (provider, key) pairs, never
// open-ended.
const (
	defaultMaxPrimaryAttempts  = 3
	defaultMaxFallbackAttempts = 1
)

// Progress milestones written while a task moves through the pipeline.
const (
	progressStarted   int32 = 10
	progressGraded    int32 = 30
	progressValidated int32 = 80
	progressDone      int32 = 100
)

// minMeaningfulFeedback is the heuristic floor below which an all-zero
// result counts as an empty model response.
const minMeaningfulFeedback = 20

// GradingUsecase orchestrates one grading task end to end: fetch, validate,
// select a credential, call a provider, validate the result and persist it.
type GradingUsecase struct {
	repo     GradingRepo
	files    FileStore
	keys     *KeyHealthUsecase
	keyring  *Keyring
	graders  *GraderSet
	notifier ProgressNotifier

	maxPrimaryAttempts  int
	maxFallbackAttempts int

	log *log.Helper
}

// NewGradingUsecase creates the orchestration engine.
func NewGradingUsecase(
	c *conf.Grading,
	repo GradingRepo,
	files FileStore,
	keys *KeyHealthUsecase,
	keyring *Keyring,
	graders *GraderSet,
	notifier ProgressNotifier,
	logger log.Logger,
) *GradingUsecase {
	uc := &GradingUsecase{
		repo:                repo,
		files:               files,
		keys:                keys,
		keyring:             keyring,
		graders:             graders,
		notifier:            notifier,
		maxPrimaryAttempts:  defaultMaxPrimaryAttempts,
		maxFallbackAttempts: defaultMaxFallbackAttempts,
		log:                 log.NewHelper(logger),
	}
	if c != nil {
		if c.MaxPrimaryAttempts > 0 {
			uc.maxPrimaryAttempts = int(c.MaxPrimaryAttempts)
		}
		if c.MaxFallbackAttempts > 0 {
			uc.maxFallbackAttempts = int(c.MaxFallbackAttempts)
		}
	}
	return uc
}

// ProcessGradingResult drives one task to a terminal state. A nil return
// means the task is COMPLETED or was already past PENDING (idempotent skip);
// a non-nil return means the task was written FAILED with the same message,
// except for fetch errors where there is nothing to persist to.
func (uc *GradingUsecase) ProcessGradingResult(ctx context.Context, resultID, userID, sessionID string) (err error) {
	helper := uc.log.WithContext(ctx)

	// A panic anywhere below must not leave the task stuck in PROCESSING.
	defer func() {
		if r := recover(); r != nil {
			helper.Errorf("panic while grading task %s: %v", resultID, r)
			err = uc.failTask(ctx, resultID, fmt.Errorf("grading aborted by internal error: %v", r))
		}
	}()

	// FETCH
	task, err := uc.repo.FindTaskByID(ctx, resultID)
	if err != nil {
		// Persistence outage during fetch propagates unmasked.
		return err
	}
	if task == nil {
		return ErrResultNotFound
	}
	if task.Status != model.StatusPending {
		helper.Infof("task %s already %s, skipping", resultID, task.Status)
		return nil
	}

	// VALIDATE — cheap failures must not consume provider calls.
	if err := validateTask(task); err != nil {
		return uc.failTask(ctx, resultID, err)
	}

	if err := uc.writeProgress(ctx, resultID, model.StatusProcessing, progressStarted); err != nil {
		return uc.failTask(ctx, resultID, err)
	}

	fileBytes, err := uc.files.GetFileBytes(ctx, task.File.FileKey)
	if err != nil {
		return uc.failTask(ctx, resultID, fmt.Errorf("failed to load file %s: %w", task.File.FileKey, err))
	}

	req := &provider.GradeRequest{
		FileBytes:  fileBytes,
		MimeType:   task.File.MimeType,
		FileName:   task.File.OriginalFileName,
		ParsedText: task.File.ParsedContent,
		RubricName: task.Rubric.Name,
		Criteria:   task.Rubric.Criteria,
	}

	resp, graderName, err := uc.gradeWithRetry(ctx, resultID, req)
	if err != nil {
		return uc.failTask(ctx, resultID, err)
	}

	if err := uc.writeProgress(ctx, resultID, model.StatusProcessing, progressValidated); err != nil {
		return uc.failTask(ctx, resultID, err)
	}

	// PERSIST
	resp.Result.Metadata = &model.ResultMetadata{
		Provider: graderName,
		Model:    resp.Usage.Model,
		Tokens:   resp.Usage.TotalTokens,
	}
	resultJSON, err := model.MarshalResult(resp.Result)
	if err != nil {
		return uc.failTask(ctx, resultID, err)
	}

	completed := model.StatusCompleted
	patch := &TaskPatch{
		Status:        &completed,
		Progress:      int32Ptr(progressDone),
		ResultJSON:    &resultJSON,
		GradingModel:  &resp.Usage.Model,
		GradingTokens: &resp.Usage.TotalTokens,
	}
	if err := uc.repo.UpdateTask(ctx, resultID, patch); err != nil {
		return uc.failTask(ctx, resultID, fmt.Errorf("failed to persist grading result: %w", err))
	}
	uc.notify(resultID, model.StatusCompleted, progressDone)

	helper.Infow("msg", "grading completed",
		"task_id", resultID,
		"user_id", userID,
		"session_id", sessionID,
		"provider", graderName,
		"total_score", resp.Result.TotalScore,
		"tokens", resp.Usage.TotalTokens,
	)
	return nil
}

// gradeWithRetry works through the provider lineup with a bounded attempt
// budget per provider, moving to the next-best key after each failure and
// falling back to the next provider once a pool is exhausted.
func (uc *GradingUsecase) gradeWithRetry(ctx context.Context, taskID string, req *provider.GradeRequest) (*provider.GradeResponse, string, error) {
	helper := uc.log.WithContext(ctx)

	type plan struct {
		grader   provider.Grader
		attempts int
	}
	plans := []plan{{uc.graders.Primary, uc.maxPrimaryAttempts}}
	for _, g := range uc.graders.Fallbacks {
		plans = append(plans, plan{g, uc.maxFallbackAttempts})
	}

	var lastErr error = errors.New("no grading providers configured")
	totalAttempts := 0

	for _, p := range plans {
		if p.grader == nil {
			continue
		}
		name := p.grader.Name()
		tried := make(map[string]bool)

		for attempt := 0; attempt < p.attempts; attempt++ {
			candidates := excludeTried(uc.keyring.CandidateIDs(name), tried)
			keyID, err := uc.keys.SelectBestKey(ctx, candidates)
			if err != nil {
				if errors.Is(err, ErrNoAvailableKeys) {
					// Pool empty or fully throttled: move to the next
					// provider instead of busy-waiting.
					lastErr = fmt.Errorf("%s: %w", name, err)
					break
				}
				return nil, "", err
			}
			tried[keyID] = true
			totalAttempts++

			secret, err := uc.keyring.Secret(name, keyID)
			if err != nil {
				return nil, "", err
			}

			start := time.Now()
			resp, err := p.grader.GradeDocument(ctx, secret, req)
			elapsed := time.Since(start)

			if err != nil {
				errType := provider.Classify(err)
				helper.Warnw("msg", "provider call failed",
					"task_id", taskID,
					"provider", name,
					"key_id", keyID,
					"error_type", string(errType),
					"attempt", totalAttempts,
					"error", err.Error(),
				)
				if recErr := uc.keys.RecordFailure(ctx, keyID, errType, err.Error()); recErr != nil {
					helper.Warnf("failed to record failure for key %s: %v", keyID, recErr)
				}
				lastErr = err
				continue
			}

			if recErr := uc.keys.RecordSuccess(ctx, keyID, elapsed); recErr != nil {
				helper.Warnf("failed to record success for key %s: %v", keyID, recErr)
			}
			if err := uc.writeProgress(ctx, taskID, model.StatusProcessing, progressGraded); err != nil {
				return nil, "", err
			}

			// VALIDATE_RESULT: well-formed-but-empty output is a retryable
			// provider failure, never a persisted fact.
			if !isValidGradingResult(resp.Result) {
				lastErr = fmt.Errorf("%s returned an invalid or empty grading result", name)
				helper.Warnw("msg", "invalid grading result",
					"task_id", taskID,
					"provider", name,
					"key_id", keyID,
				)
				if recErr := uc.keys.RecordFailure(ctx, keyID, provider.ErrorOther, lastErr.Error()); recErr != nil {
					helper.Warnf("failed to record failure for key %s: %v", keyID, recErr)
				}
				continue
			}

			return resp, name, nil
		}
	}

	return nil, "", fmt.Errorf("grading failed after %d attempts: %w", totalAttempts, lastErr)
}

// validateTask enforces the pre-flight requirements on a fetched task.
func validateTask(task *GradingTask) error {
	if task.File == nil || task.Rubric == nil {
		return ErrMissingFileRubric
	}
	if strings.TrimSpace(task.File.ParsedContent) == "" {
		return ErrNoParsedContent
	}
	if len(task.Rubric.Criteria) == 0 {
		return ErrNoCriteria
	}
	return nil
}

// isValidGradingResult is the single gate between untrusted provider output
// and a persisted fact.
func isValidGradingResult(r *model.GradingResult) bool {
	if r == nil {
		return false
	}
	if math.IsNaN(r.TotalScore) || math.IsInf(r.TotalScore, 0) ||
		math.IsNaN(r.MaxScore) || math.IsInf(r.MaxScore, 0) {
		return false
	}
	if len(r.Breakdown) == 0 {
		return false
	}
	if containsSentinel(r.OverallFeedback) {
		return false
	}

	allZero := true
	allShort := true
	for _, item := range r.Breakdown {
		if containsSentinel(item.Feedback) {
			return false
		}
		if item.Score != 0 {
			allZero = false
		}
		if len(item.Feedback) >= minMeaningfulFeedback {
			allShort = false
		}
	}
	// All-zero scores with trivial feedback is a silently-empty response.
	if allZero && allShort {
		return false
	}
	return true
}

func containsSentinel(feedback string) bool {
	return strings.Contains(feedback, model.ParseFailureSentinel) ||
		strings.Contains(feedback, model.APIFailureSentinel)
}

// failTask writes the terminal FAILED state and echoes the reason back as
// the returned error.
func (uc *GradingUsecase) failTask(ctx context.Context, taskID string, reason error) error {
	failed := model.StatusFailed
	msg := reason.Error()
	patch := &TaskPatch{
		Status:       &failed,
		ErrorMessage: &msg,
	}
	if err := uc.repo.UpdateTask(ctx, taskID, patch); err != nil {
		uc.log.WithContext(ctx).Errorf("failed to mark task %s failed: %v", taskID, err)
	}
	uc.notify(taskID, model.StatusFailed, 0)
	return reason
}

func (uc *GradingUsecase) writeProgress(ctx context.Context, taskID string, status model.TaskStatus, progress int32) error {
	patch := &TaskPatch{
		Status:   &status,
		Progress: int32Ptr(progress),
	}
	if err := uc.repo.UpdateTask(ctx, taskID, patch); err != nil {
		return fmt.Errorf("failed to write progress %d: %w", progress, err)
	}
	uc.notify(taskID, status, progress)
	return nil
}

func (uc *GradingUsecase) notify(taskID string, status model.TaskStatus, progress int32) {
	if uc.notifier != nil {
		uc.notifier.NotifyProgress(taskID, status, progress)
	}
}

func excludeTried(candidates []string, tried map[string]bool) []string {
	if len(tried) == 0 {
		return candidates
	}
	out := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if !tried[id] {
			out = append(out, id)
		}
	}
	return out
}

func int32Ptr(v int32) *int32 { return &v }
