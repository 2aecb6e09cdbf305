package biz

import (
	"context"
	"time"

	"GradeLane/internal/model"
	"GradeLane/pkg/provider"
)

// GradingTask is the engine's view of one grading-result row, joined with
// its uploaded file, rubric and session.
type GradingTask struct {
	ID        string
	Status    model.TaskStatus
	Progress  int32
	UserID    string
	SessionID string
	File      *UploadedFile
	Rubric    *Rubric
}

// UploadedFile is the submission being graded.
type UploadedFile struct {
	FileKey          string
	MimeType         string
	OriginalFileName string
	// ParsedContent is the extracted text; empty means the upload pipeline
	// could not parse the document.
	ParsedContent string
}

// Rubric is the grading rubric joined onto a task.
type Rubric struct {
	Name     string
	Criteria []model.Criterion
}

// TaskPatch is a partial update to one task row. Nil fields are left
// untouched.
type TaskPatch struct {
	Status        *model.TaskStatus
	Progress      *int32
	ResultJSON    *string
	ErrorMessage  *string
	GradingModel  *string
	GradingTokens *int64
}

// GradingRepo is the persistence collaborator contract.
type GradingRepo interface {
	// FindTaskByID reads a task with its file, rubric and session joined.
	// Returns (nil, nil) when the task does not exist.
	FindTaskByID(ctx context.Context, id string) (*GradingTask, error)
	// UpdateTask applies a partial update to one task row.
	UpdateTask(ctx context.Context, id string, patch *TaskPatch) error
	// ListStaleProcessing returns IDs of tasks stuck in PROCESSING since
	// before the cutoff.
	ListStaleProcessing(ctx context.Context, before time.Time) ([]string, error)
	// CountByStatus reports task counts per lifecycle state.
	CountByStatus(ctx context.Context) (map[model.TaskStatus]int64, error)
}

// FileStore resolves an uploaded file's raw bytes by its storage key.
type FileStore interface {
	GetFileBytes(ctx context.Context, fileKey string) ([]byte, error)
}

// ProgressNotifier pushes task progress to interested listeners. Delivery is
// best-effort; the engine never blocks on it.
type ProgressNotifier interface {
	NotifyProgress(taskID string, status model.TaskStatus, progress int32)
}

// GraderSet is the ordered provider lineup the engine works through:
// the primary first, then each fallback once the primary's pool is
// exhausted.
type GraderSet struct {
	Primary   provider.Grader
	Fallbacks []provider.Grader
}
