package data

import (
	"context"
	"fmt"
	"time"

	"GradeLane/internal/biz"
	"GradeLane/internal/model"
	pkgerrors "GradeLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// GradingResultRow is the grading_results table.
type GradingResultRow struct {
	ID               string  `gorm:"primaryKey;size:64"`
	Status           string  `gorm:"size:16;index;default:PENDING"`
	Progress         int32   `gorm:"default:0"`
	Result           *string `gorm:"type:json"`
	ErrorMessage     *string `gorm:"type:text"`
	GradingModel     *string `gorm:"size:64"`
	GradingTokens    *int64
	UserID           string `gorm:"size:64;index"`
	GradingSessionID string `gorm:"size:64;index"`
	UploadedFileID   string `gorm:"size:64"`
	RubricID         string `gorm:"size:64"`
	CreatedAt        time.Time
	UpdatedAt        time.Time `gorm:"index"`

	UploadedFile *UploadedFileRow `gorm:"foreignKey:UploadedFileID"`
	Rubric       *RubricRow       `gorm:"foreignKey:RubricID"`
}

// TableName maps the model to its table.
func (GradingResultRow) TableName() string { return "grading_results" }

// UploadedFileRow is the uploaded_files table.
type UploadedFileRow struct {
	ID               string `gorm:"primaryKey;size:64"`
	FileKey          string `gorm:"size:255"`
	MimeType         string `gorm:"size:128"`
	OriginalFileName string `gorm:"size:255"`
	ParsedContent    string `gorm:"type:longtext"`
	CreatedAt        time.Time
}

// TableName maps the model to its table.
func (UploadedFileRow) TableName() string { return "uploaded_files" }

// RubricRow is the rubrics table. Criteria is a JSON array column.
type RubricRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:255"`
	Criteria  string `gorm:"type:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName maps the model to its table.
func (RubricRow) TableName() string { return "rubrics" }

// GradingRepo implements biz.GradingRepo on MySQL via GORM.
type GradingRepo struct {
	db      *gorm.DB
	rubrics *RubricCache
	logger  *log.Helper
}

// NewGradingRepo creates the task repository and migrates its tables.
func NewGradingRepo(db *gorm.DB, rubrics *RubricCache, logger log.Logger) (*GradingRepo, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db is nil")
	}
	if err := db.AutoMigrate(&UploadedFileRow{}, &RubricRow{}, &GradingResultRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate grading tables: %w", err)
	}

	return &GradingRepo{
		db:      db,
		rubrics: rubrics,
		logger:  log.NewHelper(logger),
	}, nil
}

// FindTaskByID reads one task with its file and rubric joined.
// Returns (nil, nil) when the row does not exist.
func (r *GradingRepo) FindTaskByID(ctx context.Context, id string) (*biz.GradingTask, error) {
	var row GradingResultRow
	err := r.db.WithContext(ctx).
		Preload("UploadedFile").
		Preload("Rubric").
		First(&row, "id = ?", id).Error
	if err != nil {
		if pkgerrors.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find task %s: %w", id, pkgerrors.ClassifyDBError(err))
	}

	task := &biz.GradingTask{
		ID:        row.ID,
		Status:    model.TaskStatus(row.Status),
		Progress:  row.Progress,
		UserID:    row.UserID,
		SessionID: row.GradingSessionID,
	}
	if row.UploadedFile != nil {
		task.File = &biz.UploadedFile{
			FileKey:          row.UploadedFile.FileKey,
			MimeType:         row.UploadedFile.MimeType,
			OriginalFileName: row.UploadedFile.OriginalFileName,
			ParsedContent:    row.UploadedFile.ParsedContent,
		}
	}
	if row.Rubric != nil {
		criteria, err := r.rubrics.Criteria(row.Rubric)
		if err != nil {
			r.logger.WithContext(ctx).Warnf("rubric %s has invalid criteria JSON: %v", row.Rubric.ID, err)
			criteria = nil
		}
		task.Rubric = &biz.Rubric{
			Name:     row.Rubric.Name,
			Criteria: criteria,
		}
	}
	return task, nil
}

// UpdateTask applies the non-nil patch fields to one row.
func (r *GradingRepo) UpdateTask(ctx context.Context, id string, patch *biz.TaskPatch) error {
	updates := make(map[string]interface{})
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	if patch.Progress != nil {
		updates["progress"] = *patch.Progress
	}
	if patch.ResultJSON != nil {
		updates["result"] = *patch.ResultJSON
	}
	if patch.ErrorMessage != nil {
		updates["error_message"] = *patch.ErrorMessage
	}
	if patch.GradingModel != nil {
		updates["grading_model"] = *patch.GradingModel
	}
	if patch.GradingTokens != nil {
		updates["grading_tokens"] = *patch.GradingTokens
	}
	if len(updates) == 0 {
		return nil
	}

	res := r.db.WithContext(ctx).
		Model(&GradingResultRow{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update task %s: %w", id, pkgerrors.ClassifyDBError(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("task %s not found for update", id)
	}
	return nil
}

// ListStaleProcessing returns IDs of tasks sitting in PROCESSING since
// before the cutoff.
func (r *GradingRepo) ListStaleProcessing(ctx context.Context, before time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&GradingResultRow{}).
		Where("status = ? AND updated_at < ?", string(model.StatusProcessing), before).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale tasks: %w", pkgerrors.ClassifyDBError(err))
	}
	return ids, nil
}

// CountByStatus reports task counts per lifecycle state.
func (r *GradingRepo) CountByStatus(ctx context.Context) (map[model.TaskStatus]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}

	var rows []statusCount
	err := r.db.WithContext(ctx).
		Model(&GradingResultRow{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", pkgerrors.ClassifyDBError(err))
	}

	counts := make(map[model.TaskStatus]int64, len(rows))
	for _, row := range rows {
		counts[model.TaskStatus(row.Status)] = row.Count
	}
	return counts, nil
}
