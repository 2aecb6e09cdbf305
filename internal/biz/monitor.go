package biz

import (
	"context"
	"fmt"
	"time"

	"GradeLane/internal/conf"
	"GradeLane/internal/model"
	"GradeLane/pkg/provider"

	"github.com/go-kratos/kratos/v2/log"
)

// Alert severities.
const (
	AlertWarning  = "warning"
	AlertCritical = "critical"
)

// Alert thresholds for the sampled pool metrics.
const (
	successRateWarn     = 0.7
	successRateCritical = 0.5
	pendingBacklogWarn  = 100
)

const defaultStaleAfter = 10 * time.Minute

// MetricsSnapshot is one sampled view of pool and task health.
type MetricsSnapshot struct {
	Timestamp time.Time                  `json:"timestamp"`
	KeyStats  *SummaryStats              `json:"keyStats"`
	Tasks     map[model.TaskStatus]int64 `json:"tasks"`
	// RedisHealthy and DatabaseHealthy report whether the backing stores
	// answered during this sample; a false flag zeroes the related stats.
	RedisHealthy    bool `json:"redisHealthy"`
	DatabaseHealthy bool `json:"databaseHealthy"`
}

// Alert is one raised threshold violation.
type Alert struct {
	Level     string    `json:"level"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// MonitorRepo persists sampled snapshots and the recent alert history.
type MonitorRepo interface {
	SaveSnapshot(ctx context.Context, snap *MetricsSnapshot) error
	LatestSnapshot(ctx context.Context) (*MetricsSnapshot, error)
	AppendAlerts(ctx context.Context, alerts []*Alert) error
	RecentAlerts(ctx context.Context, limit int) ([]*Alert, error)
}

// MonitorUsecase samples aggregate health off the hot path, raises
// threshold alerts and re-queues tasks stuck in PROCESSING.
type MonitorUsecase struct {
	repo       MonitorRepo
	tasks      GradingRepo
	keys       *KeyHealthUsecase
	keyring    *Keyring
	staleAfter time.Duration
	now        func() time.Time
	log        *log.Helper
}

// NewMonitorUsecase creates the monitoring usecase.
func NewMonitorUsecase(
	c *conf.Grading,
	repo MonitorRepo,
	tasks GradingRepo,
	keys *KeyHealthUsecase,
	keyring *Keyring,
	logger log.Logger,
) *MonitorUsecase {
	staleAfter := defaultStaleAfter
	if c != nil && c.StaleAfter != nil {
		staleAfter = c.StaleAfter.AsDuration()
	}
	return &MonitorUsecase{
		repo:       repo,
		tasks:      tasks,
		keys:       keys,
		keyring:    keyring,
		staleAfter: staleAfter,
		now:        time.Now,
		log:        log.NewHelper(logger),
	}
}

// CollectMetrics samples the primary key pool and task counts into one
// snapshot and persists it.
func (uc *MonitorUsecase) CollectMetrics(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		Timestamp:       uc.now(),
		RedisHealthy:    true,
		DatabaseHealthy: true,
	}

	stats, err := uc.keys.GetSummaryStats(ctx, uc.keyring.CandidateIDs(provider.NameGemini))
	if err != nil {
		uc.log.WithContext(ctx).Warnf("failed to sample key stats: %v", err)
		snap.RedisHealthy = false
		stats = &SummaryStats{}
	}
	snap.KeyStats = stats

	taskCounts, err := uc.tasks.CountByStatus(ctx)
	if err != nil {
		uc.log.WithContext(ctx).Warnf("failed to count tasks: %v", err)
		snap.DatabaseHealthy = false
		taskCounts = map[model.TaskStatus]int64{}
	}
	snap.Tasks = taskCounts

	if err := uc.repo.SaveSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// CheckAlerts evaluates the latest sample against the thresholds and
// persists any violations.
func (uc *MonitorUsecase) CheckAlerts(ctx context.Context) ([]*Alert, error) {
	snap, err := uc.CollectMetrics(ctx)
	if err != nil {
		return nil, err
	}

	var alerts []*Alert
	raise := func(level, code, msg string) {
		alerts = append(alerts, &Alert{
			Level:     level,
			Code:      code,
			Message:   msg,
			Timestamp: snap.Timestamp,
		})
	}

	if !snap.RedisHealthy {
		raise(AlertCritical, "health_store_unreachable",
			"key health store did not answer, selection is degraded")
	}
	if !snap.DatabaseHealthy {
		raise(AlertCritical, "database_unreachable",
			"task database did not answer, backlog is unknown")
	}

	stats := snap.KeyStats
	if stats.TotalKeys > 0 && stats.AvailableCount == 0 {
		raise(AlertCritical, "all_keys_throttled",
			fmt.Sprintf("all %d primary keys are throttled, grading is degraded to fallback", stats.TotalKeys))
	} else if stats.ThrottledCount > stats.TotalKeys/2 {
		raise(AlertWarning, "pool_mostly_throttled",
			fmt.Sprintf("%d of %d primary keys are throttled", stats.ThrottledCount, stats.TotalKeys))
	}

	switch {
	case stats.TotalCalls > 0 && stats.AvgSuccessRate < successRateCritical:
		raise(AlertCritical, "low_success_rate",
			fmt.Sprintf("pool success rate %.2f is below %.2f", stats.AvgSuccessRate, successRateCritical))
	case stats.TotalCalls > 0 && stats.AvgSuccessRate < successRateWarn:
		raise(AlertWarning, "low_success_rate",
			fmt.Sprintf("pool success rate %.2f is below %.2f", stats.AvgSuccessRate, successRateWarn))
	}

	if pending := snap.Tasks[model.StatusPending]; pending > pendingBacklogWarn {
		raise(AlertWarning, "pending_backlog",
			fmt.Sprintf("%d tasks are waiting in PENDING", pending))
	}

	if len(alerts) > 0 {
		for _, a := range alerts {
			uc.log.WithContext(ctx).Warnw("msg", "alert raised", "level", a.Level, "code", a.Code, "detail", a.Message)
		}
		if err := uc.repo.AppendAlerts(ctx, alerts); err != nil {
			return nil, err
		}
	}
	return alerts, nil
}

// LatestSnapshot returns the most recently persisted sample.
func (uc *MonitorUsecase) LatestSnapshot(ctx context.Context) (*MetricsSnapshot, error) {
	return uc.repo.LatestSnapshot(ctx)
}

// RecentAlerts returns up to limit recent alerts, newest first.
func (uc *MonitorUsecase) RecentAlerts(ctx context.Context, limit int) ([]*Alert, error) {
	return uc.repo.RecentAlerts(ctx, limit)
}

// RequeueStaleTasks flips tasks stuck in PROCESSING beyond the stale window
// back to PENDING so a worker can pick them up again.
func (uc *MonitorUsecase) RequeueStaleTasks(ctx context.Context) (int, error) {
	cutoff := uc.now().Add(-uc.staleAfter)
	ids, err := uc.tasks.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	requeued := 0
	pending := model.StatusPending
	for _, id := range ids {
		patch := &TaskPatch{
			Status:   &pending,
			Progress: int32Ptr(0),
		}
		if err := uc.tasks.UpdateTask(ctx, id, patch); err != nil {
			uc.log.WithContext(ctx).Warnf("failed to requeue stale task %s: %v", id, err)
			continue
		}
		requeued++
	}

	if requeued > 0 {
		uc.log.WithContext(ctx).Infof("requeued %d stale tasks older than %s", requeued, uc.staleAfter)
	}
	return requeued, nil
}
