package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"GradeLane/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	metricsSnapshotKey = "grademon:metrics:latest"
	alertListKey       = "grademon:alerts"

	// snapshotTTL keeps yesterday's sample from masquerading as current
	// when the sampler stops running.
	snapshotTTL = 24 * time.Hour
	// maxStoredAlerts caps the alert history list.
	maxStoredAlerts = 100
)

// MonitorRepo implements biz.MonitorRepo on Redis: a TTL'd snapshot key
// plus a capped alert list.
type MonitorRepo struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewMonitorRepo creates the monitoring repository.
func NewMonitorRepo(data *Data, logger log.Logger) *MonitorRepo {
	return &MonitorRepo{
		rdb:    data.GetRedisClient(),
		logger: log.NewHelper(logger),
	}
}

// SaveSnapshot stores the latest sample with a 24h TTL.
func (r *MonitorRepo) SaveSnapshot(ctx context.Context, snap *biz.MetricsSnapshot) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics snapshot: %w", err)
	}
	if err := r.rdb.Set(ctx, metricsSnapshotKey, payload, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to save metrics snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot reads the most recent sample, nil when none exists.
func (r *MonitorRepo) LatestSnapshot(ctx context.Context) (*biz.MetricsSnapshot, error) {
	if r.rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	payload, err := r.rdb.Get(ctx, metricsSnapshotKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics snapshot: %w", err)
	}

	var snap biz.MetricsSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode metrics snapshot: %w", err)
	}
	return &snap, nil
}

// AppendAlerts pushes alerts onto the history list, newest first, trimming
// to the cap in the same transaction.
func (r *MonitorRepo) AppendAlerts(ctx context.Context, alerts []*biz.Alert) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	if len(alerts) == 0 {
		return nil
	}

	payloads := make([]interface{}, 0, len(alerts))
	for _, a := range alerts {
		p, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal alert: %w", err)
		}
		payloads = append(payloads, p)
	}

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, alertListKey, payloads...)
		pipe.LTrim(ctx, alertListKey, 0, maxStoredAlerts-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append alerts: %w", err)
	}
	return nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (r *MonitorRepo) RecentAlerts(ctx context.Context, limit int) ([]*biz.Alert, error) {
	if r.rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if limit <= 0 || limit > maxStoredAlerts {
		limit = maxStoredAlerts
	}

	raw, err := r.rdb.LRange(ctx, alertListKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read alerts: %w", err)
	}

	alerts := make([]*biz.Alert, 0, len(raw))
	for _, item := range raw {
		var a biz.Alert
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			r.logger.Warnf("skipping malformed alert entry: %v", err)
			continue
		}
		alerts = append(alerts, &a)
	}
	return alerts, nil
}
