package biz_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GradeLane/internal/biz"
	"GradeLane/internal/conf"
	"GradeLane/internal/data"
	"GradeLane/internal/model"
	"GradeLane/pkg/provider"
)

type fakeMonitorRepo struct {
	snapshots []*biz.MetricsSnapshot
	alerts    []*biz.Alert
}

func (f *fakeMonitorRepo) SaveSnapshot(_ context.Context, snap *biz.MetricsSnapshot) error {
	f.snapshots = append(f.snapshots, snap)
	return nil
}

func (f *fakeMonitorRepo) LatestSnapshot(_ context.Context) (*biz.MetricsSnapshot, error) {
	if len(f.snapshots) == 0 {
		return nil, nil
	}
	return f.snapshots[len(f.snapshots)-1], nil
}

func (f *fakeMonitorRepo) AppendAlerts(_ context.Context, alerts []*biz.Alert) error {
	f.alerts = append(f.alerts, alerts...)
	return nil
}

func (f *fakeMonitorRepo) RecentAlerts(_ context.Context, limit int) ([]*biz.Alert, error) {
	if len(f.alerts) > limit {
		return f.alerts[len(f.alerts)-limit:], nil
	}
	return f.alerts, nil
}

type monitorFixture struct {
	uc    *biz.MonitorUsecase
	keys  *biz.KeyHealthUsecase
	repo  *fakeMonitorRepo
	tasks *fakeGradingRepo
}

func newMonitor(t *testing.T, tasks *fakeGradingRepo) *monitorFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	keys := biz.NewKeyHealthUsecase(nil, data.NewKeyHealthRepo(client, log.DefaultLogger), log.DefaultLogger)

	keyring, err := biz.NewKeyring(&conf.Providers{
		Gemini: &conf.Providers_Gemini{ApiKeys: []string{"g1", "g2"}},
	}, nil, log.DefaultLogger)
	require.NoError(t, err)

	repo := &fakeMonitorRepo{}
	uc := biz.NewMonitorUsecase(nil, repo, tasks, keys, keyring, log.DefaultLogger)
	return &monitorFixture{uc: uc, keys: keys, repo: repo, tasks: tasks}
}

func TestMonitor_CollectMetrics(t *testing.T) {
	tasks := &fakeGradingRepo{counts: map[model.TaskStatus]int64{
		model.StatusPending:   3,
		model.StatusCompleted: 7,
	}}
	fx := newMonitor(t, tasks)
	ctx := context.Background()

	require.NoError(t, fx.keys.RecordSuccess(ctx, "gemini-1", 100*time.Millisecond))

	snap, err := fx.uc.CollectMetrics(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, snap.KeyStats.TotalKeys)
	assert.Equal(t, int64(1), snap.KeyStats.TotalSuccesses)
	assert.Equal(t, int64(3), snap.Tasks[model.StatusPending])
	require.Len(t, fx.repo.snapshots, 1)

	latest, err := fx.uc.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, latest)
}

func TestMonitor_NoAlertsWhenHealthy(t *testing.T) {
	fx := newMonitor(t, &fakeGradingRepo{})
	ctx := context.Background()

	require.NoError(t, fx.keys.RecordSuccess(ctx, "gemini-1", 100*time.Millisecond))

	alerts, err := fx.uc.CheckAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestMonitor_AllKeysThrottledIsCritical(t *testing.T) {
	fx := newMonitor(t, &fakeGradingRepo{})
	ctx := context.Background()

	for _, id := range []string{"gemini-1", "gemini-2"} {
		require.NoError(t, fx.keys.MarkThrottled(ctx, id, time.Minute))
	}

	alerts, err := fx.uc.CheckAlerts(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, alerts)
	assert.Equal(t, biz.AlertCritical, alerts[0].Level)
	assert.Equal(t, "all_keys_throttled", alerts[0].Code)
	assert.NotEmpty(t, fx.repo.alerts)
}

func TestMonitor_LowSuccessRate(t *testing.T) {
	fx := newMonitor(t, &fakeGradingRepo{})
	ctx := context.Background()

	// 1 success, 3 failures → rate 0.25, below the critical threshold.
	require.NoError(t, fx.keys.RecordSuccess(ctx, "gemini-1", 100*time.Millisecond))
	for i := 0; i < 3; i++ {
		require.NoError(t, fx.keys.RecordFailure(ctx, "gemini-2", provider.ErrorOther, "boom"))
	}

	alerts, err := fx.uc.CheckAlerts(ctx)
	require.NoError(t, err)

	var found *biz.Alert
	for _, a := range alerts {
		if a.Code == "low_success_rate" {
			found = a
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, biz.AlertCritical, found.Level)
}

func TestMonitor_PendingBacklog(t *testing.T) {
	tasks := &fakeGradingRepo{counts: map[model.TaskStatus]int64{model.StatusPending: 250}}
	fx := newMonitor(t, tasks)

	alerts, err := fx.uc.CheckAlerts(context.Background())
	require.NoError(t, err)

	var found *biz.Alert
	for _, a := range alerts {
		if a.Code == "pending_backlog" {
			found = a
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, biz.AlertWarning, found.Level)
}

func TestMonitor_DatabaseOutageIsCritical(t *testing.T) {
	tasks := &fakeGradingRepo{countErr: errors.New("dial tcp: connection refused")}
	fx := newMonitor(t, tasks)
	ctx := context.Background()

	require.NoError(t, fx.keys.RecordSuccess(ctx, "gemini-1", 100*time.Millisecond))

	alerts, err := fx.uc.CheckAlerts(ctx)
	require.NoError(t, err)

	var found *biz.Alert
	for _, a := range alerts {
		if a.Code == "database_unreachable" {
			found = a
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, biz.AlertCritical, found.Level)

	snap, err := fx.uc.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.DatabaseHealthy)
	assert.True(t, snap.RedisHealthy)
}

func TestMonitor_RequeueStaleTasks(t *testing.T) {
	tasks := &fakeGradingRepo{staleIDs: []string{"t1", "t2"}}
	fx := newMonitor(t, tasks)

	n, err := fx.uc.RequeueStaleTasks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, tasks.patches, 2)
	for _, p := range tasks.patches {
		require.NotNil(t, p.Status)
		assert.Equal(t, model.StatusPending, *p.Status)
		require.NotNil(t, p.Progress)
		assert.Zero(t, *p.Progress)
	}
}
