package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	kerrors "github.com/go-kratos/kratos/v2/errors"
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

type stubTaskRepo struct {
	counts map[model.TaskStatus]int64
}

func (r *stubTaskRepo) FindTaskByID(ctx context.Context, id string) (*biz.GradingTask, error) {
	return nil, nil
}

func (r *stubTaskRepo) UpdateTask(ctx context.Context, id string, patch *biz.TaskPatch) error {
	return nil
}

func (r *stubTaskRepo) ListStaleProcessing(ctx context.Context, before time.Time) ([]string, error) {
	return nil, nil
}

func (r *stubTaskRepo) CountByStatus(ctx context.Context) (map[model.TaskStatus]int64, error) {
	return r.counts, nil
}

type stubFiles struct{}

func (stubFiles) GetFileBytes(ctx context.Context, fileKey string) ([]byte, error) {
	return nil, nil
}

type stubGrader struct{}

func (stubGrader) Name() string { return provider.NameGemini }

func (stubGrader) GradeDocument(ctx context.Context, apiKey string, req *provider.GradeRequest) (*provider.GradeResponse, error) {
	return nil, nil
}

func newAdminService(t *testing.T) *AdminService {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := log.DefaultLogger
	providers := &conf.Providers{
		Gemini: &conf.Providers_Gemini{
			Model:   "gemini-2.0-flash",
			ApiKeys: []string{"k1", "k2"},
		},
	}

	keyring, err := biz.NewKeyring(providers, nil, logger)
	require.NoError(t, err)

	keys := biz.NewKeyHealthUsecase(nil, data.NewKeyHealthRepo(rdb, logger), logger)
	tasks := &stubTaskRepo{counts: map[model.TaskStatus]int64{model.StatusPending: 1}}
	grading := biz.NewGradingUsecase(nil, tasks, stubFiles{}, keys, keyring,
		&biz.GraderSet{Primary: stubGrader{}}, nil, logger)

	d, cleanup, err := data.NewData(nil, logger, rdb, nil)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	monitor := biz.NewMonitorUsecase(nil, data.NewMonitorRepo(d, logger), tasks, keys, keyring, logger)

	return NewAdminService(grading, keys, keyring, monitor, logger)
}

func TestAdminService_ListKeyMetrics(t *testing.T) {
	svc := newAdminService(t)
	ctx := context.Background()

	reply, err := svc.ListKeyMetrics(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, provider.NameGemini, reply.Provider)
	require.Len(t, reply.Keys, 2)
	assert.Equal(t, "gemini-1", reply.Keys[0].KeyID)
}

func TestAdminService_ListKeyMetrics_UnknownProvider(t *testing.T) {
	svc := newAdminService(t)

	_, err := svc.ListKeyMetrics(context.Background(), "openai")
	require.Error(t, err)
	assert.True(t, kerrors.IsNotFound(err))
}

func TestAdminService_KeyControls(t *testing.T) {
	svc := newAdminService(t)
	ctx := context.Background()

	reply, err := svc.MarkThrottled(ctx, "gemini-1", &ThrottleRequest{Seconds: 300})
	require.NoError(t, err)
	assert.True(t, reply.Success)

	metrics, err := svc.ListKeyMetrics(ctx, "")
	require.NoError(t, err)
	assert.True(t, metrics.Keys[0].IsThrottled)

	_, err = svc.ClearThrottle(ctx, "gemini-1")
	require.NoError(t, err)

	metrics, err = svc.ListKeyMetrics(ctx, "")
	require.NoError(t, err)
	assert.False(t, metrics.Keys[0].IsThrottled)

	_, err = svc.ResetKey(ctx, "gemini-1")
	require.NoError(t, err)
}

func TestAdminService_KeyControls_Validation(t *testing.T) {
	svc := newAdminService(t)
	ctx := context.Background()

	_, err := svc.ResetKey(ctx, "bogus")
	assert.True(t, kerrors.IsBadRequest(err))

	_, err = svc.ResetKey(ctx, "gemini-9")
	assert.True(t, kerrors.IsNotFound(err))

	_, err = svc.MarkThrottled(ctx, "gemini-1", &ThrottleRequest{Seconds: 0})
	assert.True(t, kerrors.IsBadRequest(err))
}

func TestAdminService_SystemMetrics_SamplesWhenEmpty(t *testing.T) {
	svc := newAdminService(t)

	snap, err := svc.SystemMetrics(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.KeyStats.TotalKeys)
	assert.Equal(t, int64(1), snap.Tasks[model.StatusPending])
}

func TestAdminService_Grade_Validation(t *testing.T) {
	svc := newAdminService(t)
	ctx := context.Background()

	_, err := svc.Grade(ctx, &GradeRequest{})
	assert.True(t, kerrors.IsBadRequest(err))

	_, err = svc.Grade(ctx, &GradeRequest{ResultID: "missing"})
	require.Error(t, err)
	assert.EqualError(t, err, "Grading result not found")
}
