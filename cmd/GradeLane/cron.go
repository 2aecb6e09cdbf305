package main

import (
	"context"
	"time"

	"GradeLane/internal/biz"
	"GradeLane/pkg/provider"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// StartMonitorCron 启动监控定时任务
// 每分钟采样指标并检查告警；每 5 分钟回收卡死的 PROCESSING 任务
func StartMonitorCron(
	monitor *biz.MonitorUsecase,
	keys *biz.KeyHealthUsecase,
	keyring *biz.Keyring,
	logger log.Logger,
) (*cron.Cron, func(), error) {
	helper := log.NewHelper(logger)

	// 预创建整个 key 池的健康记录，首次选 key 时不再有初始化竞争
	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, name := range []string{provider.NameGemini, provider.NameOpenAI, provider.NameOllama} {
		ids := keyring.CandidateIDs(name)
		if len(ids) == 0 {
			continue
		}
		if err := keys.InitializeKeys(initCtx, ids); err != nil {
			helper.Warnw("msg", "failed to initialize key pool", "provider", name, "error", err)
		}
	}

	c := cron.New(cron.WithSeconds())

	// 每分钟整点采样（秒 分 时 日 月 周）
	if _, err := c.AddFunc("0 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if _, err := monitor.CheckAlerts(ctx); err != nil {
			helper.Errorw("msg", "metrics sampling failed", "error", err)
		}
	}); err != nil {
		return nil, nil, err
	}

	// 每 5 分钟回收一次超时任务
	if _, err := c.AddFunc("0 */5 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if _, err := monitor.RequeueStaleTasks(ctx); err != nil {
			helper.Errorw("msg", "stale task requeue failed", "error", err)
		}
	}); err != nil {
		return nil, nil, err
	}

	c.Start()
	helper.Info("monitor cron started: sampling every minute, stale requeue every 5 minutes")

	cleanup := func() {
		<-c.Stop().Done()
	}
	return c, cleanup, nil
}
