package data

import (
	"context"
	"time"

	"GradeLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	redisDialTimeout = 3 * time.Second
	redisPingTimeout = 3 * time.Second
)

// NewRedisClient opens the Redis client backing key health tracking and
// monitoring snapshots. The service can run without Redis (key selection
// degrades to a blind random pick), so an unreachable server logs a warning
// instead of aborting startup; go-redis reconnects once it comes back.
func NewRedisClient(c *conf.Data, logger log.Logger) (*redis.Client, func(), error) {
	helper := log.NewHelper(logger)

	if c == nil || c.Redis == nil || c.Redis.Addr == "" {
		helper.Warn("no redis address configured, key health tracking is disabled")
		return nil, func() {}, nil
	}

	rdb := redis.NewClient(redisOptions(c.Redis))

	cleanup := func() {
		helper.Info("closing redis client")
		if err := rdb.Close(); err != nil {
			helper.Errorf("close redis client: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		helper.Warnf("key health store at %s is unreachable: %v (continuing without it)", c.Redis.Addr, err)
		return rdb, cleanup, nil
	}

	helper.Infof("connected to redis at %s", c.Redis.Addr)
	return rdb, cleanup, nil
}

// redisOptions sizes the pool for many concurrent grading workers sharing
// one client; hash updates are small so idle connections are recycled fast.
func redisOptions(c *conf.Data_Redis) *redis.Options {
	return &redis.Options{
		Addr:            c.Addr,
		DB:              0,
		PoolSize:        100,
		MinIdleConns:    10,
		DialTimeout:     redisDialTimeout,
		ReadTimeout:     c.ReadTimeout.AsDuration(),
		WriteTimeout:    c.WriteTimeout.AsDuration(),
		ConnMaxIdleTime: 5 * time.Minute,
	}
}
