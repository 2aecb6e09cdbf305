// Package data provides data access layer implementations.
// It handles the health store, task persistence and provider clients.
package data

import (
	"GradeLane/internal/biz"
	"GradeLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewMySQLClient,
	NewKeyHealthRepo,
	NewGradingRepo,
	NewRubricCache,
	NewMonitorRepo,
	NewDiskFileStore,
	NewGraderSet,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(biz.KeyHealthRepo), new(*KeyHealthRepo)),
	wire.Bind(new(biz.GradingRepo), new(*GradingRepo)),
	wire.Bind(new(biz.MonitorRepo), new(*MonitorRepo)),
	wire.Bind(new(biz.FileStore), new(*DiskFileStore)),
)

// Data contains all data layer dependencies.
type Data struct {
	redisClient *redis.Client
	db          *gorm.DB
}

// NewData creates a new Data instance with all data layer dependencies.
// Redis connection failure does not prevent application startup (graceful degradation).
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, db *gorm.DB) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, key health tracking will be unavailable")
	}

	d := &Data{
		redisClient: rdb,
		db:          db,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		// Redis and MySQL cleanups are owned by their own constructors
		// and invoked by Wire.
	}

	return d, cleanup, nil
}

// GetRedisClient returns the Redis client for advanced operations.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}

// GetDB returns the GORM handle for repository use.
func (d *Data) GetDB() *gorm.DB {
	return d.db
}
