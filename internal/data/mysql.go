package data

import (
	"fmt"
	"time"

	"GradeLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// NewMySQLClient opens the GORM connection holding grading tasks, files and
// rubrics. Unlike Redis this store is required: grading cannot claim or
// persist tasks without it, so any failure here aborts startup.
func NewMySQLClient(c *conf.Data, l log.Logger) (*gorm.DB, func(), error) {
	helper := log.NewHelper(l)

	if c == nil || c.Database == nil || c.Database.Source == "" {
		return nil, nil, fmt.Errorf("database source is required")
	}

	db, err := gorm.Open(mysql.Open(c.Database.Source), &gorm.Config{
		Logger: logger.New(&gormLogAdapter{helper: helper}, logger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true, // lookups miss routinely, the repo maps them itself
			Colorful:                  false,
		}),
		// Each task update is a single row write, wrapping it in a
		// transaction by default only adds round trips.
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("get sql.DB: %w", err)
	}
	tunePool(sqlDB)

	if err := sqlDB.Ping(); err != nil {
		return nil, nil, fmt.Errorf("ping mysql: %w", err)
	}
	helper.Info("connected to mysql")

	cleanup := func() {
		helper.Info("closing mysql connection")
		if err := sqlDB.Close(); err != nil {
			helper.Errorf("close mysql: %v", err)
		}
	}
	return db, cleanup, nil
}

type sqlPool interface {
	SetMaxIdleConns(int)
	SetMaxOpenConns(int)
	SetConnMaxLifetime(time.Duration)
	SetConnMaxIdleTime(time.Duration)
}

// tunePool caps open connections below the typical MySQL default so a
// burst of grading workers cannot exhaust the server.
func tunePool(p sqlPool) {
	p.SetMaxIdleConns(10)
	p.SetMaxOpenConns(100)
	p.SetConnMaxLifetime(time.Hour)
	p.SetConnMaxIdleTime(10 * time.Minute)
}

// gormLogAdapter routes GORM's own logging through the service logger.
type gormLogAdapter struct {
	helper *log.Helper
}

func (g *gormLogAdapter) Printf(format string, v ...interface{}) {
	g.helper.Infof(format, v...)
}
