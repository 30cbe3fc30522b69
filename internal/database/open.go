package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/docintake/config"
)

// Dialector 按驱动名选择 GORM 方言。SQLite 使用纯 Go 实现。
func Dialector(dc config.DatabaseConfig) (gorm.Dialector, error) {
	dsn := dc.DSN()
	switch strings.ToLower(dc.Driver) {
	case "postgres", "postgresql", "pg":
		return postgres.Open(dsn), nil
	case "mysql", "mariadb":
		return mysql.Open(dsn), nil
	case "sqlite", "sqlite3":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", dc.Driver)
	}
}

// Open 打开数据库并包装为 PoolManager
func Open(dc config.DatabaseConfig, logger *zap.Logger) (*PoolManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, err := Dialector(dc)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dc.Driver, err)
	}

	pm, err := NewPoolManager(db, PoolConfigFrom(dc), logger)
	if err != nil {
		return nil, err
	}
	logger.Info("database connected",
		zap.String("driver", dc.Driver),
		zap.String("name", dc.Name),
	)
	return pm, nil
}
