package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/d60-Lab/marketplace/config"
	"github.com/d60-Lab/marketplace/internal/model"
)

// InitDB 按配置打开数据库并设置连接池
func InitDB(cfg *config.Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(logLevel(cfg.Database.LogLevel))}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Database.Driver {
	case "sqlite":
		return openSQLite(cfg.Database.DSN, gcfg)
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.Database.DSN), gcfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	return db, nil
}

// OpenSQLite 打开 sqlite 文件库（本地开发与测试）
func OpenSQLite(path string) (*gorm.DB, error) {
	return openSQLite(path, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
}

func openSQLite(path string, gcfg *gorm.Config) (*gorm.DB, error) {
	dsn := path + "?_busy_timeout=5000&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), gcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite 只有一个写者，单连接让事务天然串行
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return db, nil
}

// AutoMigrate 初始化全部表结构
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.User{},
		&model.SellerProfile{},
		&model.Product{},
		&model.Order{},
		&model.OrderItem{},
		&model.OrderStatusHistory{},
		&model.PaymentReceipt{},
		&model.PaymentVerificationLog{},
		&model.Review{},
		&model.Outbox{},
	); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// Close 关闭底层连接
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func logLevel(s string) gormlogger.LogLevel {
	switch s {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
