package storage

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Gopher0727/ChatSync/config"
)

// InitPostgres 初始化 PostgreSQL 连接并迁移给定模型
func InitPostgres(cfg *config.PostgresConfig, log *zap.Logger, models ...any) (*gorm.DB, error) {
	dsn := BuildDSN(cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Error("连接数据库失败", zap.Error(err))
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}

	// 获取底层 sql.DB 对象以设置连接池
	sqlDB, err := db.DB()
	if err != nil {
		log.Error("获取 sql.DB 失败", zap.Error(err))
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			log.Error("模型迁移失败", zap.Error(err))
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return db, nil
}

// BuildDSN 构建PostgreSQL DSN
func BuildDSN(host, port, user, password, dbname string) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", host, port, user, password, dbname)
}
