package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB 按驱动打开数据库并迁移表结构
func InitDB(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  logger.Default.LogMode(logger.Silent),
	}

	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pg":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite", "sqlite3", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("models: unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("models: open database: %w", err)
	}
	if err := db.AutoMigrate(&Collection{}, &Task{}); err != nil {
		return nil, fmt.Errorf("models: migrate: %w", err)
	}
	return db, nil
}

// Collection 实体集合的持久化行，Payload 为 JSON 数组
type Collection struct {
	Key       string    `gorm:"column:collection_key;primaryKey;type:varchar(64)"`
	Payload   string    `gorm:"type:text"`
	UpdatedAt time.Time
}

func (Collection) TableName() string {
	return "collections"
}
