package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"narrator-server-go/internal/platform/storage/migrations"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultDSN is used when no sqlite DSN is configured.
const DefaultDSN = "data/narrator.db"

var (
	dbMu sync.Mutex
	db   *gorm.DB
)

// Open 打开 SQLite 数据库并执行迁移。
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = DefaultDSN
	}

	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
	}

	handle, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := Migrate(handle); err != nil {
		return nil, err
	}
	return handle, nil
}

// CacheMigrator returns the migrator for the audio cache schema.
func CacheMigrator(handle *gorm.DB) *Migrator {
	return NewMigrator(handle,
		&migrations.Migration001AudioRecords{},
	)
}

// Migrate applies all pending audio cache migrations.
func Migrate(handle *gorm.DB) error {
	if _, err := CacheMigrator(handle).Apply(context.Background()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// InitDatabase initializes the process-wide database handle once.
func InitDatabase(dsn string) error {
	dbMu.Lock()
	defer dbMu.Unlock()
	if db != nil {
		return nil
	}
	handle, err := Open(dsn)
	if err != nil {
		return err
	}
	db = handle
	return nil
}

// GetDB returns the process-wide database handle, or nil when not initialised.
func GetDB() *gorm.DB {
	dbMu.Lock()
	defer dbMu.Unlock()
	return db
}

// CloseDatabase releases the process-wide database handle.
func CloseDatabase() error {
	dbMu.Lock()
	defer dbMu.Unlock()
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	db = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AudioRecord 已合成音频片段的持久化模型
type AudioRecord struct {
	ID        uint           `gorm:"primaryKey"`
	CacheKey  string         `gorm:"column:cache_key;type:varchar(64);uniqueIndex;not null"`
	MIMEType  string         `gorm:"column:mime_type;type:varchar(64);not null"`
	Data      []byte         `gorm:"column:data;not null"`
	Size      int            `gorm:"column:size"`
	Meta      datatypes.JSON `gorm:"column:meta"`
	HitCount  int64          `gorm:"column:hit_count"`
	CreatedAt time.Time      `gorm:"column:created_at"`
	LastHitAt *time.Time     `gorm:"column:last_hit_at"`
}

// TableName 固定表名，与迁移保持一致
func (AudioRecord) TableName() string {
	return "audio_records"
}
