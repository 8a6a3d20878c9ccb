package migrations

import (
	"gorm.io/gorm"
)

// Migration001AudioRecords 创建音频缓存表
type Migration001AudioRecords struct{}

func (m *Migration001AudioRecords) Version() string {
	return "001_audio_records"
}

func (m *Migration001AudioRecords) Description() string {
	return "Create audio_records table for synthesized chunk audio"
}

func (m *Migration001AudioRecords) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audio_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cache_key VARCHAR(64) NOT NULL UNIQUE,
			mime_type VARCHAR(64) NOT NULL,
			data BLOB NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			meta JSON,
			hit_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			last_hit_at DATETIME
		)
	`).Error; err != nil {
		return err
	}

	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_audio_records_created_at ON audio_records(created_at)`).Error; err != nil {
		return err
	}
	return nil
}

func (m *Migration001AudioRecords) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS audio_records`).Error
}
