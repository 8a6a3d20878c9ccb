package audiocache

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"narrator-server-go/internal/domain/audio"
	"narrator-server-go/internal/platform/errors"
	"narrator-server-go/internal/platform/storage"

	"github.com/bytedance/sonic"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type sqliteStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewSQLite builds a SQLite-backed audio store on the audio_records table.
func NewSQLite(db *gorm.DB, cfg Config) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	return &sqliteStore{db: db, ttl: cfg.TTL}, nil
}

func (s *sqliteStore) Get(ctx context.Context, key string) (*audio.Buffer, bool, error) {
	var rec storage.AudioRecord
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).First(&rec).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(errors.KindCache, "audiocache.sqlite.get", "failed to read cached audio", err)
	}

	if s.ttl > 0 && time.Since(rec.CreatedAt) > s.ttl {
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}

	now := time.Now()
	s.db.WithContext(ctx).Model(&storage.AudioRecord{}).
		Where("id = ?", rec.ID).
		UpdateColumns(map[string]any{
			"hit_count":   gorm.Expr("hit_count + 1"),
			"last_hit_at": now,
		})

	return audio.NewBuffer(rec.Data, rec.MIMEType), true, nil
}

func (s *sqliteStore) Put(ctx context.Context, key string, buf *audio.Buffer, meta Meta) error {
	if buf == nil {
		return nil
	}
	raw, err := sonic.Marshal(meta)
	if err != nil {
		return err
	}
	rec := &storage.AudioRecord{
		CacheKey:  key,
		MIMEType:  buf.MIMEType,
		Data:      buf.Data,
		Size:      len(buf.Data),
		Meta:      datatypes.JSON(raw),
		CreatedAt: time.Now(),
	}
	// 已存在的条目保持不变
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "cache_key"}}, DoNothing: true}).
		Create(rec).Error
	if err != nil {
		return errors.Wrap(errors.KindCache, "audiocache.sqlite.put", "failed to store audio", err)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&storage.AudioRecord{}).Error
}

func (s *sqliteStore) Len(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&storage.AudioRecord{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *sqliteStore) Stats(ctx context.Context) (map[string]any, error) {
	var row struct {
		Entries int64
		Bytes   int64
		Hits    int64
	}
	err := s.db.WithContext(ctx).Model(&storage.AudioRecord{}).
		Select("COUNT(*) AS entries, COALESCE(SUM(size), 0) AS bytes, COALESCE(SUM(hit_count), 0) AS hits").
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	version, err := storage.SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":           DriverSQLite,
		"entries":        row.Entries,
		"bytes":          row.Bytes,
		"hits":           row.Hits,
		"schema_version": version,
	}, nil
}

// Close 数据库句柄由 storage 包持有，这里不关闭
func (s *sqliteStore) Close(context.Context) error {
	return nil
}
