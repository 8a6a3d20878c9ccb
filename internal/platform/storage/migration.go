package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"narrator-server-go/internal/platform/errors"

	"gorm.io/gorm"
)

// SchemaMigration is one versioned change of the audio cache schema.
type SchemaMigration interface {
	Version() string
	Description() string
	Up(tx *gorm.DB) error
	Down(tx *gorm.DB) error
}

// MigrationRecord 已应用的迁移
type MigrationRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Version   string    `gorm:"uniqueIndex;not null"`
	Name      string    `gorm:"not null"`
	AppliedAt time.Time `gorm:"not null"`
}

func (MigrationRecord) TableName() string {
	return "schema_migrations"
}

// Migrator applies schema migrations in registration order. Each migration
// and its bookkeeping row share one transaction.
type Migrator struct {
	db    *gorm.DB
	steps []SchemaMigration
}

func NewMigrator(db *gorm.DB, steps ...SchemaMigration) *Migrator {
	return &Migrator{db: db, steps: steps}
}

// Apply runs every pending migration and returns the versions it applied.
func (m *Migrator) Apply(ctx context.Context) ([]string, error) {
	db := m.db.WithContext(ctx)
	if err := db.AutoMigrate(&MigrationRecord{}); err != nil {
		return nil, errors.Wrap(errors.KindStorage, "migration.prepare", "failed to create schema_migrations", err)
	}

	done := make(map[string]struct{})
	var versions []string
	if err := db.Model(&MigrationRecord{}).Pluck("version", &versions).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "migration.applied", "failed to read applied migrations", err)
	}
	for _, v := range versions {
		done[v] = struct{}{}
	}

	var applied []string
	for _, step := range m.steps {
		if _, ok := done[step.Version()]; ok {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := step.Up(tx); err != nil {
				return err
			}
			return tx.Create(&MigrationRecord{
				Version:   step.Version(),
				Name:      step.Description(),
				AppliedAt: time.Now(),
			}).Error
		})
		if err != nil {
			return applied, errors.Wrap(errors.KindStorage, "migration.up", fmt.Sprintf("migration %s failed", step.Version()), err)
		}
		applied = append(applied, step.Version())
	}
	return applied, nil
}

// Revert undoes one applied migration.
func (m *Migrator) Revert(ctx context.Context, version string) error {
	var step SchemaMigration
	for _, s := range m.steps {
		if s.Version() == version {
			step = s
			break
		}
	}
	if step == nil {
		return errors.New(errors.KindStorage, "migration.down", fmt.Sprintf("migration %s not registered", version))
	}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec MigrationRecord
		if err := tx.Where("version = ?", version).First(&rec).Error; err != nil {
			return err
		}
		if err := step.Down(tx); err != nil {
			return err
		}
		return tx.Delete(&rec).Error
	})
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.New(errors.KindNotFound, "migration.down", fmt.Sprintf("migration %s not applied", version))
	}
	if err != nil {
		return errors.Wrap(errors.KindStorage, "migration.down", fmt.Sprintf("revert %s failed", version), err)
	}
	return nil
}

// SchemaVersion returns the most recently applied migration, or "" for an
// empty schema.
func SchemaVersion(ctx context.Context, db *gorm.DB) (string, error) {
	var rec MigrationRecord
	err := db.WithContext(ctx).Order("applied_at DESC").Order("id DESC").Limit(1).Find(&rec).Error
	if err != nil {
		return "", errors.Wrap(errors.KindStorage, "migration.version", "failed to read schema version", err)
	}
	return rec.Version, nil
}
