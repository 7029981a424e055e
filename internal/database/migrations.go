package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/achievements-bot/internal/ledger"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/stickers"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillAchievedCount = "2024-06-01_backfill_description_times_achieved"
	migrationNormalizeStickerTypes = "2024-06-02_normalize_sticker_types"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeStickerTypes, apply: normalizeStickerTypes},
		{name: migrationBackfillAchievedCount, apply: backfillAchievedCount},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeStickerTypes lowercases and trims slot kinds written by older releases.
func normalizeStickerTypes(db *gorm.DB) error {
	for _, model := range []any{&ledger.ChatSticker{}, &ledger.UserSticker{}} {
		err := db.Model(model).
			Where("type <> LOWER(TRIM(type))").
			Update("type", gorm.Expr("LOWER(TRIM(type))")).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// backfillAchievedCount gives description slots without a count the count of their first grant.
func backfillAchievedCount(db *gorm.DB) error {
	return db.Model(&ledger.ChatSticker{}).
		Where("type = ? AND times_achieved IS NULL", string(stickers.KindDescription)).
		Update("times_achieved", 1).Error
}
