// Package database opens the relational store and keeps its schema current.
package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/achievements-bot/internal/access"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/ledger"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/members"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table of the bot.
func Models() []any {
	models := append([]any{}, ledger.Models()...)
	models = append(models, access.Models()...)
	return append(models, &members.Member{}, &migrationRecord{})
}

// Migrate creates missing tables and applies the named one-shot migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("database: auto migrate: %w", err)
	}
	return applyMigrations(db, logger)
}
