package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/achievements-bot/internal/stickers"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMixedScopes     = errors.New("rows belong to different collections")
	errMissingPrompt   = errors.New("prompt text is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a stable `operation.reason` code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opNew             = "ledger.new"
	opRows            = "ledger.rows"
	opUpsertRows      = "ledger.upsert_rows"
	opFindByEngraving = "ledger.find_by_engraving"
	opFindByUniqueID  = "ledger.find_by_unique_id"
	opCollections     = "ledger.collections"
	opBlobPaths       = "ledger.blob_paths"
	opDeleteAll       = "ledger.delete_all"
	opRecordPrompt    = "ledger.record_prompt"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Config describes the dependencies of the Ledger.
type Config struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Ledger is the relational mirror of every remote collection.
type Ledger struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// New validates the configuration and returns a Ledger.
func New(cfg Config) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Ledger{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Rows returns the mirror rows of one collection ordered by slot index.
func (l *Ledger) Rows(ctx context.Context, scope stickers.Scope) ([]stickers.MirrorRow, error) {
	if err := scope.Validate(); err != nil {
		return nil, newServiceError(opRows, "invalid_scope", err)
	}
	return l.rows(l.db.WithContext(ctx), scope)
}

func (l *Ledger) rows(db *gorm.DB, scope stickers.Scope) ([]stickers.MirrorRow, error) {
	var rows []stickers.MirrorRow
	if scope.Kind == stickers.ScopeChat {
		var records []ChatSticker
		if err := db.Where("chat_id = ?", scope.ChatID).Order("index_in_sticker_set ASC").Find(&records).Error; err != nil {
			l.logError(opRows, "query_failed", err, zap.String("scope", scope.String()))
			return nil, newServiceError(opRows, "query_failed", err)
		}
		rows = make([]stickers.MirrorRow, 0, len(records))
		for _, record := range records {
			row, err := record.toMirrorRow()
			if err != nil {
				return nil, newServiceError(opRows, "invalid_row", err)
			}
			rows = append(rows, row)
		}
		return rows, nil
	}

	var records []UserSticker
	if err := db.Where("chat_id = ? AND user_id = ?", scope.ChatID, scope.UserID).Order("index_in_sticker_set ASC").Find(&records).Error; err != nil {
		l.logError(opRows, "query_failed", err, zap.String("scope", scope.String()))
		return nil, newServiceError(opRows, "query_failed", err)
	}
	rows = make([]stickers.MirrorRow, 0, len(records))
	for _, record := range records {
		row, err := record.toMirrorRow()
		if err != nil {
			return nil, newServiceError(opRows, "invalid_row", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// UpsertRows writes rows of a single collection, replacing rows at the same slot in place.
func (l *Ledger) UpsertRows(ctx context.Context, rows []stickers.MirrorRow) error {
	if len(rows) == 0 {
		return nil
	}
	scope := rows[0].Scope()
	for _, row := range rows[1:] {
		if row.Scope() != scope {
			return newServiceError(opUpsertRows, "mixed_scopes", errMixedScopes)
		}
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return l.upsert(tx, scope, rows)
	})
}

func (l *Ledger) upsert(tx *gorm.DB, scope stickers.Scope, rows []stickers.MirrorRow) error {
	updated := []string{
		"file_id", "file_unique_id", "type", "engraving_text", "sticker_set_name",
		"sticker_set_owner_id", "file_path", "updated_at",
	}
	if scope.Kind == stickers.ScopeChat {
		records := make([]ChatSticker, 0, len(rows))
		for _, row := range rows {
			records = append(records, chatStickerFromRow(row))
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}, {Name: "index_in_sticker_set"}},
			DoUpdates: clause.AssignmentColumns(append(updated, "times_achieved")),
		}).Create(&records).Error
		if err != nil {
			l.logError(opUpsertRows, "upsert_failed", err, zap.String("scope", scope.String()))
			return newServiceError(opUpsertRows, "upsert_failed", err)
		}
		return nil
	}

	records := make([]UserSticker, 0, len(rows))
	for _, row := range rows {
		records = append(records, userStickerFromRow(row))
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}, {Name: "user_id"}, {Name: "index_in_sticker_set"}},
		DoUpdates: clause.AssignmentColumns(updated),
	}).Create(&records).Error
	if err != nil {
		l.logError(opUpsertRows, "upsert_failed", err, zap.String("scope", scope.String()))
		return newServiceError(opUpsertRows, "upsert_failed", err)
	}
	return nil
}

// Update is the unit of work of a grant: it reads the collection's rows, lets fn compute and
// apply remote changes, and writes the rows fn returns in one transaction. When fn fails
// nothing is written and its error is returned unchanged.
//
// The rows are read outside the write transaction. Callers must hold the chat's lock
// for the whole call; that lock is what keeps the read-then-write consistent.
func (l *Ledger) Update(ctx context.Context, scope stickers.Scope, fn func(rows []stickers.MirrorRow) ([]stickers.MirrorRow, error)) error {
	rows, err := l.Rows(ctx, scope)
	if err != nil {
		return err
	}
	next, err := fn(rows)
	if err != nil {
		return err
	}
	for _, row := range next {
		if row.Scope() != scope {
			return newServiceError(opUpsertRows, "mixed_scopes", errMixedScopes)
		}
	}
	if len(next) == 0 {
		return nil
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return l.upsert(tx, scope, next)
	})
}

// FindByEngraving returns the chat description whose engraving equals text exactly.
func (l *Ledger) FindByEngraving(ctx context.Context, chatID int64, text string) (stickers.MirrorRow, bool, error) {
	var record ChatSticker
	err := l.db.WithContext(ctx).
		Where("chat_id = ? AND type = ? AND engraving_text = ?", chatID, string(stickers.KindDescription), text).
		Order("index_in_sticker_set ASC").
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return stickers.MirrorRow{}, false, nil
	}
	if err != nil {
		l.logError(opFindByEngraving, "query_failed", err, zap.Int64("chat_id", chatID))
		return stickers.MirrorRow{}, false, newServiceError(opFindByEngraving, "query_failed", err)
	}
	row, err := record.toMirrorRow()
	if err != nil {
		return stickers.MirrorRow{}, false, newServiceError(opFindByEngraving, "invalid_row", err)
	}
	return row, true, nil
}

// FindByUniqueID resolves an item of the chat collection by its stable remote identity.
func (l *Ledger) FindByUniqueID(ctx context.Context, chatID int64, uniqueID string) (stickers.MirrorRow, bool, error) {
	var record ChatSticker
	err := l.db.WithContext(ctx).
		Where("chat_id = ? AND file_unique_id = ?", chatID, uniqueID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return stickers.MirrorRow{}, false, nil
	}
	if err != nil {
		l.logError(opFindByUniqueID, "query_failed", err, zap.Int64("chat_id", chatID))
		return stickers.MirrorRow{}, false, newServiceError(opFindByUniqueID, "query_failed", err)
	}
	row, err := record.toMirrorRow()
	if err != nil {
		return stickers.MirrorRow{}, false, newServiceError(opFindByUniqueID, "invalid_row", err)
	}
	return row, true, nil
}

// RowAt returns the row of one slot of a collection.
func (l *Ledger) RowAt(ctx context.Context, scope stickers.Scope, index int) (stickers.MirrorRow, bool, error) {
	rows, err := l.Rows(ctx, scope)
	if err != nil {
		return stickers.MirrorRow{}, false, err
	}
	for _, row := range rows {
		if row.SlotIndex == index {
			return row, true, nil
		}
	}
	return stickers.MirrorRow{}, false, nil
}

// CollectionSummary describes one collection of a chat.
type CollectionSummary struct {
	Name         string `json:"name"`
	Scope        string `json:"scope"`
	UserID       int64  `json:"user_id,omitempty"`
	Slots        int    `json:"slots"`
	Achievements int    `json:"achievements"`
}

// Collections summarizes every collection recorded for a chat, chat collection first.
func (l *Ledger) Collections(ctx context.Context, chatID int64) ([]CollectionSummary, error) {
	var chatRecords []ChatSticker
	if err := l.db.WithContext(ctx).Where("chat_id = ?", chatID).Find(&chatRecords).Error; err != nil {
		l.logError(opCollections, "query_failed", err, zap.Int64("chat_id", chatID))
		return nil, newServiceError(opCollections, "query_failed", err)
	}
	var userRecords []UserSticker
	if err := l.db.WithContext(ctx).Where("chat_id = ?", chatID).Find(&userRecords).Error; err != nil {
		l.logError(opCollections, "query_failed", err, zap.Int64("chat_id", chatID))
		return nil, newServiceError(opCollections, "query_failed", err)
	}

	summaries := make([]CollectionSummary, 0, 1+len(userRecords)/stickers.BandSize)
	if len(chatRecords) > 0 {
		summary := CollectionSummary{Name: chatRecords[0].CollectionName, Scope: string(stickers.ScopeChat)}
		for _, record := range chatRecords {
			summary.Slots++
			if record.Kind == string(stickers.KindAchievement) {
				summary.Achievements++
			}
		}
		summaries = append(summaries, summary)
	}

	byName := map[string]*CollectionSummary{}
	names := make([]string, 0)
	for _, record := range userRecords {
		summary, ok := byName[record.CollectionName]
		if !ok {
			summary = &CollectionSummary{Name: record.CollectionName, Scope: string(stickers.ScopeUser), UserID: record.UserID}
			byName[record.CollectionName] = summary
			names = append(names, record.CollectionName)
		}
		summary.Slots++
		if record.Kind == string(stickers.KindAchievement) {
			summary.Achievements++
		}
	}
	sort.Strings(names)
	for _, name := range names {
		summaries = append(summaries, *byName[name])
	}
	return summaries, nil
}

// CollectionNames lists the distinct collection names of a chat.
func (l *Ledger) CollectionNames(ctx context.Context, chatID int64) ([]string, error) {
	summaries, err := l.Collections(ctx, chatID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(summaries))
	for _, summary := range summaries {
		names = append(names, summary.Name)
	}
	return names, nil
}

// BlobPaths lists the distinct blob paths referenced by a chat's rows.
func (l *Ledger) BlobPaths(ctx context.Context, chatID int64) ([]string, error) {
	var chatPaths []string
	if err := l.db.WithContext(ctx).Model(&ChatSticker{}).Where("chat_id = ?", chatID).Distinct().Pluck("file_path", &chatPaths).Error; err != nil {
		l.logError(opBlobPaths, "query_failed", err, zap.Int64("chat_id", chatID))
		return nil, newServiceError(opBlobPaths, "query_failed", err)
	}
	var userPaths []string
	if err := l.db.WithContext(ctx).Model(&UserSticker{}).Where("chat_id = ?", chatID).Distinct().Pluck("file_path", &userPaths).Error; err != nil {
		l.logError(opBlobPaths, "query_failed", err, zap.Int64("chat_id", chatID))
		return nil, newServiceError(opBlobPaths, "query_failed", err)
	}
	seen := map[string]struct{}{}
	paths := make([]string, 0, len(chatPaths)+len(userPaths))
	for _, path := range append(chatPaths, userPaths...) {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// DeleteReport counts the rows removed by DeleteAll.
type DeleteReport struct {
	ChatRows int64
	UserRows int64
}

// DeleteAll wipes every mirror row of a chat.
func (l *Ledger) DeleteAll(ctx context.Context, chatID int64) (DeleteReport, error) {
	var report DeleteReport
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chatResult := tx.Where("chat_id = ?", chatID).Delete(&ChatSticker{})
		if chatResult.Error != nil {
			return chatResult.Error
		}
		userResult := tx.Where("chat_id = ?", chatID).Delete(&UserSticker{})
		if userResult.Error != nil {
			return userResult.Error
		}
		report = DeleteReport{ChatRows: chatResult.RowsAffected, UserRows: userResult.RowsAffected}
		return nil
	})
	if err != nil {
		l.logError(opDeleteAll, "delete_failed", err, zap.Int64("chat_id", chatID))
		return DeleteReport{}, newServiceError(opDeleteAll, "delete_failed", err)
	}
	return report, nil
}

// PromptRecord is one entry of the prompt log.
type PromptRecord struct {
	ChatID     int64
	FromUserID int64
	ToUserID   int64
	Message    string
	Prompt     string
}

// RecordPrompt appends a grant request to the prompt log.
func (l *Ledger) RecordPrompt(ctx context.Context, record PromptRecord) error {
	if strings.TrimSpace(record.Prompt) == "" {
		return newServiceError(opRecordPrompt, "missing_prompt", errMissingPrompt)
	}
	message := AchievementMessage{
		ChatID:     record.ChatID,
		FromUserID: record.FromUserID,
		ToUserID:   record.ToUserID,
		Message:    record.Message,
		Prompt:     record.Prompt,
		CreatedAt:  l.clock().UTC(),
	}
	if err := l.db.WithContext(ctx).Create(&message).Error; err != nil {
		l.logError(opRecordPrompt, "insert_failed", err, zap.Int64("chat_id", record.ChatID))
		return newServiceError(opRecordPrompt, "insert_failed", err)
	}
	return nil
}

func (l *Ledger) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	l.logger.Error("ledger error", attrs...)
}
