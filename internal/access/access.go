// Package access holds the chat roles, bans and usage warnings of the bot.
package access

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Window is the period interaction limits and warnings are counted in.
const Window = 24 * time.Hour

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingCounter  = errors.New("interaction counter is required")

	// ErrOwnerAlreadyDefined is returned when a chat already has a stickerset owner.
	ErrOwnerAlreadyDefined = errors.New("access: stickerset owner already defined")
	// ErrNoOwnershipRequest is returned when a user assigns a chat they never requested.
	ErrNoOwnershipRequest = errors.New("access: no pending ownership request")
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
	opNew              = "access.new"
	opOwner            = "access.owner"
	opRequestOwnership = "access.request_ownership"
	opPendingRequests  = "access.pending_requests"
	opAssignOwner      = "access.assign_owner"
	opReleaseOwner     = "access.release_owner"
	opBan              = "access.ban"
	opUnban            = "access.unban"
	opIsBanned         = "access.is_banned"
	opWarn             = "access.warn"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: operation + "." + reason, err: cause}
}

// Policy limits one kind of interaction.
// A negative MaxInteractions warns on every interaction.
type Policy struct {
	Interaction     string
	WarningType     string
	MaxInteractions int
	BanAfter        int
}

var (
	ShowPolicy     = Policy{Interaction: "show_stickers", WarningType: "show_stickers_invocations_exceed", MaxInteractions: 20, BanAfter: 5}
	GivePolicy     = Policy{Interaction: "new_achievement", WarningType: "new_achievement_invocations_exceed", MaxInteractions: 2, BanAfter: 10}
	FormatPolicy   = Policy{Interaction: "phrase_wrong_achievement_message", WarningType: "incorrect_message_format", MaxInteractions: 10, BanAfter: 20}
	LanguagePolicy = Policy{Interaction: "phrase_achievement_message", WarningType: "inappropriate_language_in_achievement_message", MaxInteractions: -1, BanAfter: 20}
)

// Verdict is the outcome of counting an interaction.
type Verdict struct {
	Warnings int
	Banned   bool
}

// Warned reports whether the user must be told about the limit.
func (v Verdict) Warned() bool {
	return v.Warnings > 0
}

// WarnRequest describes one counted interaction.
type WarnRequest struct {
	UserID   int64
	Username string
	ChatID   int64
	Policy   Policy
}

// Config describes the dependencies of the Service.
type Config struct {
	Database *gorm.DB
	Counter  Counter
	Admins   []int64
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service answers who may do what in a chat.
type Service struct {
	db      *gorm.DB
	counter Counter
	admins  []int64
	clock   func() time.Time
	logger  *zap.Logger
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opNew, "missing_database", errMissingDatabase)
	}
	if cfg.Counter == nil {
		return nil, newServiceError(opNew, "missing_counter", errMissingCounter)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:      cfg.Database,
		counter: cfg.Counter,
		admins:  slices.Clone(cfg.Admins),
		clock:   clock,
		logger:  logger,
	}, nil
}

// IsAdmin reports whether the user is one of the configured bot admins.
func (s *Service) IsAdmin(userID int64) bool {
	return slices.Contains(s.admins, userID)
}

// Admins returns the configured admin ids.
func (s *Service) Admins() []int64 {
	return slices.Clone(s.admins)
}

// Owner returns the stickerset owner of a chat.
func (s *Service) Owner(ctx context.Context, chatID int64) (int64, bool, error) {
	var owner StickersetOwner
	err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Take(&owner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		s.logError(opOwner, "query_failed", err, zap.Int64("chat_id", chatID))
		return 0, false, newServiceError(opOwner, "query_failed", err)
	}
	return owner.UserID, true, nil
}

// RequestOwnership records a pending request; repeating it refreshes the request time.
func (s *Service) RequestOwnership(ctx context.Context, userID, chatID int64, chatTitle string) error {
	candidate := OwnerCandidate{UserID: userID, ChatID: chatID, ChatTitle: chatTitle, RequestedAt: s.clock().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"chat_title", "requested_at"}),
	}).Create(&candidate).Error
	if err != nil {
		s.logError(opRequestOwnership, "insert_failed", err, zap.Int64("chat_id", chatID), zap.Int64("user_id", userID))
		return newServiceError(opRequestOwnership, "insert_failed", err)
	}
	return nil
}

// PendingRequests lists the chats the user asked to own within the window, for chats still without owner.
func (s *Service) PendingRequests(ctx context.Context, userID int64) ([]OwnerCandidate, error) {
	var candidates []OwnerCandidate
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND requested_at >= ?", userID, s.clock().UTC().Add(-Window)).
		Where("chat_id NOT IN (?)", s.db.Model(&StickersetOwner{}).Select("chat_id")).
		Order("requested_at ASC").
		Find(&candidates).Error
	if err != nil {
		s.logError(opPendingRequests, "query_failed", err, zap.Int64("user_id", userID))
		return nil, newServiceError(opPendingRequests, "query_failed", err)
	}
	return candidates, nil
}

// AssignOwner turns a pending request into ownership.
func (s *Service) AssignOwner(ctx context.Context, userID, chatID int64) error {
	now := s.clock().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&StickersetOwner{}).Where("chat_id = ?", chatID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrOwnerAlreadyDefined
		}
		var requests int64
		if err := tx.Model(&OwnerCandidate{}).
			Where("user_id = ? AND chat_id = ? AND requested_at >= ?", userID, chatID, now.Add(-Window)).
			Count(&requests).Error; err != nil {
			return err
		}
		if requests == 0 {
			return ErrNoOwnershipRequest
		}
		if err := tx.Create(&StickersetOwner{ChatID: chatID, UserID: userID, AssignedAt: now}).Error; err != nil {
			return err
		}
		return tx.Where("chat_id = ?", chatID).Delete(&OwnerCandidate{}).Error
	})
	switch {
	case err == nil:
		s.logger.Info("stickerset owner assigned", zap.Int64("chat_id", chatID), zap.Int64("user_id", userID))
		return nil
	case errors.Is(err, ErrOwnerAlreadyDefined):
		return newServiceError(opAssignOwner, "already_defined", err)
	case errors.Is(err, ErrNoOwnershipRequest):
		return newServiceError(opAssignOwner, "no_request", err)
	default:
		s.logError(opAssignOwner, "transaction_failed", err, zap.Int64("chat_id", chatID), zap.Int64("user_id", userID))
		return newServiceError(opAssignOwner, "transaction_failed", err)
	}
}

// ReleaseOwner removes the chat's owner so a new one can be chosen.
func (s *Service) ReleaseOwner(ctx context.Context, chatID int64) error {
	if err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Delete(&StickersetOwner{}).Error; err != nil {
		s.logError(opReleaseOwner, "delete_failed", err, zap.Int64("chat_id", chatID))
		return newServiceError(opReleaseOwner, "delete_failed", err)
	}
	return nil
}

func (s *Service) Ban(ctx context.Context, userID int64, username string) error {
	record := BannedUser{UserID: userID, Username: username, BannedAt: s.clock().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username"}),
	}).Create(&record).Error
	if err != nil {
		s.logError(opBan, "insert_failed", err, zap.Int64("user_id", userID))
		return newServiceError(opBan, "insert_failed", err)
	}
	s.logger.Info("user banned", zap.Int64("user_id", userID), zap.String("username", username))
	return nil
}

// Unban lifts a ban and reports whether one existed.
func (s *Service) Unban(ctx context.Context, userID int64) (bool, error) {
	result := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&BannedUser{})
	if result.Error != nil {
		s.logError(opUnban, "delete_failed", result.Error, zap.Int64("user_id", userID))
		return false, newServiceError(opUnban, "delete_failed", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) IsBanned(ctx context.Context, userID int64) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&BannedUser{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		s.logError(opIsBanned, "query_failed", err, zap.Int64("user_id", userID))
		return false, newServiceError(opIsBanned, "query_failed", err)
	}
	return count > 0, nil
}

// Warn counts an interaction against its policy. Exceeding the limit records a
// warning; exceeding the warning limit bans the user. Admins are never counted.
func (s *Service) Warn(ctx context.Context, req WarnRequest) (Verdict, error) {
	if s.IsAdmin(req.UserID) {
		return Verdict{}, nil
	}
	key := req.Policy.Interaction + ":" + strconv.FormatInt(req.UserID, 10)
	count, err := s.counter.Increment(ctx, key, Window)
	if err != nil {
		s.logError(opWarn, "count_failed", err, zap.Int64("user_id", req.UserID), zap.String("interaction", req.Policy.Interaction))
		return Verdict{}, newServiceError(opWarn, "count_failed", err)
	}
	if req.Policy.MaxInteractions >= 0 && count-1 < int64(req.Policy.MaxInteractions) {
		return Verdict{}, nil
	}

	now := s.clock().UTC()
	var warnings int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := WarningRecord{
			UserID:      req.UserID,
			ChatID:      req.ChatID,
			Interaction: req.Policy.Interaction,
			WarningType: req.Policy.WarningType,
			CreatedAt:   now,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		return tx.Model(&WarningRecord{}).
			Where("user_id = ? AND interaction = ? AND created_at >= ?", req.UserID, req.Policy.Interaction, now.Add(-Window)).
			Count(&warnings).Error
	})
	if err != nil {
		s.logError(opWarn, "record_failed", err, zap.Int64("user_id", req.UserID), zap.String("interaction", req.Policy.Interaction))
		return Verdict{}, newServiceError(opWarn, "record_failed", err)
	}

	verdict := Verdict{Warnings: int(warnings)}
	if verdict.Warnings > req.Policy.BanAfter {
		if err := s.Ban(ctx, req.UserID, req.Username); err != nil {
			return Verdict{}, err
		}
		verdict.Banned = true
	}
	s.logger.Info("interaction limit exceeded",
		zap.Int64("user_id", req.UserID),
		zap.Int64("chat_id", req.ChatID),
		zap.String("interaction", req.Policy.Interaction),
		zap.Int("warnings", verdict.Warnings),
		zap.Bool("banned", verdict.Banned))
	return verdict, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	if s.logger == nil || err == nil {
		return
	}
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	s.logger.Error("access error", allFields...)
}
