// Package members remembers who the bot has seen so admins can address users by @username.
package members

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/achievements-bot/internal/telegram"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidMember indicates the user carried no id.
	ErrInvalidMember = errors.New("members: invalid member")
	// ErrUnknownUsername is returned when no seen member has the username.
	ErrUnknownUsername = errors.New("members: unknown username")
)

// ServiceConfig describes the dependencies of the registry.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service records members and resolves usernames to user ids.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("members: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// Observe records the user as seen now.
func (s *Service) Observe(ctx context.Context, user telegram.User) error {
	if user.ID == 0 {
		return ErrInvalidMember
	}
	username := normalizeUsername(user.Username)
	member := Member{
		UserID:      user.ID,
		Username:    username,
		DisplayName: strings.TrimSpace(user.FirstName + " " + user.LastName),
		LastSeenAt:  s.now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "display_name", "last_seen_at", "updated_at"}),
	}).Create(&member).Error
	if err != nil {
		return err
	}
	if username != "" {
		s.cache.Store(username, user.ID)
	}
	return nil
}

// ResolveUsername returns the user id most recently seen with the username.
func (s *Service) ResolveUsername(ctx context.Context, username string) (int64, error) {
	username = normalizeUsername(username)
	if username == "" {
		return 0, ErrUnknownUsername
	}
	if cached, ok := s.cache.Load(username); ok {
		if userID, ok := cached.(int64); ok {
			return userID, nil
		}
	}

	var member Member
	err := s.db.WithContext(ctx).
		Where("username = ?", username).
		Order("last_seen_at DESC").
		First(&member).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrUnknownUsername
	}
	if err != nil {
		return 0, err
	}
	s.cache.Store(username, member.UserID)
	return member.UserID, nil
}
