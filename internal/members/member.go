package members

import (
	"strings"
	"time"
)

// Member is a Telegram user the bot has seen in any chat.
type Member struct {
	UserID      int64     `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	Username    string    `gorm:"column:username;size:64;index"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing chat members.
func (Member) TableName() string {
	return "members"
}

// normalizeUsername strips the mention sign and lowercases, usernames are case-insensitive.
func normalizeUsername(value string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(value), "@"))
}
