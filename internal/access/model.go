package access

import "time"

// StickersetOwner is the user whose account owns the chat's sticker sets.
type StickersetOwner struct {
	ChatID     int64     `gorm:"column:chat_id;primaryKey;autoIncrement:false"`
	UserID     int64     `gorm:"column:user_id;not null;index"`
	AssignedAt time.Time `gorm:"column:assigned_at;not null"`
}

func (StickersetOwner) TableName() string {
	return "stickerset_owners"
}

// OwnerCandidate is a pending /own_stickers request.
type OwnerCandidate struct {
	ID          uint      `gorm:"column:id;primaryKey"`
	UserID      int64     `gorm:"column:user_id;not null;uniqueIndex:idx_owner_candidate"`
	ChatID      int64     `gorm:"column:chat_id;not null;uniqueIndex:idx_owner_candidate"`
	ChatTitle   string    `gorm:"column:chat_title;not null"`
	RequestedAt time.Time `gorm:"column:requested_at;not null"`
}

func (OwnerCandidate) TableName() string {
	return "stickerset_owner_candidates"
}

type BannedUser struct {
	UserID   int64     `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	Username string    `gorm:"column:username"`
	BannedAt time.Time `gorm:"column:banned_at;not null"`
}

func (BannedUser) TableName() string {
	return "banned_users"
}

// WarningRecord is one warning issued after a user exceeded an interaction limit.
type WarningRecord struct {
	ID          uint      `gorm:"column:id;primaryKey"`
	UserID      int64     `gorm:"column:user_id;not null;index:idx_warnings_user_interaction"`
	ChatID      int64     `gorm:"column:chat_id;not null"`
	Interaction string    `gorm:"column:interaction;not null;index:idx_warnings_user_interaction"`
	WarningType string    `gorm:"column:warning_type;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;index"`
}

func (WarningRecord) TableName() string {
	return "warnings"
}

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&StickersetOwner{}, &OwnerCandidate{}, &BannedUser{}, &WarningRecord{}}
}
