package ledger

import (
	"time"

	"github.com/MarcoPoloResearchLab/achievements-bot/internal/stickers"
)

// ChatSticker mirrors one slot of a chat collection.
type ChatSticker struct {
	ID                uint      `gorm:"column:id;primaryKey;autoIncrement"`
	ChatID            int64     `gorm:"column:chat_id;not null;uniqueIndex:idx_chat_stickers_slot,priority:1"`
	SlotIndex         int       `gorm:"column:index_in_sticker_set;not null;uniqueIndex:idx_chat_stickers_slot,priority:2"`
	FileID            string    `gorm:"column:file_id;size:255;not null"`
	FileUniqueID      string    `gorm:"column:file_unique_id;size:64;not null;index"`
	Kind              string    `gorm:"column:type;size:32;not null"`
	EngravingText     *string   `gorm:"column:engraving_text;size:512"`
	AchievedCount     *int      `gorm:"column:times_achieved"`
	CollectionName    string    `gorm:"column:sticker_set_name;size:64;not null;index"`
	CollectionOwnerID int64     `gorm:"column:sticker_set_owner_id;not null"`
	BlobPath          string    `gorm:"column:file_path;size:512;not null"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing chat collection slots.
func (ChatSticker) TableName() string {
	return "chat_stickers"
}

// UserSticker mirrors one slot of a user's collection within a chat.
type UserSticker struct {
	ID                uint      `gorm:"column:id;primaryKey;autoIncrement"`
	ChatID            int64     `gorm:"column:chat_id;not null;uniqueIndex:idx_user_stickers_slot,priority:1"`
	UserID            int64     `gorm:"column:user_id;not null;uniqueIndex:idx_user_stickers_slot,priority:2"`
	SlotIndex         int       `gorm:"column:index_in_sticker_set;not null;uniqueIndex:idx_user_stickers_slot,priority:3"`
	FileID            string    `gorm:"column:file_id;size:255;not null"`
	FileUniqueID      string    `gorm:"column:file_unique_id;size:64;not null;index"`
	Kind              string    `gorm:"column:type;size:32;not null"`
	EngravingText     *string   `gorm:"column:engraving_text;size:512"`
	CollectionName    string    `gorm:"column:sticker_set_name;size:64;not null;index"`
	CollectionOwnerID int64     `gorm:"column:sticker_set_owner_id;not null"`
	BlobPath          string    `gorm:"column:file_path;size:512;not null"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user collection slots.
func (UserSticker) TableName() string {
	return "user_stickers"
}

// AchievementMessage is the append-only log of grant requests.
type AchievementMessage struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	ChatID     int64     `gorm:"column:chat_id;not null;index"`
	FromUserID int64     `gorm:"column:from_user_id;not null"`
	ToUserID   int64     `gorm:"column:to_user_id;not null"`
	Message    string    `gorm:"column:message;size:4096;not null"`
	Prompt     string    `gorm:"column:prompt;size:512;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing the prompt log.
func (AchievementMessage) TableName() string {
	return "achievement_messages"
}

// Models lists the tables owned by the ledger.
func Models() []interface{} {
	return []interface{}{&ChatSticker{}, &UserSticker{}, &AchievementMessage{}}
}

func (s ChatSticker) toMirrorRow() (stickers.MirrorRow, error) {
	kind, err := stickers.ParseKind(s.Kind)
	if err != nil {
		return stickers.MirrorRow{}, err
	}
	row := stickers.MirrorRow{
		RemoteItemID:       s.FileID,
		RemoteItemUniqueID: s.FileUniqueID,
		SlotIndex:          s.SlotIndex,
		CollectionName:     s.CollectionName,
		CollectionOwnerID:  s.CollectionOwnerID,
		ChatID:             s.ChatID,
		Kind:               kind,
		BlobPath:           s.BlobPath,
	}
	if s.EngravingText != nil {
		row.EngravingText = *s.EngravingText
	}
	if s.AchievedCount != nil {
		row.AchievedCount = *s.AchievedCount
	}
	return row, nil
}

func (s UserSticker) toMirrorRow() (stickers.MirrorRow, error) {
	kind, err := stickers.ParseKind(s.Kind)
	if err != nil {
		return stickers.MirrorRow{}, err
	}
	row := stickers.MirrorRow{
		RemoteItemID:       s.FileID,
		RemoteItemUniqueID: s.FileUniqueID,
		SlotIndex:          s.SlotIndex,
		CollectionName:     s.CollectionName,
		CollectionOwnerID:  s.CollectionOwnerID,
		ChatID:             s.ChatID,
		UserID:             s.UserID,
		Kind:               kind,
		BlobPath:           s.BlobPath,
	}
	if s.EngravingText != nil {
		row.EngravingText = *s.EngravingText
	}
	return row, nil
}

func chatStickerFromRow(row stickers.MirrorRow) ChatSticker {
	return ChatSticker{
		ChatID:            row.ChatID,
		SlotIndex:         row.SlotIndex,
		FileID:            row.RemoteItemID,
		FileUniqueID:      row.RemoteItemUniqueID,
		Kind:              string(row.Kind),
		EngravingText:     optionalString(row.EngravingText),
		AchievedCount:     optionalCount(row.AchievedCount),
		CollectionName:    row.CollectionName,
		CollectionOwnerID: row.CollectionOwnerID,
		BlobPath:          row.BlobPath,
	}
}

func userStickerFromRow(row stickers.MirrorRow) UserSticker {
	return UserSticker{
		ChatID:            row.ChatID,
		UserID:            row.UserID,
		SlotIndex:         row.SlotIndex,
		FileID:            row.RemoteItemID,
		FileUniqueID:      row.RemoteItemUniqueID,
		Kind:              string(row.Kind),
		EngravingText:     optionalString(row.EngravingText),
		CollectionName:    row.CollectionName,
		CollectionOwnerID: row.CollectionOwnerID,
		BlobPath:          row.BlobPath,
	}
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func optionalCount(value int) *int {
	if value == 0 {
		return nil
	}
	return &value
}
