package stickers

import (
	"fmt"
	"strings"
)

const (
	// HalfBand is the number of primary (and secondary) slots in a band.
	HalfBand = 5
	// BandSize is the number of consecutive slots forming one band.
	BandSize = 2 * HalfBand
)

// Kind identifies what a slot of a collection holds.
type Kind string

const (
	KindEmpty              Kind = "empty"
	KindAchievement        Kind = "achievement"
	KindDescription        Kind = "description"
	KindProfile            Kind = "profile"
	KindProfileDescription Kind = "profile_description"
)

// ParseKind converts a stored kind value into a Kind.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.TrimSpace(value)) {
	case KindEmpty:
		return KindEmpty, nil
	case KindAchievement:
		return KindAchievement, nil
	case KindDescription:
		return KindDescription, nil
	case KindProfile:
		return KindProfile, nil
	case KindProfileDescription:
		return KindProfileDescription, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, value)
	}
}

// IsPrimary reports whether the kind counts as an occupied primary slot.
func (k Kind) IsPrimary() bool {
	return k == KindAchievement || k == KindProfile
}

// IsPrimarySlot reports whether index falls into the primary half of its band.
func IsPrimarySlot(index int) bool {
	return index%BandSize < HalfBand
}

// ScopeKind distinguishes chat collections from per-user collections.
type ScopeKind string

const (
	ScopeChat ScopeKind = "chat"
	ScopeUser ScopeKind = "user"
)

// Scope identifies one collection: the chat collection or a user's collection within a chat.
type Scope struct {
	Kind   ScopeKind
	ChatID int64
	UserID int64
}

// ChatScope returns the scope of the chat-wide collection.
func ChatScope(chatID int64) Scope {
	return Scope{Kind: ScopeChat, ChatID: chatID}
}

// UserScope returns the scope of a user's collection within a chat.
func UserScope(chatID, userID int64) Scope {
	return Scope{Kind: ScopeUser, ChatID: chatID, UserID: userID}
}

// Validate ensures the scope identifies exactly one collection.
func (s Scope) Validate() error {
	if s.ChatID == 0 {
		return fmt.Errorf("%w: chat id required", ErrInvalidScope)
	}
	switch s.Kind {
	case ScopeChat:
		if s.UserID != 0 {
			return fmt.Errorf("%w: chat scope carries a user id", ErrInvalidScope)
		}
	case ScopeUser:
		if s.UserID == 0 {
			return fmt.Errorf("%w: user id required", ErrInvalidScope)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidScope, s.Kind)
	}
	return nil
}

// CountsAchievements reports whether description slots carry an achieved counter.
func (s Scope) CountsAchievements() bool {
	return s.Kind == ScopeChat
}

// ConfirmationSlot returns the slot whose item is sent back after a grant.
// Chat collections confirm with the description, user collections with the achievement.
func (s Scope) ConfirmationSlot(lastPrimaryIndex int) int {
	if s.Kind == ScopeChat {
		return lastPrimaryIndex + HalfBand
	}
	return lastPrimaryIndex
}

// NamePrefix is the leading part of generated collection names.
func (s Scope) NamePrefix() string {
	return string(s.Kind)
}

func (s Scope) String() string {
	if s.Kind == ScopeUser {
		return fmt.Sprintf("user:%d:%d", s.ChatID, s.UserID)
	}
	return fmt.Sprintf("chat:%d", s.ChatID)
}

// Image is rendered sticker content together with its blob storage path.
type Image struct {
	Path string
	Data []byte
}

// MirrorRow is the local copy of one remote collection slot.
type MirrorRow struct {
	RemoteItemID       string
	RemoteItemUniqueID string
	SlotIndex          int
	CollectionName     string
	CollectionOwnerID  int64
	ChatID             int64
	UserID             int64
	Kind               Kind
	EngravingText      string
	AchievedCount      int
	BlobPath           string
}

// Scope returns the collection scope the row belongs to.
func (r MirrorRow) Scope() Scope {
	if r.UserID != 0 {
		return UserScope(r.ChatID, r.UserID)
	}
	return ChatScope(r.ChatID)
}
