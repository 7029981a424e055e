package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/achievements-bot/internal/stickers"
)

// StickerSets exposes sticker sets as remote collections.
type StickerSets struct {
	client *Client
}

// NewStickerSets wraps client.
func NewStickerSets(client *Client) *StickerSets {
	return &StickerSets{client: client}
}

func (s *StickerSets) CreateCollection(ctx context.Context, ownerID int64, name, title string, items [][]byte, emoji string) error {
	return s.client.CreateNewStickerSet(ctx, ownerID, name, title, items, emoji)
}

func (s *StickerSets) AppendItem(ctx context.Context, ownerID int64, name string, item []byte, emoji string) error {
	return s.client.AddStickerToSet(ctx, ownerID, name, item, emoji)
}

func (s *StickerSets) RemoveItem(ctx context.Context, itemID string) error {
	return s.client.DeleteStickerFromSet(ctx, itemID)
}

func (s *StickerSets) RepositionItem(ctx context.Context, itemID string, index int) error {
	return s.client.SetStickerPositionInSet(ctx, itemID, index)
}

func (s *StickerSets) FetchCollection(ctx context.Context, name string) ([]stickers.RemoteItem, error) {
	set, err := s.client.GetStickerSet(ctx, name)
	if err != nil {
		return nil, err
	}
	items := make([]stickers.RemoteItem, 0, len(set.Stickers))
	for _, sticker := range set.Stickers {
		items = append(items, stickers.RemoteItem{ID: sticker.FileID, UniqueID: sticker.FileUniqueID})
	}
	return items, nil
}

// DeleteCollection removes a whole sticker set. A set that is already gone matches
// stickers.ErrCollectionNotFound.
func (s *StickerSets) DeleteCollection(ctx context.Context, name string) error {
	err := s.client.DeleteStickerSet(ctx, name)
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "STICKERSET_INVALID") {
		return errors.Join(stickers.ErrCollectionNotFound, err)
	}
	return err
}

var _ stickers.RemoteCollection = (*StickerSets)(nil)

// ProfilePhotos downloads user profile pictures.
type ProfilePhotos struct {
	client *Client
}

// NewProfilePhotos wraps client.
func NewProfilePhotos(client *Client) *ProfilePhotos {
	return &ProfilePhotos{client: client}
}

// FetchProfileImage returns the largest size of the newest profile photo, or nil when the user
// has none visible to the bot.
func (p *ProfilePhotos) FetchProfileImage(ctx context.Context, userID int64) ([]byte, error) {
	photos, err := p.client.GetUserProfilePhotos(ctx, userID, 1)
	if err != nil {
		return nil, err
	}
	if photos.TotalCount == 0 || len(photos.Photos) == 0 || len(photos.Photos[0]) == 0 {
		return nil, nil
	}
	sizes := photos.Photos[0]
	largest := sizes[0]
	for _, size := range sizes[1:] {
		if size.Width*size.Height > largest.Width*largest.Height {
			largest = size
		}
	}
	file, err := p.client.GetFile(ctx, largest.FileID)
	if err != nil {
		return nil, err
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("telegram: profile photo of %d has no file path", userID)
	}
	return p.client.DownloadFile(ctx, file.FilePath)
}
