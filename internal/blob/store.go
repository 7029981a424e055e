package blob

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/achievements-bot/internal/stickers"
	"github.com/google/uuid"
)

const (
	// DefaultPrefix is the key prefix of every sticker file.
	DefaultPrefix = "sticker_files/"
	pngExtension  = ".png"
)

var (
	ErrNotFound    = errors.New("blob: object not found")
	ErrEmptyObject = errors.New("blob: object data required")
	ErrInvalidPath = errors.New("blob: invalid object path")
)

// Store persists rendered sticker files.
type Store interface {
	Save(ctx context.Context, data []byte) (stickers.Image, error)
	SaveAt(ctx context.Context, path string, data []byte) (stickers.Image, error)
	Load(ctx context.Context, path string) ([]byte, error)
	DeleteMany(ctx context.Context, paths []string) error
}

func newObjectPath(prefix string) string {
	return prefix + uuid.NewString() + pngExtension
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return DefaultPrefix
	}
	return prefix + "/"
}

func validatePath(path string) error {
	if strings.TrimSpace(path) == "" || strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
		return ErrInvalidPath
	}
	return nil
}
