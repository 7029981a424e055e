// Package artist renders the 512x512 PNG stickers that populate achievement collections.
package artist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math/rand/v2"
	"strconv"
	"sync"

	"github.com/MarcoPoloResearchLab/achievements-bot/internal/blob"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/stickers"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
)

const (
	// DefaultSize is the side of every sticker in pixels.
	DefaultSize = 512
	// DefaultPlaceholderPath is where the shared empty sticker lives in blob storage.
	DefaultPlaceholderPath = blob.DefaultPrefix + "empty.png"

	textFontSize    = 30
	counterFontSize = 40
)

var (
	placeholderColor     = color.RGBA{R: 125, G: 125, B: 125, A: 255}
	chatDescriptionColor = color.RGBA{R: 181, G: 89, B: 163, A: 255}

	ErrMissingStore = errors.New("artist: blob store required")
	ErrEmptyText    = errors.New("artist: text required")
	ErrInvalidCount = errors.New("artist: counter must be positive")
)

// Config wires the artist.
type Config struct {
	Store           blob.Store
	Size            int
	PlaceholderPath string
	IntN            func(int) int
	Logger          *zap.Logger
}

// Artist draws stickers and stores them in blob storage.
type Artist struct {
	store           blob.Store
	size            int
	placeholderPath string
	intN            func(int) int
	logger          *zap.Logger
	font            *opentype.Font

	placeholderMu sync.Mutex
	placeholder   *stickers.Image
}

// New validates the configuration and parses the sticker font.
func New(cfg Config) (*Artist, error) {
	if cfg.Store == nil {
		return nil, ErrMissingStore
	}
	size := cfg.Size
	if size <= 0 {
		size = DefaultSize
	}
	placeholderPath := cfg.PlaceholderPath
	if placeholderPath == "" {
		placeholderPath = DefaultPlaceholderPath
	}
	intN := cfg.IntN
	if intN == nil {
		intN = rand.IntN
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	parsed, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("artist: parse font: %w", err)
	}
	return &Artist{
		store:           cfg.Store,
		size:            size,
		placeholderPath: placeholderPath,
		intN:            intN,
		logger:          logger,
		font:            parsed,
	}, nil
}

// Placeholder returns the shared empty sticker, drawing and storing it on first use.
func (a *Artist) Placeholder(ctx context.Context) (stickers.Image, error) {
	a.placeholderMu.Lock()
	defer a.placeholderMu.Unlock()
	if a.placeholder != nil {
		return *a.placeholder, nil
	}
	data, err := a.store.Load(ctx, a.placeholderPath)
	switch {
	case err == nil:
	case errors.Is(err, blob.ErrNotFound):
		data, err = encodePNG(solidCircle(a.size, placeholderColor))
		if err != nil {
			return stickers.Image{}, fmt.Errorf("artist: encode placeholder: %w", err)
		}
		if _, err := a.store.SaveAt(ctx, a.placeholderPath, data); err != nil {
			return stickers.Image{}, err
		}
		a.logger.Info("placeholder sticker stored", zap.String("path", a.placeholderPath))
	default:
		return stickers.Image{}, err
	}
	placeholder := stickers.Image{Path: a.placeholderPath, Data: data}
	a.placeholder = &placeholder
	return placeholder, nil
}

// Achievement turns a generated picture into a round sticker.
func (a *Artist) Achievement(ctx context.Context, picture []byte) (stickers.Image, error) {
	src, _, err := image.Decode(bytes.NewReader(picture))
	if err != nil {
		return stickers.Image{}, fmt.Errorf("artist: decode achievement: %w", err)
	}
	return a.save(ctx, maskCircle(src, a.size))
}

// Description draws the engraving on a random gradient.
func (a *Artist) Description(ctx context.Context, text string) (stickers.Image, error) {
	if text == "" {
		return stickers.Image{}, ErrEmptyText
	}
	inner := a.randomColor(60, 170)
	canvas := gradientCircle(a.size, inner, white)
	face, err := a.face(textFontSize)
	if err != nil {
		return stickers.Image{}, err
	}
	defer face.Close()
	drawCenteredLines(canvas, face, wrapText(text, 0))
	return a.save(ctx, canvas)
}

// ChatDescription draws the engraving with the number of times it was achieved.
func (a *Artist) ChatDescription(ctx context.Context, text string, count int) (stickers.Image, error) {
	canvas, err := a.chatDescription(text, count)
	if err != nil {
		return stickers.Image{}, err
	}
	return a.save(ctx, canvas)
}

func (a *Artist) chatDescription(text string, count int) (*image.RGBA, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if count <= 0 {
		return nil, ErrInvalidCount
	}
	canvas := gradientCircle(a.size, chatDescriptionColor, white)
	drawArc(canvas)
	textFace, err := a.face(textFontSize)
	if err != nil {
		return nil, err
	}
	defer textFace.Close()
	drawCenteredLines(canvas, textFace, wrapText(text, 2*(1-arcMargin)))
	counterFace, err := a.face(counterFontSize)
	if err != nil {
		return nil, err
	}
	defer counterFace.Close()
	drawBottomLabel(canvas, counterFace, strconv.Itoa(count))
	return canvas, nil
}

// Profile makes the first sticker of a user collection from the profile photo.
// Without a photo the username is drawn on a random circle instead.
func (a *Artist) Profile(ctx context.Context, photo []byte, username string) (stickers.Image, error) {
	if len(photo) == 0 {
		return a.usernameSticker(ctx, username)
	}
	src, _, err := image.Decode(bytes.NewReader(photo))
	if err != nil {
		return stickers.Image{}, fmt.Errorf("artist: decode profile photo: %w", err)
	}
	return a.save(ctx, maskCircle(expandToSquare(src, white), a.size))
}

func (a *Artist) usernameSticker(ctx context.Context, username string) (stickers.Image, error) {
	if username == "" {
		return stickers.Image{}, ErrEmptyText
	}
	canvas, err := a.label("@"+username, a.randomColor(80, 200))
	if err != nil {
		return stickers.Image{}, err
	}
	return a.save(ctx, canvas)
}

// ProfileDescription explains whose collection this is.
func (a *Artist) ProfileDescription(ctx context.Context, username, chatTitle string) (stickers.Image, error) {
	text := fmt.Sprintf("Stickerset of @%s's achievements for chat '%s'", username, chatTitle)
	return a.ChatDescription(ctx, text, 1)
}

// RenderLabel draws text on a random colored circle without storing it.
func (a *Artist) RenderLabel(text string) ([]byte, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	canvas, err := a.label(text, a.randomColor(80, 200))
	if err != nil {
		return nil, err
	}
	return encodePNG(canvas)
}

func (a *Artist) label(text string, fill color.RGBA) (*image.RGBA, error) {
	canvas := solidCircle(a.size, fill)
	face, err := a.face(textFontSize)
	if err != nil {
		return nil, err
	}
	defer face.Close()
	drawCenteredLines(canvas, face, wrapText(text, 0))
	return canvas, nil
}

func (a *Artist) face(size float64) (font.Face, error) {
	face, err := opentype.NewFace(a.font, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("artist: font face: %w", err)
	}
	return face, nil
}

// randomColor picks every channel in [low, high].
func (a *Artist) randomColor(low, high int) color.RGBA {
	channel := func() uint8 { return uint8(low + a.intN(high-low+1)) }
	return color.RGBA{R: channel(), G: channel(), B: channel(), A: 255}
}

func (a *Artist) save(ctx context.Context, img image.Image) (stickers.Image, error) {
	data, err := encodePNG(img)
	if err != nil {
		return stickers.Image{}, fmt.Errorf("artist: encode sticker: %w", err)
	}
	return a.store.Save(ctx, data)
}
