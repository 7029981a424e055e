// Package imagegen turns achievement texts into pictures.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultTimeout = 60 * time.Second

var (
	ErrEmptyText      = errors.New("imagegen: text required")
	ErrMissingKey     = errors.New("imagegen: api key required")
	ErrNonASCIIPrompt = errors.New("imagegen: prompt must be ascii")
	ErrEmptyResponse  = errors.New("imagegen: empty response")
)

// Generator draws a picture for an achievement text.
type Generator interface {
	Generate(ctx context.Context, text string) ([]byte, error)
}

// Translator renders text in English.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Painter draws a picture for an English prompt.
type Painter interface {
	Paint(ctx context.Context, prompt string) ([]byte, error)
}

// UpstreamError reports a failed call to an external provider.
type UpstreamError struct {
	Provider string
	Stage    string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("imagegen: %s %s: %v", e.Provider, e.Stage, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Prompt wraps the translated achievement into the sticker art direction.
func Prompt(achievement string) string {
	return "Create a humorous sticker representing the achievement of " + achievement + ". " +
		"The design should be in the form of a vector graphic with simple lines and a limited " +
		"color palette. The background should be white to emphasize the sticker format." +
		"Make sticker circular and framed."
}

// Pipeline translates the achievement, builds the prompt and paints it.
type Pipeline struct {
	translator Translator
	painter    Painter
	logger     *zap.Logger
}

// NewPipeline wires a translator and a painter.
func NewPipeline(translator Translator, painter Painter, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{translator: translator, painter: painter, logger: logger}
}

func (p *Pipeline) Generate(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	english, err := p.translator.Translate(ctx, text)
	if err != nil {
		p.logger.Error("translation failed", zap.Error(err))
		return nil, err
	}
	picture, err := p.painter.Paint(ctx, Prompt(english))
	if err != nil {
		p.logger.Error("image generation failed", zap.Error(err))
		return nil, err
	}
	return picture, nil
}

// Labeler renders text onto a plain sticker background.
type Labeler interface {
	RenderLabel(text string) ([]byte, error)
}

// Local draws a labelled circle instead of calling external APIs. Meant for development.
type Local struct {
	labeler Labeler
}

func NewLocal(labeler Labeler) *Local {
	return &Local{labeler: labeler}
}

func (l *Local) Generate(_ context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	return l.labeler.RenderLabel("picture about " + text)
}

func httpClientOrDefault(httpc *http.Client) *http.Client {
	if httpc != nil {
		return httpc
	}
	return &http.Client{Timeout: defaultTimeout}
}

func isASCII(text string) bool {
	for i := 0; i < len(text); i++ {
		if text[i] >= 0x80 {
			return false
		}
	}
	return true
}
