package artist

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"strings"
	"unicode/utf8"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

const (
	maxSymbolsPerLine = 25
	arcMargin         = 0.95
	arcWidth          = 10.0
	arcGapStart       = 70.0
	arcGapEnd         = 110.0
)

var (
	transparent = color.RGBA{}
	white       = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	black       = color.RGBA{A: 255}
)

func newCanvas(size int) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(transparent), image.Point{}, draw.Src)
	return canvas
}

func insideCircle(x, y, size int) bool {
	half := float64(size) / 2
	dx := float64(x) + 0.5 - half
	dy := float64(y) + 0.5 - half
	return dx*dx+dy*dy <= half*half
}

func solidCircle(size int, fill color.RGBA) *image.RGBA {
	canvas := newCanvas(size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if insideCircle(x, y, size) {
				canvas.SetRGBA(x, y, fill)
			}
		}
	}
	return canvas
}

// gradientCircle blends inner at the center into outer towards the corners.
func gradientCircle(size int, inner, outer color.RGBA) *image.RGBA {
	canvas := newCanvas(size)
	half := float64(size) / 2
	scale := math.Sqrt2 * half
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if !insideCircle(x, y, size) {
				continue
			}
			t := math.Hypot(float64(x)-half, float64(y)-half) / scale
			canvas.SetRGBA(x, y, color.RGBA{
				R: blend(inner.R, outer.R, t),
				G: blend(inner.G, outer.G, t),
				B: blend(inner.B, outer.B, t),
				A: 255,
			})
		}
	}
	return canvas
}

func blend(from, to uint8, t float64) uint8 {
	return uint8(float64(from)*(1-t) + float64(to)*t)
}

// drawArc strokes a ring just inside the sticker edge, leaving a gap at the bottom for the counter.
func drawArc(canvas *image.RGBA) {
	size := canvas.Bounds().Dx()
	half := float64(size) / 2
	outer := float64(size) * (arcMargin - 0.5)
	inner := outer - arcWidth
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := float64(x) + 0.5 - half
			dy := float64(y) + 0.5 - half
			distance := math.Hypot(dx, dy)
			if distance > outer || distance < inner {
				continue
			}
			angle := math.Atan2(dy, dx) * 180 / math.Pi
			if angle < 0 {
				angle += 360
			}
			if angle > arcGapStart && angle < arcGapEnd {
				continue
			}
			canvas.SetRGBA(x, y, black)
		}
	}
}

// maskCircle scales src to size and clears everything outside the inscribed circle.
func maskCircle(src image.Image, size int) *image.RGBA {
	canvas := newCanvas(size)
	xdraw.CatmullRom.Scale(canvas, canvas.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if !insideCircle(x, y, size) {
				canvas.SetRGBA(x, y, transparent)
			}
		}
	}
	return canvas
}

// expandToSquare letterboxes src onto a square background.
func expandToSquare(src image.Image, background color.RGBA) image.Image {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == height {
		return src
	}
	side := max(width, height)
	square := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(square, square.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
	offset := image.Pt((side-width)/2, (side-height)/2)
	draw.Draw(square, image.Rectangle{Min: offset, Max: offset.Add(bounds.Size())}, src, bounds.Min, draw.Over)
	return square
}

// wrapText splits text greedily into lines; every line is two symbols narrower than the
// previous one because the text sits in a circle.
func wrapText(text string, margin float64) []string {
	text = strings.TrimSpace(text)
	limit := float64(maxSymbolsPerLine) * (1 - margin)
	if float64(utf8.RuneCountInString(text)) <= limit {
		return []string{text}
	}
	var (
		lines   []string
		current []string
		used    float64
	)
	for _, word := range strings.Fields(text) {
		width := float64(utf8.RuneCountInString(word) + 1)
		if len(current) > 0 && used+width > limit {
			lines = append(lines, strings.Join(current, " "))
			current = nil
			used = 0
			limit -= 2
		}
		current = append(current, word)
		used += width
	}
	if len(current) > 0 {
		lines = append(lines, strings.Join(current, " "))
	}
	return lines
}

// drawCenteredLines draws lines centered horizontally and vertically.
func drawCenteredLines(canvas *image.RGBA, face font.Face, lines []string) {
	size := canvas.Bounds().Dx()
	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil()
	top := (size-lineHeight*len(lines))/2 + metrics.Ascent.Ceil()
	drawer := &font.Drawer{Dst: canvas, Src: image.NewUniform(black), Face: face}
	for index, line := range lines {
		width := drawer.MeasureString(line).Ceil()
		drawer.Dot = fixed.P((size-width)/2, top+index*lineHeight)
		drawer.DrawString(line)
	}
}

// drawBottomLabel draws text centered horizontally with its baseline on the arc.
func drawBottomLabel(canvas *image.RGBA, face font.Face, text string) {
	size := canvas.Bounds().Dx()
	drawer := &font.Drawer{Dst: canvas, Src: image.NewUniform(black), Face: face}
	width := drawer.MeasureString(text).Ceil()
	baseline := int(float64(size)*arcMargin) - face.Metrics().Descent.Ceil()
	drawer.Dot = fixed.P((size-width)/2, baseline)
	drawer.DrawString(text)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
