package transform

import (
	"context"
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
)

// Blur applies a Gaussian blur of Radius pixels.
type Blur struct {
	Radius float64
}

func (b Blur) Key() string { return fmt.Sprintf("Blur(%g)", b.Radius) }

func (b Blur) Transform(_ context.Context, img image.Image) (image.Image, error) {
	if b.Radius <= 0 {
		return nil, nil
	}
	return blur.Gaussian(img, b.Radius), nil
}

// Grayscale drops colour, keeping luminance.
type Grayscale struct{}

func (Grayscale) Key() string { return "Grayscale" }

func (Grayscale) Transform(_ context.Context, img image.Image) (image.Image, error) {
	return effect.Grayscale(img), nil
}

// Mask blends Color over every pixel by Ratio (0 keeps the image, 1 paints
// it flat), leaving alpha untouched.
type Mask struct {
	Color colorful.Color
	Ratio float64
}

// NewMask parses a "#rrggbb" colour.
func NewMask(hex string, ratio float64) (Mask, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return Mask{}, fmt.Errorf("mask colour %q: %w", hex, err)
	}
	return Mask{Color: c, Ratio: min(max(ratio, 0), 1)}, nil
}

func (m Mask) Key() string { return fmt.Sprintf("Mask(%s,%.2f)", m.Color.Hex(), m.Ratio) }

func (m Mask) Transform(_ context.Context, img image.Image) (image.Image, error) {
	if m.Ratio == 0 {
		return nil, nil
	}
	out := imaging.Clone(img)
	for i := 0; i+3 < len(out.Pix); i += 4 {
		p := out.Pix[i : i+4 : i+4]
		if p[3] == 0 {
			continue
		}
		c := colorful.Color{R: float64(p[0]) / 255, G: float64(p[1]) / 255, B: float64(p[2]) / 255}
		p[0], p[1], p[2] = c.BlendRgb(m.Color, m.Ratio).Clamped().RGB255()
	}
	return out, nil
}
