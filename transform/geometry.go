package transform

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/IvanBrykalov/pixcache/request"
)

var (
	_ request.Transformation = Rotate{}
	_ request.Transformation = CircleCrop{}
	_ request.Transformation = RoundedCorners{}
	_ request.Transformation = Blur{}
	_ request.Transformation = Grayscale{}
	_ request.Transformation = Mask{}
)

// Rotate turns the image clockwise by Degrees. Multiples of 90 are exact;
// other angles enlarge the canvas and fill the corners with transparency.
type Rotate struct {
	Degrees int
}

func (r Rotate) normalized() int { return ((r.Degrees % 360) + 360) % 360 }

func (r Rotate) Key() string { return fmt.Sprintf("Rotate(%d)", r.normalized()) }

func (r Rotate) Transform(_ context.Context, img image.Image) (image.Image, error) {
	// imaging rotates counter-clockwise.
	switch d := r.normalized(); d {
	case 0:
		return nil, nil
	case 90:
		return imaging.Rotate270(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate90(img), nil
	default:
		return imaging.Rotate(img, float64(-d), color.Transparent), nil
	}
}

// CircleCrop cuts the largest centred square (anchored by Scale along the
// long side) and clears everything outside its inscribed circle.
type CircleCrop struct {
	Scale request.Scale
}

func (c CircleCrop) Key() string { return fmt.Sprintf("CircleCrop(%s)", c.Scale) }

func (c CircleCrop) Transform(_ context.Context, img image.Image) (image.Image, error) {
	b := img.Bounds()
	side := min(b.Dx(), b.Dy())
	if side <= 0 {
		return nil, nil
	}
	var sq *image.NRGBA
	if c.Scale == request.Fill {
		sq = imaging.Resize(img, side, side, imaging.Linear)
	} else {
		sq = imaging.CropAnchor(img, side, side, anchor(c.Scale, b.Dx() >= b.Dy()))
	}
	r := float64(side) / 2
	clip(sq, func(x, y float64) bool {
		dx, dy := x-r, y-r
		return dx*dx+dy*dy <= r*r
	})
	return sq, nil
}

func anchor(s request.Scale, landscape bool) imaging.Anchor {
	switch s {
	case request.StartCrop:
		if landscape {
			return imaging.Left
		}
		return imaging.Top
	case request.EndCrop:
		if landscape {
			return imaging.Right
		}
		return imaging.Bottom
	default:
		return imaging.Center
	}
}

// RoundedCorners clears the outside of quarter circles at each corner.
// Radii are top-left, top-right, bottom-right, bottom-left in pixels.
type RoundedCorners struct {
	Radii [4]float64
}

// NewRoundedCorners uses radius for all four corners.
func NewRoundedCorners(radius float64) RoundedCorners {
	return RoundedCorners{Radii: [4]float64{radius, radius, radius, radius}}
}

func (rc RoundedCorners) Key() string {
	r := rc.Radii
	if r[0] == r[1] && r[1] == r[2] && r[2] == r[3] {
		return fmt.Sprintf("RoundedCorners(%g)", r[0])
	}
	return fmt.Sprintf("RoundedCorners(%g,%g,%g,%g)", r[0], r[1], r[2], r[3])
}

func (rc RoundedCorners) Transform(_ context.Context, img image.Image) (image.Image, error) {
	if rc.Radii == [4]float64{} {
		return nil, nil
	}
	out := imaging.Clone(img)
	w, h := float64(out.Rect.Dx()), float64(out.Rect.Dy())
	tl, tr, br, bl := rc.Radii[0], rc.Radii[1], rc.Radii[2], rc.Radii[3]
	clip(out, func(x, y float64) bool {
		switch {
		case x < tl && y < tl:
			return inside(x, y, tl, tl, tl)
		case x > w-tr && y < tr:
			return inside(x, y, w-tr, tr, tr)
		case x > w-br && y > h-br:
			return inside(x, y, w-br, h-br, br)
		case x < bl && y > h-bl:
			return inside(x, y, bl, h-bl, bl)
		}
		return true
	})
	return out, nil
}

func inside(x, y, cx, cy, r float64) bool {
	return math.Hypot(x-cx, y-cy) <= r
}

// clip zeroes every pixel whose centre keep rejects. Coordinates are
// relative to the image origin.
func clip(img *image.NRGBA, keep func(x, y float64) bool) {
	b := img.Rect
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			if !keep(float64(x)+0.5, float64(y)+0.5) {
				clear(row[x*4 : x*4+4])
			}
		}
	}
}
