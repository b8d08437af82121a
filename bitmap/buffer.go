package bitmap

import (
	"image"
	"image/draw"
	"sync/atomic"
)

var bufferIDs atomic.Uint64

// Buffer is a raw pixel allocation. Width/Height describe the image currently
// laid out in Pix; for a reused larger buffer they are advisory and set by
// Reshape before anyone writes into it.
type Buffer struct {
	ID     uint64
	Width  int
	Height int
	Stride int
	Format Format
	Pix    []byte
}

// NewBuffer allocates a zeroed buffer for a w×h image in format f.
func NewBuffer(w, h int, f Format) *Buffer {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	stride := w * f.BytesPerPixel()
	return &Buffer{
		ID:     bufferIDs.Add(1),
		Width:  w,
		Height: h,
		Stride: stride,
		Format: f,
		Pix:    make([]byte, stride*h),
	}
}

// ByteCount is the capacity of the backing array, which is what a pool
// budget is charged for regardless of the advisory dimensions.
func (b *Buffer) ByteCount() int64 {
	if b == nil {
		return 0
	}
	return int64(cap(b.Pix))
}

// Needed returns the bytes required for a w×h image in format f.
func Needed(w, h int, f Format) int64 {
	return int64(w) * int64(h) * int64(f.BytesPerPixel())
}

// Fits reports whether the backing array can hold a w×h image in format f.
func (b *Buffer) Fits(w, h int, f Format) bool {
	return b != nil && b.Format == f && int64(cap(b.Pix)) >= Needed(w, h, f)
}

// Reshape reinterprets the buffer as a w×h image. It returns false (and
// leaves the buffer untouched) when the backing array is too small.
func (b *Buffer) Reshape(w, h int) bool {
	if w < 0 || h < 0 || !b.Fits(w, h, b.Format) {
		return false
	}
	b.Width, b.Height = w, h
	b.Stride = w * b.Format.BytesPerPixel()
	b.Pix = b.Pix[:b.Stride*h]
	return true
}

// Clear zeroes the visible pixels.
func (b *Buffer) Clear() {
	clear(b.Pix)
}

// Image returns a stdlib image view that shares Pix with the buffer.
// Writes through the view land in the buffer.
func (b *Buffer) Image() image.Image {
	r := image.Rect(0, 0, b.Width, b.Height)
	switch b.Format {
	case FormatRGBA:
		return &image.RGBA{Pix: b.Pix, Stride: b.Stride, Rect: r}
	case FormatGray:
		return &image.Gray{Pix: b.Pix, Stride: b.Stride, Rect: r}
	case FormatRGBA64:
		return &image.RGBA64{Pix: b.Pix, Stride: b.Stride, Rect: r}
	default:
		return &image.NRGBA{Pix: b.Pix, Stride: b.Stride, Rect: r}
	}
}

// DrawImage is Image as a writable draw.Image.
func (b *Buffer) DrawImage() draw.Image {
	return b.Image().(draw.Image)
}

// FormatOf returns the Format matching a stdlib image type, and false for
// types with no direct layout (they are converted to NRGBA by callers).
func FormatOf(img image.Image) (Format, bool) {
	switch img.(type) {
	case *image.NRGBA:
		return FormatNRGBA, true
	case *image.RGBA:
		return FormatRGBA, true
	case *image.Gray:
		return FormatGray, true
	case *image.RGBA64:
		return FormatRGBA64, true
	}
	return FormatNRGBA, false
}
