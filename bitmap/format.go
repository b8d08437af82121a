package bitmap

import (
	"fmt"
	"strings"
)

// Format describes the pixel layout of a Buffer.
type Format uint8

const (
	// FormatNRGBA is 8-bit non-premultiplied RGBA (4 bytes per pixel).
	// It is the default because imaging/x-image filters produce it natively.
	FormatNRGBA Format = iota
	// FormatRGBA is 8-bit premultiplied RGBA (4 bytes per pixel).
	FormatRGBA
	// FormatGray is 8-bit luminance (1 byte per pixel).
	FormatGray
	// FormatRGBA64 is 16-bit premultiplied RGBA (8 bytes per pixel).
	FormatRGBA64
)

// BytesPerPixel returns the storage width of one pixel.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatGray:
		return 1
	case FormatRGBA64:
		return 8
	default:
		return 4
	}
}

func (f Format) String() string {
	switch f {
	case FormatRGBA:
		return "RGBA"
	case FormatGray:
		return "GRAY"
	case FormatRGBA64:
		return "RGBA64"
	default:
		return "NRGBA"
	}
}

// ParseFormat maps a config string (case-insensitive) to a Format.
// The empty string yields FormatNRGBA.
func ParseFormat(s string) (Format, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NRGBA", "ARGB_8888":
		return FormatNRGBA, nil
	case "RGBA":
		return FormatRGBA, nil
	case "GRAY", "ALPHA_8":
		return FormatGray, nil
	case "RGBA64", "RGBA_F16":
		return FormatRGBA64, nil
	}
	return FormatNRGBA, fmt.Errorf("bitmap: unknown format %q", s)
}

// DataFrom tags where a decoded image came from.
type DataFrom uint8

const (
	FromNetwork DataFrom = iota
	FromLocal
	FromMemory
	FromMemoryCache
	FromResultCache
	FromDownloadCache
)

func (d DataFrom) String() string {
	switch d {
	case FromLocal:
		return "local"
	case FromMemory:
		return "memory"
	case FromMemoryCache:
		return "memory-cache"
	case FromResultCache:
		return "result-cache"
	case FromDownloadCache:
		return "download-cache"
	default:
		return "network"
	}
}
