package request

import (
	"fmt"
	"strings"
)

// Depth limits how far the pipeline may progress for a request.
// The zero value is unset and resolves to DepthNetwork.
type Depth uint8

const (
	DepthDefault Depth = iota
	// DepthNetwork allows every stage, including network fetches.
	DepthNetwork
	// DepthLocal allows caches and local sources but no network.
	DepthLocal
	// DepthMemory allows the memory cache only.
	DepthMemory
)

// Resolve maps DepthDefault to DepthNetwork.
func (d Depth) Resolve() Depth {
	if d == DepthDefault {
		return DepthNetwork
	}
	return d
}

// Allows reports whether a request of depth d may reach stage.
// A higher depth value is more restrictive.
func (d Depth) Allows(stage Depth) bool {
	return d.Resolve() <= stage.Resolve()
}

func (d Depth) String() string {
	switch d.Resolve() {
	case DepthLocal:
		return "LOCAL"
	case DepthMemory:
		return "MEMORY"
	default:
		return "NETWORK"
	}
}

// ParseDepth parses NETWORK, LOCAL or MEMORY (case-insensitive).
func ParseDepth(s string) (Depth, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return DepthDefault, nil
	case "NETWORK":
		return DepthNetwork, nil
	case "LOCAL":
		return DepthLocal, nil
	case "MEMORY":
		return DepthMemory, nil
	}
	return DepthDefault, fmt.Errorf("request: unknown depth %q", s)
}

// CachePolicy controls reads and writes of one cache layer.
// The zero value is unset and resolves to Enabled.
type CachePolicy uint8

const (
	PolicyDefault CachePolicy = iota
	Enabled
	ReadOnly
	WriteOnly
	Disabled
)

// Resolve maps PolicyDefault to Enabled.
func (p CachePolicy) Resolve() CachePolicy {
	if p == PolicyDefault {
		return Enabled
	}
	return p
}

// ReadEnabled reports whether the layer may be read.
func (p CachePolicy) ReadEnabled() bool {
	r := p.Resolve()
	return r == Enabled || r == ReadOnly
}

// WriteEnabled reports whether the layer may be written.
func (p CachePolicy) WriteEnabled() bool {
	r := p.Resolve()
	return r == Enabled || r == WriteOnly
}

func (p CachePolicy) String() string {
	switch p.Resolve() {
	case ReadOnly:
		return "READ_ONLY"
	case WriteOnly:
		return "WRITE_ONLY"
	case Disabled:
		return "DISABLED"
	default:
		return "ENABLED"
	}
}

// ParseCachePolicy parses ENABLED, READ_ONLY, WRITE_ONLY or DISABLED.
func ParseCachePolicy(s string) (CachePolicy, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "":
		return PolicyDefault, nil
	case "ENABLED":
		return Enabled, nil
	case "READ_ONLY":
		return ReadOnly, nil
	case "WRITE_ONLY":
		return WriteOnly, nil
	case "DISABLED":
		return Disabled, nil
	}
	return PolicyDefault, fmt.Errorf("request: unknown cache policy %q", s)
}

// Precision decides how closely the output must match the resize size.
type Precision uint8

const (
	// LessPixels only subsamples; the output is never below the target size
	// but keeps the source aspect ratio.
	LessPixels Precision = iota
	// SameAspectRatio crops to the target aspect ratio, then subsamples.
	SameAspectRatio
	// Exactly produces exactly the target width and height.
	Exactly
)

func (p Precision) String() string {
	switch p {
	case SameAspectRatio:
		return "SAME_ASPECT_RATIO"
	case Exactly:
		return "EXACTLY"
	default:
		return "LESS_PIXELS"
	}
}

// ParsePrecision parses LESS_PIXELS, SAME_ASPECT_RATIO or EXACTLY.
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "LESS_PIXELS":
		return LessPixels, nil
	case "SAME_ASPECT_RATIO":
		return SameAspectRatio, nil
	case "EXACTLY":
		return Exactly, nil
	}
	return LessPixels, fmt.Errorf("request: unknown precision %q", s)
}

// Scale picks which part of the source survives a crop.
type Scale uint8

const (
	CenterCrop Scale = iota
	StartCrop
	EndCrop
	// Fill stretches the whole source into the target without cropping.
	Fill
)

func (s Scale) String() string {
	switch s {
	case StartCrop:
		return "START_CROP"
	case EndCrop:
		return "END_CROP"
	case Fill:
		return "FILL"
	default:
		return "CENTER_CROP"
	}
}

// ParseScale parses CENTER_CROP, START_CROP, END_CROP or FILL.
func ParseScale(s string) (Scale, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "CENTER_CROP":
		return CenterCrop, nil
	case "START_CROP":
		return StartCrop, nil
	case "END_CROP":
		return EndCrop, nil
	case "FILL":
		return Fill, nil
	}
	return CenterCrop, fmt.Errorf("request: unknown scale %q", s)
}

// Resize is the requested output size.
type Resize struct {
	Width     int
	Height    int
	Precision Precision
	Scale     Scale
}

// Valid reports whether both dimensions are positive.
func (r Resize) Valid() bool { return r.Width > 0 && r.Height > 0 }

// Key is the stable fingerprint fragment for r.
func (r Resize) Key() string {
	return fmt.Sprintf("Resize(%dx%d,%s,%s)", r.Width, r.Height, r.Precision, r.Scale)
}

func (r Resize) String() string { return r.Key() }

// Size is a width/height pair.
type Size struct {
	Width  int
	Height int
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// ShouldClip reports whether an image of the given size must be cropped to
// satisfy r, i.e. the precision keeps the target aspect ratio and the
// ratios differ at one decimal place.
func (r Resize) ShouldClip(imgW, imgH int) bool {
	if !r.Valid() || imgW <= 0 || imgH <= 0 {
		return false
	}
	if r.Precision == LessPixels || r.Scale == Fill {
		return false
	}
	return ratioKey(imgW, imgH) != ratioKey(r.Width, r.Height)
}

func ratioKey(w, h int) string { return fmt.Sprintf("%.1f", float64(w)/float64(h)) }
