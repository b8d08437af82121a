package request

import (
	"slices"

	"github.com/IvanBrykalov/pixcache/bitmap"
)

// Options holds the request fields that can be defaulted. Zero values and
// nil pointers mean unset.
type Options struct {
	Depth               Depth
	MemoryCachePolicy   CachePolicy
	ResultCachePolicy   CachePolicy
	DownloadCachePolicy CachePolicy

	Resize       *Resize
	SizeResolver SizeResolver

	Transformations []Transformation
	Format          *bitmap.Format

	IgnoreExifOrientation  *bool
	DisallowReuseBuffer    *bool
	PauseLoadWhenScrolling *bool
	SaveCellularTraffic    *bool

	Placeholder StateImage
	Error       StateImage
	Parameters  *Parameters
}

// Bool returns a pointer to b, for Options literals.
func Bool(b bool) *bool { return &b }

// Merge returns o with unset fields taken from defaults. Transformations and
// parameters are unioned, o's entries first. Neither input is modified.
func (o Options) Merge(defaults Options) Options {
	out := o
	if out.Depth == DepthDefault {
		out.Depth = defaults.Depth
	}
	if out.MemoryCachePolicy == PolicyDefault {
		out.MemoryCachePolicy = defaults.MemoryCachePolicy
	}
	if out.ResultCachePolicy == PolicyDefault {
		out.ResultCachePolicy = defaults.ResultCachePolicy
	}
	if out.DownloadCachePolicy == PolicyDefault {
		out.DownloadCachePolicy = defaults.DownloadCachePolicy
	}
	if out.Resize == nil {
		out.Resize = defaults.Resize
	}
	if out.SizeResolver == nil {
		out.SizeResolver = defaults.SizeResolver
	}
	out.Transformations = mergeTransformations(o.Transformations, defaults.Transformations)
	if out.Format == nil {
		out.Format = defaults.Format
	}
	if out.IgnoreExifOrientation == nil {
		out.IgnoreExifOrientation = defaults.IgnoreExifOrientation
	}
	if out.DisallowReuseBuffer == nil {
		out.DisallowReuseBuffer = defaults.DisallowReuseBuffer
	}
	if out.PauseLoadWhenScrolling == nil {
		out.PauseLoadWhenScrolling = defaults.PauseLoadWhenScrolling
	}
	if out.SaveCellularTraffic == nil {
		out.SaveCellularTraffic = defaults.SaveCellularTraffic
	}
	if out.Placeholder == nil {
		out.Placeholder = defaults.Placeholder
	}
	if out.Error == nil {
		out.Error = defaults.Error
	}
	out.Parameters = o.Parameters.merge(defaults.Parameters)
	return out
}

func mergeTransformations(own, defaults []Transformation) []Transformation {
	if len(defaults) == 0 {
		return slices.Clone(own)
	}
	out := slices.Clone(own)
	for _, d := range defaults {
		dup := false
		for _, t := range own {
			if t.Key() == d.Key() {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, d)
		}
	}
	return out
}

func boolOf(p *bool) bool { return p != nil && *p }
