package request

import (
	"strings"

	"github.com/IvanBrykalov/pixcache/bitmap"
)

// Request is an immutable description of one image load. Build one with
// NewBuilder; derive variants with r.NewBuilder().
type Request struct {
	uri       string
	depthFrom string
	opts      Options

	target    Target
	lifecycle Lifecycle
	listener  Listener

	key      string
	cacheKey string
}

func (r *Request) URI() string { return r.uri }

// Depth is the resolved depth limit.
func (r *Request) Depth() Depth { return r.opts.Depth.Resolve() }

// DepthFrom names who last lowered the depth, empty when the caller did.
func (r *Request) DepthFrom() string { return r.depthFrom }

func (r *Request) MemoryCachePolicy() CachePolicy   { return r.opts.MemoryCachePolicy.Resolve() }
func (r *Request) ResultCachePolicy() CachePolicy   { return r.opts.ResultCachePolicy.Resolve() }
func (r *Request) DownloadCachePolicy() CachePolicy { return r.opts.DownloadCachePolicy.Resolve() }

// Resize returns the resize and whether one is set.
func (r *Request) Resize() (Resize, bool) {
	if r.opts.Resize == nil {
		return Resize{}, false
	}
	return *r.opts.Resize, true
}

func (r *Request) SizeResolver() SizeResolver { return r.opts.SizeResolver }

// Transformations returns a copy of the transformation list.
func (r *Request) Transformations() []Transformation {
	return append([]Transformation(nil), r.opts.Transformations...)
}

// Format is the requested pixel format, FormatNRGBA when unset.
func (r *Request) Format() bitmap.Format {
	if r.opts.Format == nil {
		return bitmap.FormatNRGBA
	}
	return *r.opts.Format
}

func (r *Request) IgnoreExifOrientation() bool  { return boolOf(r.opts.IgnoreExifOrientation) }
func (r *Request) DisallowReuseBuffer() bool    { return boolOf(r.opts.DisallowReuseBuffer) }
func (r *Request) PauseLoadWhenScrolling() bool { return boolOf(r.opts.PauseLoadWhenScrolling) }
func (r *Request) SaveCellularTraffic() bool    { return boolOf(r.opts.SaveCellularTraffic) }

func (r *Request) Placeholder() StateImage { return r.opts.Placeholder }
func (r *Request) ErrorImage() StateImage  { return r.opts.Error }
func (r *Request) Parameters() *Parameters { return r.opts.Parameters }
func (r *Request) Target() Target          { return r.target }
func (r *Request) Listener() Listener      { return r.listener }

// Lifecycle is the request lifecycle, GlobalLifecycle when unset.
func (r *Request) Lifecycle() Lifecycle {
	if r.lifecycle == nil {
		return GlobalLifecycle
	}
	return r.lifecycle
}

// Options returns a copy of the defaultable fields.
func (r *Request) Options() Options {
	o := r.opts
	o.Transformations = r.Transformations()
	return o
}

// CacheKey is the fingerprint of everything that influences the output
// pixels: uri, resize, transformations, format, exif handling and cache-key
// parameters. Equal cache keys produce identical pixels.
func (r *Request) CacheKey() string { return r.cacheKey }

// Key extends CacheKey with depth, cache policies, buffer reuse and the
// remaining parameters.
func (r *Request) Key() string { return r.key }

// DownloadCacheKey keys the fetched source bytes.
func (r *Request) DownloadCacheKey() string { return r.uri }

// Merge returns a copy of r with unset fields filled from defaults.
func (r *Request) Merge(defaults Options) *Request {
	b := r.NewBuilder()
	b.opts = r.opts.Merge(defaults)
	return b.Build()
}

func (r *Request) String() string { return "Request(" + r.key + ")" }

func (r *Request) computeKeys() {
	var b strings.Builder
	b.WriteString(r.uri)
	sep := byte('?')
	add := func(name, v string) {
		b.WriteByte(sep)
		sep = '&'
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(v)
	}
	if rs, ok := r.Resize(); ok {
		add("_resize", rs.Key())
	}
	if len(r.opts.Transformations) > 0 {
		keys := make([]string, len(r.opts.Transformations))
		for i, t := range r.opts.Transformations {
			keys[i] = t.Key()
		}
		add("_transformations", "["+strings.Join(keys, ",")+"]")
	}
	if r.opts.Format != nil {
		add("_format", r.opts.Format.String())
	}
	if r.IgnoreExifOrientation() {
		add("_ignoreExifOrientation", "true")
	}
	if pk := r.opts.Parameters.key(true); pk != "" {
		add("_parameters", pk)
	}
	r.cacheKey = b.String()

	add("_depth", r.Depth().String())
	if r.depthFrom != "" {
		add("_depthFrom", r.depthFrom)
	}
	if p := r.MemoryCachePolicy(); p != Enabled {
		add("_memoryCachePolicy", p.String())
	}
	if p := r.ResultCachePolicy(); p != Enabled {
		add("_resultCachePolicy", p.String())
	}
	if p := r.DownloadCachePolicy(); p != Enabled {
		add("_downloadCachePolicy", p.String())
	}
	if r.DisallowReuseBuffer() {
		add("_disallowReuseBuffer", "true")
	}
	if pk := r.opts.Parameters.key(false); pk != "" {
		add("_allParameters", pk)
	}
	r.key = b.String()
}
