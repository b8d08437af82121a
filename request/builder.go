package request

import (
	"fmt"
	"strings"

	"github.com/IvanBrykalov/pixcache/bitmap"
)

// Builder assembles a Request. Builders are not safe for concurrent use.
type Builder struct {
	uri       string
	depthFrom string
	opts      Options
	target    Target
	lifecycle Lifecycle
	listener  Listener
}

// NewBuilder starts a request for uri.
func NewBuilder(uri string) *Builder { return &Builder{uri: uri} }

// NewBuilder returns a builder seeded with every field of r.
func (r *Request) NewBuilder() *Builder {
	return &Builder{
		uri:       r.uri,
		depthFrom: r.depthFrom,
		opts:      r.Options(),
		target:    r.target,
		lifecycle: r.lifecycle,
		listener:  r.listener,
	}
}

// Depth sets the depth limit; from records who set it.
func (b *Builder) Depth(d Depth, from string) *Builder {
	b.opts.Depth = d
	b.depthFrom = from
	return b
}

func (b *Builder) MemoryCachePolicy(p CachePolicy) *Builder {
	b.opts.MemoryCachePolicy = p
	return b
}

func (b *Builder) ResultCachePolicy(p CachePolicy) *Builder {
	b.opts.ResultCachePolicy = p
	return b
}

func (b *Builder) DownloadCachePolicy(p CachePolicy) *Builder {
	b.opts.DownloadCachePolicy = p
	return b
}

// Resize sets an explicit output size.
func (b *Builder) Resize(r Resize) *Builder {
	b.opts.Resize = &r
	return b
}

// ResizeSize is Resize with default precision and scale.
func (b *Builder) ResizeSize(w, h int) *Builder { return b.Resize(Resize{Width: w, Height: h}) }

func (b *Builder) SizeResolver(s SizeResolver) *Builder {
	b.opts.SizeResolver = s
	return b
}

// Transformations replaces the transformation list.
func (b *Builder) Transformations(ts ...Transformation) *Builder {
	b.opts.Transformations = append([]Transformation(nil), ts...)
	return b
}

// AddTransformations appends, skipping keys already present.
func (b *Builder) AddTransformations(ts ...Transformation) *Builder {
	b.opts.Transformations = mergeTransformations(b.opts.Transformations, ts)
	return b
}

func (b *Builder) Format(f bitmap.Format) *Builder {
	b.opts.Format = &f
	return b
}

func (b *Builder) IgnoreExifOrientation(v bool) *Builder {
	b.opts.IgnoreExifOrientation = &v
	return b
}

func (b *Builder) DisallowReuseBuffer(v bool) *Builder {
	b.opts.DisallowReuseBuffer = &v
	return b
}

func (b *Builder) PauseLoadWhenScrolling(v bool) *Builder {
	b.opts.PauseLoadWhenScrolling = &v
	return b
}

func (b *Builder) SaveCellularTraffic(v bool) *Builder {
	b.opts.SaveCellularTraffic = &v
	return b
}

func (b *Builder) Placeholder(s StateImage) *Builder {
	b.opts.Placeholder = s
	return b
}

func (b *Builder) Error(s StateImage) *Builder {
	b.opts.Error = s
	return b
}

// Parameter sets one extra value.
func (b *Builder) Parameter(key, value string, cacheKey bool) *Builder {
	b.opts.Parameters = b.opts.Parameters.With(key, value, cacheKey)
	return b
}

func (b *Builder) Target(t Target) *Builder {
	b.target = t
	return b
}

func (b *Builder) Lifecycle(l Lifecycle) *Builder {
	b.lifecycle = l
	return b
}

func (b *Builder) Listener(l Listener) *Builder {
	b.listener = l
	return b
}

// Options fills unset fields from defaults.
func (b *Builder) Options(defaults Options) *Builder {
	b.opts = b.opts.Merge(defaults)
	return b
}

// Build returns the immutable request. It never fails; use Validate to
// check the uri.
func (b *Builder) Build() *Request {
	r := &Request{
		uri:       b.uri,
		depthFrom: b.depthFrom,
		opts:      b.opts,
		target:    b.target,
		lifecycle: b.lifecycle,
		listener:  b.listener,
	}
	r.opts.Transformations = append([]Transformation(nil), b.opts.Transformations...)
	r.computeKeys()
	return r
}

// Validate reports ErrInvalidURI for blank uris and invalid resize sizes.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.uri) == "" {
		return ErrInvalidURI
	}
	if rs, ok := r.Resize(); ok && !rs.Valid() {
		return fmt.Errorf("request: invalid resize %s", rs)
	}
	return nil
}
