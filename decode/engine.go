package decode

import (
	"context"
	"errors"
	"fmt"

	"github.com/IvanBrykalov/pixcache/bitmap"
	"github.com/IvanBrykalov/pixcache/pool"
	"github.com/IvanBrykalov/pixcache/request"
)

// EngineDecodeInterceptor is the terminal stage: fetch, read info, plan the
// decode (region and subsampling), decode into a pooled buffer and apply
// the final resize the precision demands.
type EngineDecodeInterceptor struct{}

func (EngineDecodeInterceptor) Intercept(ctx context.Context, chain *Chain) (*Result, error) {
	req := chain.Request()
	uri := req.URI()
	log := chain.Logger()

	fr, err := chain.FetchResult(ctx)
	if err != nil {
		return nil, err
	}
	info, err := chain.Codec().ReadInfo(ctx, fr.Source)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &DecodeError{URI: uri, Reason: "read info", Err: err}
	}
	if info.MimeType == "" {
		info.MimeType = fr.MimeType
	}
	if info.Width <= 1 || info.Height <= 1 {
		log.Warn("invalid image size", "uri", uri, "width", info.Width, "height", info.Height)
		return nil, &DecodeError{URI: uri, Reason: fmt.Sprintf("size %dx%d", info.Width, info.Height), Err: ErrInvalidSize}
	}

	orientation := info.ExifOrientation
	if req.IgnoreExifOrientation() {
		orientation = OrientationUndefined
	}
	w, h := OrientedSize(info.Width, info.Height, orientation)
	rs, hasResize := req.Resize()
	p := planDecode(w, h, rs, hasResize)

	pl := chain.Pool()
	opt := DecodeOptions{
		Region:     p.region,
		SampleSize: p.sample,
		Alloc:      pl.New,
		Format:     req.Format(),
		IgnoreExif: req.IgnoreExifOrientation(),
	}
	if !req.DisallowReuseBuffer() {
		opt.InBuffer = pl.Acquire(p.outW, p.outH, opt.Format)
	}

	buf, err := chain.Codec().Decode(ctx, fr.Source, opt)
	if err != nil && opt.InBuffer != nil {
		pl.Release(opt.InBuffer)
		if errors.Is(err, ErrInBuffer) {
			log.Debug("in-buffer decode failed, retrying", "uri", uri, "err", err)
			opt.InBuffer = nil
			buf, err = chain.Codec().Decode(ctx, fr.Source, opt)
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &DecodeError{URI: uri, Reason: "decode", Err: err}
	}
	if buf.Width <= 1 || buf.Height <= 1 {
		pl.Release(buf)
		return nil, &DecodeError{URI: uri, Reason: fmt.Sprintf("decoded size %dx%d", buf.Width, buf.Height), Err: ErrInvalidSize}
	}

	img := bitmap.NewImage(buf, info.MimeType, fr.DataFrom, pl)
	img.ExifOrientation = info.ExifOrientation
	res := &Result{Image: img, Info: info}
	if !p.region.Empty() {
		res.addTransformed(fmt.Sprintf("Region(%d,%d,%d,%d)", p.region.Min.X, p.region.Min.Y, p.region.Dx(), p.region.Dy()))
	}
	if p.sample > 1 {
		res.addTransformed(fmt.Sprintf("InSampled(%d)", p.sample))
	}
	if hasResize {
		finalResize(res, rs, pl, req)
	}
	return res, nil
}

// finalResize makes the output exactly rs (Exactly) or of rs's aspect ratio
// (SameAspectRatio) when the decode alone did not.
func finalResize(res *Result, rs request.Resize, pl *pool.Pool, req *request.Request) {
	src := res.Image.Buffer()
	var exactly bool
	switch rs.Precision {
	case request.Exactly:
		if src.Width == rs.Width && src.Height == rs.Height {
			return
		}
		exactly = true
	case request.SameAspectRatio:
		if rs.Scale == request.Fill || !AspectRatioDiffers(src.Width, src.Height, rs.Width, rs.Height) {
			return
		}
	default:
		return
	}
	m := ResizeMapping(src.Width, src.Height, rs.Width, rs.Height, rs.Scale, exactly)
	var dst *bitmap.Buffer
	if req.DisallowReuseBuffer() {
		dst = pl.New(m.Width, m.Height, src.Format)
	} else {
		dst = pl.AcquireOrNew(m.Width, m.Height, src.Format)
	}
	Draw(dst, m.Dst, src.Image(), m.Src, nil)
	res.replaceImage(dst, pl)
	res.addTransformed(fmt.Sprintf("Resized(%dx%d,%s,%s)", m.Width, m.Height, rs.Precision, rs.Scale))
}

// replaceImage swaps the result's image for one over buf, carrying metadata
// over and releasing the old reference.
func (r *Result) replaceImage(buf *bitmap.Buffer, rc bitmap.Recycler) {
	old := r.Image
	img := bitmap.NewImage(buf, old.MimeType, old.DataFrom, rc)
	img.ExifOrientation = old.ExifOrientation
	img.Transformed = append([]string(nil), old.Transformed...)
	r.Image = img
	old.Release()
}
