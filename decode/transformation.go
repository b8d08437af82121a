package decode

import (
	"context"

	"github.com/IvanBrykalov/pixcache/bitmap"
)

// TransformationInterceptor applies the request's transformations, in
// order, to the decoded image. Each output is copied into a pooled buffer
// and the previous image is released; a transformation returning nil is
// skipped. Transformations receive a view of pooled pixels and must not
// keep it.
type TransformationInterceptor struct{}

func (TransformationInterceptor) Intercept(ctx context.Context, chain *Chain) (*Result, error) {
	req := chain.Request()
	res, err := chain.Proceed(ctx, req)
	if err != nil {
		return nil, err
	}
	ts := req.Transformations()
	if len(ts) == 0 {
		return res, nil
	}
	pl := chain.Pool()
	for _, t := range ts {
		if err := ctx.Err(); err != nil {
			res.Release()
			return nil, err
		}
		out, err := t.Transform(ctx, res.Image.Pixels())
		if err != nil {
			res.Release()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &DecodeError{URI: req.URI(), Reason: "transform " + t.Key(), Err: err}
		}
		if out == nil {
			continue
		}
		f := res.Image.Buffer().Format
		b := out.Bounds()
		var buf *bitmap.Buffer
		if req.DisallowReuseBuffer() {
			buf = pl.New(b.Dx(), b.Dy(), f)
		} else {
			buf = pl.AcquireOrNew(b.Dx(), b.Dy(), f)
		}
		Draw(buf, buf.DrawImage().Bounds(), out, b, nil)
		res.replaceImage(buf, pl)
		res.addTransformed(t.Key())
	}
	return res, nil
}
