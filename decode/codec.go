package decode

import (
	"context"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	"github.com/IvanBrykalov/pixcache/bitmap"
	"github.com/IvanBrykalov/pixcache/fetch"
)

// DecodeOptions controls one Codec.Decode call.
type DecodeOptions struct {
	// Region is the part of the (oriented) image to decode; empty means all.
	// Region and SampleSize bound the output buffer only: ImagingCodec
	// decodes the whole source first, so its peak memory is the full image.
	Region image.Rectangle
	// SampleSize subsamples the region by this power of two.
	SampleSize int
	// InBuffer, when set, receives the pixels. A buffer that cannot hold the
	// output makes Decode fail with ErrInBuffer and leaves it untouched.
	InBuffer *bitmap.Buffer
	// Alloc provides the output buffer when InBuffer is nil;
	// nil means bitmap.NewBuffer.
	Alloc      func(w, h int, f bitmap.Format) *bitmap.Buffer
	Format     bitmap.Format
	IgnoreExif bool
}

// Codec turns encoded bytes into pixels.
type Codec interface {
	// ReadInfo reads dimensions, MIME type and EXIF orientation without
	// decoding pixels. Width and Height are as stored, before orientation.
	ReadInfo(ctx context.Context, src fetch.Source) (ImageInfo, error)
	// Decode decodes into a buffer of size SampledSize(region, SampleSize).
	// On error no buffer is retained.
	Decode(ctx context.Context, src fetch.Source, opt DecodeOptions) (*bitmap.Buffer, error)
}

// ImagingCodec decodes with disintegration/imaging (png, jpeg, gif, bmp,
// tiff) and scales into the output buffer with x/image/draw.
type ImagingCodec struct {
	// Scaler used for subsampling; nil means draw.ApproxBiLinear.
	Scaler xdraw.Scaler
}

func (ImagingCodec) ReadInfo(ctx context.Context, src fetch.Source) (ImageInfo, error) {
	if err := ctx.Err(); err != nil {
		return ImageInfo{}, err
	}
	rc, err := src.Open()
	if err != nil {
		return ImageInfo{}, err
	}
	cfg, format, err := image.DecodeConfig(rc)
	_ = rc.Close()
	if err != nil {
		return ImageInfo{}, err
	}
	info := ImageInfo{Width: cfg.Width, Height: cfg.Height, MimeType: "image/" + format}
	if format == "jpeg" {
		if rc, err := src.Open(); err == nil {
			info.ExifOrientation = ReadExifOrientation(rc)
			_ = rc.Close()
		}
	}
	return info, nil
}

func (c ImagingCodec) Decode(ctx context.Context, src fetch.Source, opt DecodeOptions) (*bitmap.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := src.Open()
	if err != nil {
		return nil, err
	}
	img, err := decodeAll(rc, !opt.IgnoreExif)
	_ = rc.Close()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := img.Bounds()
	region := b
	if !opt.Region.Empty() {
		region = opt.Region.Add(b.Min).Intersect(b)
		if region.Empty() {
			return nil, fmt.Errorf("region %v outside image %v", opt.Region, b)
		}
	}
	w, h := SampledSize(region.Dx(), region.Dy(), max(opt.SampleSize, 1))

	var buf *bitmap.Buffer
	switch {
	case opt.InBuffer != nil:
		if opt.InBuffer.Format != opt.Format || !opt.InBuffer.Reshape(w, h) {
			return nil, ErrInBuffer
		}
		buf = opt.InBuffer
	case opt.Alloc != nil:
		buf = opt.Alloc(w, h, opt.Format)
	default:
		buf = bitmap.NewBuffer(w, h, opt.Format)
	}
	Draw(buf, buf.DrawImage().Bounds(), img, region, c.Scaler)
	return buf, nil
}

// decodeAll decodes via imaging; panics inside third-party decoders on
// hostile input are turned into errors.
func decodeAll(r io.Reader, autoOrient bool) (img image.Image, err error) {
	defer func() {
		if p := recover(); p != nil {
			img, err = nil, fmt.Errorf("codec panic: %v", p)
		}
	}()
	return imaging.Decode(r, imaging.AutoOrientation(autoOrient))
}

// Draw renders src's srcRect into dst's dstRect, overwriting every
// destination pixel. Same-size copies are exact; otherwise scaler (nil =
// ApproxBiLinear) resamples.
func Draw(dst *bitmap.Buffer, dstRect image.Rectangle, src image.Image, srcRect image.Rectangle, scaler xdraw.Scaler) {
	d := dst.DrawImage()
	if dstRect.Dx() == srcRect.Dx() && dstRect.Dy() == srcRect.Dy() {
		xdraw.Draw(d, dstRect, src, srcRect.Min, xdraw.Src)
		return
	}
	if scaler == nil {
		scaler = xdraw.ApproxBiLinear
	}
	scaler.Scale(d, dstRect, src, srcRect, xdraw.Src, nil)
}
