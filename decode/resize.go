package decode

import (
	"fmt"
	"image"

	"github.com/IvanBrykalov/pixcache/request"
)

// CalculateSampleSize returns the largest power of two s such that
// (w/s, h/s) is still at least the target size on both axes. A missing
// target (<= 0) yields 1.
func CalculateSampleSize(w, h, targetW, targetH int) int {
	if targetW <= 0 || targetH <= 0 || w <= 0 || h <= 0 {
		return 1
	}
	s := 1
	for w/(s*2) >= targetW && h/(s*2) >= targetH {
		s *= 2
	}
	return s
}

// SampledSize is the output size of a decode subsampled by s.
func SampledSize(w, h, s int) (int, int) {
	if s <= 1 {
		return w, h
	}
	return (w + s - 1) / s, (h + s - 1) / s
}

// AspectRatioDiffers compares two aspect ratios rounded to one decimal.
func AspectRatioDiffers(w1, h1, w2, h2 int) bool {
	return fmt.Sprintf("%.1f", float64(w1)/float64(h1)) != fmt.Sprintf("%.1f", float64(w2)/float64(h2))
}

// Mapping describes how a source image maps onto a resize target: the Src
// rectangle of the source is drawn into Dst of a Width×Height output.
type Mapping struct {
	Width  int
	Height int
	Src    image.Rectangle
	Dst    image.Rectangle
}

// ResizeMapping computes the mapping of an imgW×imgH source onto the
// resize. Crop scales select the largest source rectangle with the target
// aspect ratio, anchored by scale; Fill keeps the whole source. With exactly
// set the output is the target size; otherwise it never exceeds the
// selected source rectangle (no upscaling).
func ResizeMapping(imgW, imgH, resizeW, resizeH int, scale request.Scale, exactly bool) Mapping {
	full := image.Rect(0, 0, imgW, imgH)
	if imgW <= 0 || imgH <= 0 || resizeW <= 0 || resizeH <= 0 {
		return Mapping{Width: imgW, Height: imgH, Src: full, Dst: full}
	}

	src := full
	if scale != request.Fill {
		sw, sh := imgW, imgH
		// Compare resizeW/resizeH with imgW/imgH without floats.
		if int64(resizeW)*int64(imgH) > int64(imgW)*int64(resizeH) {
			sh = int(int64(imgW) * int64(resizeH) / int64(resizeW))
		} else {
			sw = int(int64(imgH) * int64(resizeW) / int64(resizeH))
		}
		sw, sh = max(sw, 1), max(sh, 1)
		var x, y int
		switch scale {
		case request.StartCrop:
		case request.EndCrop:
			x, y = imgW-sw, imgH-sh
		default:
			x, y = (imgW-sw)/2, (imgH-sh)/2
		}
		src = image.Rect(x, y, x+sw, y+sh)
	}

	w, h := resizeW, resizeH
	if !exactly {
		if src.Dx() < w || src.Dy() < h {
			w, h = src.Dx(), src.Dy()
			if scale == request.Fill {
				w, h = min(resizeW, imgW), min(resizeH, imgH)
			}
		}
	}
	return Mapping{Width: w, Height: h, Src: src, Dst: image.Rect(0, 0, w, h)}
}

// OrientedSize is the size after applying an EXIF orientation: 5 to 8
// transpose the axes.
func OrientedSize(w, h, orientation int) (int, int) {
	if orientation >= 5 && orientation <= 8 {
		return h, w
	}
	return w, h
}

// plan is how the terminal stage decodes one request.
type plan struct {
	region image.Rectangle // empty = whole image
	sample int
	outW   int
	outH   int
}

// planDecode picks region and subsampling for an image of the given
// (oriented) size. A region is used when the request crops to a different
// aspect ratio; the sample size is computed on the region so the decoded
// pixels never fall below the target resolution.
func planDecode(w, h int, rs request.Resize, hasResize bool) plan {
	p := plan{sample: 1, outW: w, outH: h}
	if !hasResize || !rs.Valid() {
		return p
	}
	srcW, srcH := w, h
	if rs.ShouldClip(w, h) {
		m := ResizeMapping(w, h, rs.Width, rs.Height, rs.Scale, false)
		p.region = m.Src
		srcW, srcH = m.Src.Dx(), m.Src.Dy()
	}
	p.sample = CalculateSampleSize(srcW, srcH, rs.Width, rs.Height)
	p.outW, p.outH = SampledSize(srcW, srcH, p.sample)
	return p
}
