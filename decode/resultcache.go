package decode

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IvanBrykalov/pixcache/bitmap"
	"github.com/IvanBrykalov/pixcache/diskcache"
	"github.com/IvanBrykalov/pixcache/pool"
)

// ResultCacheInterceptor serves decoded pixels from a result cache keyed by
// the request cache key, and stores results that were resized or
// transformed (plain decodes are cheap to redo from the download cache).
type ResultCacheInterceptor struct {
	Cache  diskcache.Cache
	Logger *slog.Logger
}

// NewResultCacheInterceptor returns nil when c is nil.
func NewResultCacheInterceptor(c diskcache.Cache, log *slog.Logger) *ResultCacheInterceptor {
	if c == nil {
		return nil
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &ResultCacheInterceptor{Cache: c, Logger: log.With("component", "resultcache")}
}

func (i *ResultCacheInterceptor) Intercept(ctx context.Context, chain *Chain) (*Result, error) {
	req := chain.Request()
	key := req.CacheKey()
	policy := req.ResultCachePolicy()

	if policy.ReadEnabled() {
		snap, err := i.Cache.OpenSnapshot(ctx, key)
		switch {
		case err == nil:
			res, derr := DecodeResultBlob(snap.Bytes(), chain.Pool())
			if derr == nil {
				return res, nil
			}
			i.Logger.Warn("bad result blob removed", "key", key, "err", derr)
			_ = i.Cache.Remove(ctx, key)
		case !diskcache.IsMiss(err):
			i.Logger.Warn("result cache read", "key", key, "err", err)
		}
	}

	res, err := chain.Proceed(ctx, req)
	if err != nil {
		return nil, err
	}
	if !policy.WriteEnabled() || len(res.Transformed) == 0 || ctx.Err() != nil {
		return res, nil
	}
	blob, err := EncodeResultBlob(res)
	if err != nil {
		i.Logger.Warn("encode result", "key", key, "err", err)
		return res, nil
	}
	if err := diskcache.Put(ctx, i.Cache, key, blob); err != nil {
		if errors.Is(err, diskcache.ErrWriteConflict) {
			i.Logger.Debug("result cache write conflict", "key", key)
		} else {
			i.Logger.Warn("result cache write", "key", key, "err", err)
		}
	}
	return res, nil
}

// Result blob: magic[4] | metaLen[4] | meta (JSON) | pixels (rows packed).
var blobMagic = [4]byte{'P', 'X', 'R', '1'}

type blobMeta struct {
	Width       int       `json:"w"`
	Height      int       `json:"h"`
	Format      string    `json:"format"`
	MimeType    string    `json:"mime"`
	Exif        int       `json:"exif,omitempty"`
	Info        ImageInfo `json:"info"`
	Transformed []string  `json:"transformed,omitempty"`
}

// EncodeResultBlob serializes a result's pixels and metadata losslessly.
func EncodeResultBlob(res *Result) ([]byte, error) {
	buf := res.Image.Buffer()
	if buf == nil {
		return nil, errors.New("decode: encode released image")
	}
	meta, err := json.Marshal(blobMeta{
		Width:       buf.Width,
		Height:      buf.Height,
		Format:      buf.Format.String(),
		MimeType:    res.Image.MimeType,
		Exif:        res.Image.ExifOrientation,
		Info:        res.Info,
		Transformed: res.Transformed,
	})
	if err != nil {
		return nil, err
	}
	row := buf.Width * buf.Format.BytesPerPixel()
	var b bytes.Buffer
	b.Grow(8 + len(meta) + row*buf.Height)
	b.Write(blobMagic[:])
	_ = binary.Write(&b, binary.BigEndian, uint32(len(meta)))
	b.Write(meta)
	for y := 0; y < buf.Height; y++ {
		b.Write(buf.Pix[y*buf.Stride : y*buf.Stride+row])
	}
	return b.Bytes(), nil
}

// DecodeResultBlob restores a result into a buffer from p, tagged
// FromResultCache.
func DecodeResultBlob(blob []byte, p *pool.Pool) (*Result, error) {
	if len(blob) < 8 || [4]byte(blob[:4]) != blobMagic {
		return nil, errors.New("bad magic")
	}
	n := int(binary.BigEndian.Uint32(blob[4:8]))
	if 8+n > len(blob) {
		return nil, errors.New("truncated metadata")
	}
	var meta blobMeta
	if err := json.Unmarshal(blob[8:8+n], &meta); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	f, err := bitmap.ParseFormat(meta.Format)
	if err != nil {
		return nil, err
	}
	row := meta.Width * f.BytesPerPixel()
	pix := blob[8+n:]
	if meta.Width <= 0 || meta.Height <= 0 || len(pix) != row*meta.Height {
		return nil, fmt.Errorf("pixel data %d bytes, want %d", len(pix), row*meta.Height)
	}
	buf := p.AcquireOrNew(meta.Width, meta.Height, f)
	for y := 0; y < meta.Height; y++ {
		copy(buf.Pix[y*buf.Stride:y*buf.Stride+row], pix[y*row:(y+1)*row])
	}
	img := bitmap.NewImage(buf, meta.MimeType, bitmap.FromResultCache, p)
	img.ExifOrientation = meta.Exif
	img.Transformed = append([]string(nil), meta.Transformed...)
	return &Result{Image: img, Info: meta.Info, Transformed: meta.Transformed}, nil
}
