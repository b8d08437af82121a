package diskcache

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Entry layout: magic[4] | flags[1] | reserved[3] | length[8] | crc32[4] | body.
// length and crc32 cover the stored (possibly compressed) body.
const (
	headerSize = 20
	flagZstd   = 1 << 0
)

var magic = [4]byte{'P', 'X', 'C', '1'}

var (
	zOnce sync.Once
	zEnc  *zstd.Encoder
	zDec  *zstd.Decoder
	zErr  error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zOnce.Do(func() {
		zEnc, zErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if zErr != nil {
			return
		}
		zDec, zErr = zstd.NewReader(nil)
	})
	return zEnc, zDec, zErr
}

// EncodeEntry frames body with a verifiable header, compressing it with zstd
// when compress is set.
func EncodeEntry(body []byte, compress bool) ([]byte, error) {
	var flags byte
	if compress {
		enc, _, err := codecs()
		if err != nil {
			return nil, fmt.Errorf("diskcache: zstd: %w", err)
		}
		body = enc.EncodeAll(body, nil)
		flags |= flagZstd
	}
	out := make([]byte, headerSize+len(body))
	copy(out[0:4], magic[:])
	out[4] = flags
	binary.BigEndian.PutUint64(out[8:16], uint64(len(body)))
	binary.BigEndian.PutUint32(out[16:20], crc32.ChecksumIEEE(body))
	copy(out[headerSize:], body)
	return out, nil
}

// DecodeEntry verifies and unframes raw. Any mismatch yields ErrCorrupt.
func DecodeEntry(raw []byte) ([]byte, error) {
	if len(raw) < headerSize || [4]byte(raw[0:4]) != magic {
		return nil, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	flags := raw[4]
	n := binary.BigEndian.Uint64(raw[8:16])
	body := raw[headerSize:]
	if uint64(len(body)) != n {
		return nil, fmt.Errorf("%w: length %d, want %d", ErrCorrupt, len(body), n)
	}
	if crc32.ChecksumIEEE(body) != binary.BigEndian.Uint32(raw[16:20]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	if flags&flagZstd == 0 {
		return body, nil
	}
	_, dec, err := codecs()
	if err != nil {
		return nil, fmt.Errorf("diskcache: zstd: %w", err)
	}
	out, err := dec.DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out, nil
}
