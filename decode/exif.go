package decode

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
)

// EXIF orientation values (TIFF tag 0x0112). 0 means no tag was found.
const (
	OrientationUndefined  = 0
	OrientationNormal     = 1
	OrientationFlipH      = 2
	OrientationRotate180  = 3
	OrientationFlipV      = 4
	OrientationTranspose  = 5
	OrientationRotate90   = 6
	OrientationTransverse = 7
	OrientationRotate270  = 8
)

const (
	markerSOI  = 0xd8
	markerAPP1 = 0xe1
	markerSOS  = 0xda
	markerEOI  = 0xd9
	tagOrient  = 0x0112
)

var exifHeader = []byte("Exif\x00\x00")

// ReadExifOrientation scans JPEG markers up to the first scan for an EXIF
// orientation tag. Non-JPEG input and malformed segments yield
// OrientationUndefined.
func ReadExifOrientation(r io.Reader) int {
	br := bufio.NewReader(r)
	var soi [2]byte
	if _, err := io.ReadFull(br, soi[:]); err != nil || soi[0] != 0xff || soi[1] != markerSOI {
		return OrientationUndefined
	}
	for {
		b, err := br.ReadByte()
		if err != nil || b != 0xff {
			return OrientationUndefined
		}
		marker, err := br.ReadByte()
		for err == nil && marker == 0xff { // fill bytes
			marker, err = br.ReadByte()
		}
		if err != nil || marker == markerSOS || marker == markerEOI {
			return OrientationUndefined
		}
		var lb [2]byte
		if _, err := io.ReadFull(br, lb[:]); err != nil {
			return OrientationUndefined
		}
		n := int(binary.BigEndian.Uint16(lb[:])) - 2
		if n < 0 {
			return OrientationUndefined
		}
		if marker != markerAPP1 {
			if _, err := br.Discard(n); err != nil {
				return OrientationUndefined
			}
			continue
		}
		seg := make([]byte, n)
		if _, err := io.ReadFull(br, seg); err != nil {
			return OrientationUndefined
		}
		if !bytes.HasPrefix(seg, exifHeader) {
			continue
		}
		return tiffOrientation(seg[len(exifHeader):])
	}
}

func tiffOrientation(t []byte) int {
	if len(t) < 8 {
		return OrientationUndefined
	}
	var bo binary.ByteOrder
	switch string(t[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return OrientationUndefined
	}
	if bo.Uint16(t[2:4]) != 42 {
		return OrientationUndefined
	}
	off := int(bo.Uint32(t[4:8]))
	if off < 8 || off+2 > len(t) {
		return OrientationUndefined
	}
	count := int(bo.Uint16(t[off : off+2]))
	for i := range count {
		e := off + 2 + i*12
		if e+12 > len(t) {
			return OrientationUndefined
		}
		if bo.Uint16(t[e:e+2]) != tagOrient {
			continue
		}
		v := int(bo.Uint16(t[e+8 : e+10]))
		if v < OrientationNormal || v > OrientationRotate270 {
			return OrientationUndefined
		}
		return v
	}
	return OrientationUndefined
}
