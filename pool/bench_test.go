package pool

import (
	"testing"

	"github.com/IvanBrykalov/pixcache/bitmap"
)

func BenchmarkPool_AcquireRelease(b *testing.B) {
	p := New(Options{MaxBytes: 64 << 20})
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			p.Release(p.AcquireOrNew(256, 256, bitmap.FormatNRGBA))
		}
	})
}
