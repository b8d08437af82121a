// Package bitmap defines the pixel buffers and reference-counted decoded
// images that flow through the pipeline.
//
// A Buffer is a raw allocation owned by the pool. An Image wraps a Buffer
// with decode metadata and a reference count: the memory cache, every
// in-flight display and the decode step each hold a reference, and the
// buffer returns to its Recycler only after the last one is released. Cache
// eviction and reference counting are therefore independent: an evicted
// image that is still displayed keeps its pixels until the display lets go.
package bitmap
