// Package decode turns fetched bytes into pooled, reference-counted images
// through an ordered chain of interceptors.
//
// The default chain is
//
//	ResultCacheInterceptor → TransformationInterceptor → EngineDecodeInterceptor
//
// The terminal stage reads the image info, rejects images of 1×1 or less,
// decodes only the region a cropping resize needs, subsamples by the largest
// power of two that keeps the output at or above the target size, and
// decodes into a buffer taken from the pool. A failed decode into a reused
// buffer gives the buffer back and retries once with a fresh allocation.
// Every buffer acquired along the way is released on every exit path.
package decode
