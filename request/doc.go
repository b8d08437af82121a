// Package request models one image load: an immutable Request with its
// resize, cache policies, depth limit and transformations, the external
// collaborators (Target, Lifecycle, Listener, SizeResolver, StateImage) and
// the fingerprint used by every cache layer.
//
// CacheKey covers what changes pixels and nothing else, so two requests that
// differ only in depth, listeners or targets share cached output.
package request
