// Package transform provides the built-in image transformations. Each value
// implements request.Transformation; its Key is stable across processes and
// becomes part of the request cache key, so two transformations with equal
// keys must produce equal pixels.
package transform
