// Package pool implements a budget-limited pool of reusable pixel buffers.
//
// Decoders acquire a buffer sized for the image they are about to produce and
// the buffer comes back when the last reference to the decoded image is
// released. The pool tracks checked-out buffers, so a buffer is never handed
// to two callers at once and stray double releases are detected and ignored.
//
// Matching prefers an exact (width, height, format) hit, then the smallest
// larger buffer of the same format; callers must treat the dimensions of a
// reused buffer as advisory and write only within the reshaped bounds.
// When free buffers exceed the byte budget the least recently released ones
// are discarded first.
package pool
