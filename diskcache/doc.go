// Package diskcache stores immutable blobs under a byte budget: fetched
// source bytes (the download cache) and encoded decode results (the result
// cache).
//
// Disk keeps entries on a go-billy filesystem, content-addressed by the
// SHA-256 of the key. Every entry is framed with a checksummed header
// (see EncodeEntry) so truncated or damaged files surface as ErrCorrupt and
// are treated as misses. Package rediscache offers the same contract on
// Redis for caches shared between processes.
package diskcache
