// Package fetch loads the source bytes of a request. A Registry maps uris to
// Fetchers; the built-ins cover http(s) with a download cache, local files,
// data: uris and in-process memory:// bytes.
package fetch
