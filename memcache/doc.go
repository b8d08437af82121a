// Package memcache is the in-memory cache of decoded images, a byte-bounded
// LRU over cache.Cache whose entries are reference-counted bitmap.Images.
package memcache
