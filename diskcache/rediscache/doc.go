// Package rediscache is a diskcache.Cache backed by Redis, for result and
// download caches shared by several engine processes.
package rediscache
