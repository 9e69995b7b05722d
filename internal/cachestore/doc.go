// Package cachestore persists the named response caches used by the cache
// worker. Each cache maps a request URL to a stored response; hot entries are
// kept in an in-memory LRU in front of SQLite.
package cachestore
