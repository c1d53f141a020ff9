// Package cache contains the storage backends for cached responses.
// Providers store opaque byte slices under string keys and keep track
// of an eviction deadline per entry. They know nothing about HTTP;
// deciding what to store and for how long is the caller's business.
package cache

import "time"

// Provider is the storage interface used by the caching middleware.
// It stores and retrieves []byte values, which represent serialized
// HTTP responses, together with an eviction time. Key prefixes group
// the stored variants of one resource, so prefix operations are what
// make multiple origins and multiple variants coexist in one store.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Get returns the entry stored under exactly the given key.
	// The boolean reports whether a live entry was found; entries past
	// their eviction time are reported as absent.
	Get(key string) ([]byte, bool, error)
	// All returns every live entry whose key starts with the given
	// prefix. The order is unspecified.
	All(prefix string) ([]Entry, error)
	// Put stores bytes under the key, replacing any previous entry.
	// The entry is eligible for eviction once expires has passed; a
	// zero expires keeps the entry until it is purged.
	Put(key string, expires time.Time, bytes []byte) error
	// Purge removes every entry whose key starts with the given
	// prefix. Purging a full key removes the single entry.
	Purge(prefix string) error
}

// Entry is one stored response variant.
type Entry struct {
	Key     string
	Expires time.Time
	Bytes   []byte
}

func expired(expires, now time.Time) bool {
	return !expires.IsZero() && now.After(expires)
}
