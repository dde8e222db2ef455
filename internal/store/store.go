// Package store provides the durable key-value state store: settings blob,
// page entries, advisory cache and rate-limit maps survive restarts here.
package store

import "errors"

// KV is the durable store contract. Implementations must be safe for
// concurrent use.
type KV interface {
	// Get returns the stored value and whether the key exists.
	Get(key string) ([]byte, bool, error)
	// Set writes or replaces a value.
	Set(key string, value []byte) error
	// Delete removes a key; deleting a missing key is not an error.
	Delete(key string) error
	// Scan returns all key/value pairs whose key starts with prefix.
	Scan(prefix string) (map[string][]byte, error)
	Close() error
}

// Well-known keys and prefixes.
const (
	KeySettings    = "settings"
	KeyOracleCache = "oracleCache"
	KeyTrackerDB   = "trackerDb"
	KeyRateLimits  = "rateLimits"
	PrefixPage     = "page:"
)

var ErrClosed = errors.New("store closed")
