// Package localcache is the non-secret local key-value cache the auth engine
// keeps next to the secure token store: the serialized user object and the
// token expiry timestamp. Nothing in here is sensitive, so implementations
// trade protection for convenience.
package localcache

import "errors"

// ErrNotFound is returned by Get when no value exists for the key.
var ErrNotFound = errors.New("localcache: key not found")

// Cache is a plain string key-value store. Implementations must be safe for
// concurrent use.
type Cache interface {
	// Set stores value under key, overwriting any previous value.
	Set(key, value string) error

	// Get returns the value stored under key, or ErrNotFound.
	Get(key string) (string, error)

	// Delete removes the value stored under key. Deleting a missing key is
	// not an error.
	Delete(key string) error
}
