// Package securestore defines the secret storage contract the auth engine
// persists tokens through, plus reference implementations.
//
// On a real device the Store is backed by the platform keystore (Android
// Keystore, iOS Keychain) via a thin bridge that satisfies the interface.
// This package ships an in-memory store for tests and an encrypted file
// store for platforms without a keystore bridge.
package securestore

import "errors"

// ErrNotFound is returned by GetSecret when no value exists for the key.
var ErrNotFound = errors.New("securestore: secret not found")

// Store is a per-key secret store. Implementations must be safe for
// concurrent use.
type Store interface {
	// SetSecret stores value under key, overwriting any previous value.
	SetSecret(key, value string) error

	// GetSecret returns the value stored under key, or ErrNotFound.
	GetSecret(key string) (string, error)

	// DeleteSecret removes the value stored under key. Deleting a key that
	// does not exist is not an error.
	DeleteSecret(key string) error
}
