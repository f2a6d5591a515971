package cache

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// CacheProvider is an interface for a versioned cache provider.
// Every version is a named store of []byte values, which represent HTTP responses.
// A store is only ever replaced as a whole, never mutated entry by entry,
// and at most one version is marked as active.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Replace atomically replaces the content of the store named by version
	// with the given entries, creating the store if it does not exist.
	// If an error is returned, the store must be left as it was.
	Replace(version string, entries []CacheEntry) error
	// Get returns the entry for the given key in the given version, if it exists.
	// It also returns a boolean indicating whether retrieval was successful.
	Get(version, key string) (CacheEntry, bool, error)
	// Keys calls the given callback for each key stored in the given version.
	Keys(version string, cb func(string)) error
	// Versions returns the names of all existing stores, sorted.
	Versions() ([]string, error)
	// Delete removes the store with all of its entries.
	// Deleting the active version clears the active marker.
	Delete(version string) error
	// SetActive marks an existing store as the active one.
	SetActive(version string) error
	// Active returns the name of the active store, or "" if there is none.
	Active() (string, error)
	// Close releases the underlying storage.
	Close() error
}

type CacheEntry struct {
	Key      string
	StoredAt time.Time
	Bytes    []byte
}

var (
	ErrUnknownVersion = errors.New("unknown cache version")
	ErrInvalidVersion = errors.New("invalid cache version")
)

// CheckVersion returns an error if the name cannot be used as a version identifier.
func CheckVersion(version string) error {
	if strings.TrimSpace(version) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidVersion)
	}
	if strings.ContainsRune(version, 0) {
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidVersion, version)
	}
	return nil
}
