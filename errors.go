package offlinecache

import (
	"errors"
	"fmt"
)

// ErrNotInstalled is returned by Activate when the configured version
// has not been installed successfully by this worker.
var ErrNotInstalled = errors.New("version not installed")

// CachePopulationError is returned when a snapshot could not be populated.
// Nothing of the failed population is stored.
type CachePopulationError struct {
	Version string
	// URL of the manifest entry that failed, empty if storing the snapshot failed.
	URL string
	// StatusCode is set when the entry was fetched but did not respond with 2xx.
	StatusCode int
	Err        error
}

func (e *CachePopulationError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("populate %s: %s responded with status %d", e.Version, e.URL, e.StatusCode)
	case e.URL != "":
		return fmt.Sprintf("populate %s: fetch %s: %v", e.Version, e.URL, e.Err)
	default:
		return fmt.Sprintf("populate %s: %v", e.Version, e.Err)
	}
}

func (e *CachePopulationError) Unwrap() error {
	return e.Err
}

// NetworkFetchError is returned when a request that is not in the cache
// could not be fetched from the network.
type NetworkFetchError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkFetchError) Error() string {
	return fmt.Sprintf("fetch %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkFetchError) Unwrap() error {
	return e.Err
}
