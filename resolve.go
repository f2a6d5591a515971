package offlinecache

import (
	"net/http"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"

	"github.com/rs/zerolog"
)

// OnFetch resolves a request cache first.
// If the request identity is stored in version, the stored response is returned
// without touching the network and without any freshness check.
// Otherwise the request is sent through the network and its response is returned
// as is; it is not written back to the store. A failing round trip results in a
// *NetworkFetchError. An empty version means no snapshot is trusted yet.
//
// Problems reading the store are logged to the request context logger and
// treated as a miss.
func OnFetch(store cache.CacheProvider, version string, network http.RoundTripper, r *http.Request) (res *http.Response, hit bool, err error) {
	if res, ok := lookup(store, version, r); ok {
		return res, true, nil
	}
	res, err = network.RoundTrip(r)
	if err != nil {
		return nil, false, &NetworkFetchError{Method: r.Method, URL: r.URL.String(), Err: err}
	}
	return res, false, nil
}

// lookup returns the response stored for r in version, if any.
func lookup(store cache.CacheProvider, version string, r *http.Request) (*http.Response, bool) {
	if version == "" {
		return nil, false
	}
	log := zerolog.Ctx(r.Context())
	key := cachekey.GetKey(r)
	entry, ok, err := store.Get(version, key)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Could not retrieve from cache")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	res, err := serializer.BytesToResponse(entry.Bytes, r)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Could not read stored response")
		return nil, false
	}
	return res, true
}
