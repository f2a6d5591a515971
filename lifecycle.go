package offlinecache

import (
	"context"
	"net/http"
	"time"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"

	"golang.org/x/sync/errgroup"
)

// populateConcurrency bounds the number of manifest entries fetched at once.
const populateConcurrency = 8

// OnInstall populates the store named by version with every entry of the manifest.
// Every entry is fetched through the network and must respond with a 2xx status.
// Population is all or nothing: if any entry fails, a *CachePopulationError is
// returned and the store is left untouched. Other versions are never modified.
// Duplicate manifest entries are stored once.
func OnInstall(ctx context.Context, store cache.CacheProvider, network http.RoundTripper, manifest []string, version string) error {
	if err := cache.CheckVersion(version); err != nil {
		return &CachePopulationError{Version: version, Err: err}
	}

	keys := make([]string, 0, len(manifest))
	urls := make([]string, 0, len(manifest))
	seen := make(map[string]struct{}, len(manifest))
	for _, u := range manifest {
		key, err := cachekey.GetKeyForPath(u)
		if err != nil {
			return &CachePopulationError{Version: version, URL: u, Err: err}
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
		urls = append(urls, u)
	}

	entries := make([]cache.CacheEntry, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(populateConcurrency)
	for i := range keys {
		i := i
		g.Go(func() error {
			entry, err := fetchEntry(gctx, network, keys[i])
			if err != nil {
				err.Version = version
				err.URL = urls[i]
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := store.Replace(version, entries); err != nil {
		return &CachePopulationError{Version: version, Err: err}
	}
	return nil
}

func fetchEntry(ctx context.Context, network http.RoundTripper, key string) (cache.CacheEntry, *CachePopulationError) {
	req, err := cachekey.GetRequestFromKey(key)
	if err != nil {
		return cache.CacheEntry{}, &CachePopulationError{Err: err}
	}
	req = req.WithContext(ctx)
	res, err := network.RoundTrip(req)
	if err != nil {
		return cache.CacheEntry{}, &CachePopulationError{Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return cache.CacheEntry{}, &CachePopulationError{StatusCode: res.StatusCode}
	}
	b, err := serializer.ResponseToBytes(res)
	if err != nil {
		return cache.CacheEntry{}, &CachePopulationError{Err: err}
	}
	return cache.CacheEntry{Key: key, StoredAt: time.Now(), Bytes: b}, nil
}

// Retire deletes every store whose name differs from current and returns the
// deleted names. Running it again once nothing is left to delete is a no-op.
func Retire(store cache.CacheProvider, current string) ([]string, error) {
	versions, err := store.Versions()
	if err != nil {
		return nil, err
	}
	deleted := make([]string, 0)
	for _, v := range versions {
		if v == current {
			continue
		}
		if err := store.Delete(v); err != nil {
			return deleted, err
		}
		deleted = append(deleted, v)
	}
	return deleted, nil
}
