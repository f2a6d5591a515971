package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrorMalformedKey = fmt.Errorf("Malformed key")

const methodSeparator = ":"

var root = &url.URL{Path: "/"}

// GetKey returns the request identity used to match requests against stored entries.
// It consists of the method and the normalized request URI only; headers never
// take part in matching.
func GetKey(r *http.Request) string {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	return method + methodSeparator + NormalizeURI(r.URL)
}

// GetKeyForPath returns the key of a GET request for the given manifest entry.
// Absolute URLs are reduced to their request URI, relative ones
// (e.g. "static/app.css") are resolved against "/".
func GetKeyForPath(path string) (string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	if !u.IsAbs() && u.Host == "" {
		u = root.ResolveReference(u)
	}
	return http.MethodGet + methodSeparator + NormalizeURI(u), nil
}

// NormalizeURI returns the path and query of the URL.
// The fragment is dropped and an empty path becomes "/".
func NormalizeURI(u *url.URL) string {
	if u == nil {
		return "/"
	}
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	uri := c.RequestURI()
	if uri == "" || strings.HasPrefix(uri, "?") {
		uri = "/" + uri
	}
	return uri
}

// GetRequestFromKey generates a request that is equal to the request that
// resulted in the provided key.
func GetRequestFromKey(key string) (*http.Request, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found || method == "" || !strings.HasPrefix(uri, "/") {
		return nil, fmt.Errorf("%w: %s", ErrorMalformedKey, key)
	}
	return http.NewRequest(method, uri, nil)
}
