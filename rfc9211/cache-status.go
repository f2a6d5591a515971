// Package rfc9211 implements the parts of the Cache-Status HTTP response
// header field (RFC 9211) that the offline cache reports.
package rfc9211

import "fmt"

const HeaderName = "Cache-Status"

// CacheName is the cache identifier written as the first list member.
const CacheName = "Offline-Cache"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"
)

type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	// Key is the cache key the request was looked up with, if any.
	Key    string
	Detail string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

// String returns the header field value, e.g. `Offline-Cache; fwd=uri-miss; key="GET:/"`.
func (cs CacheStatus) String() string {
	status := CacheName
	switch cs.Status {
	case StatusHit:
		status += "; hit"
	case StatusFwd:
		reason := cs.FwdReason
		if reason == "" {
			reason = FwdReasonMiss
		}
		status = fmt.Sprintf("%s; fwd=%s", status, reason)
	}
	if cs.Key != "" {
		status = fmt.Sprintf("%s; key=%q", status, cs.Key)
	}
	if cs.Detail != "" {
		status = fmt.Sprintf("%s; detail=%q", status, cs.Detail)
	}
	return status
}
