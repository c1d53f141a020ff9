package cachesemantics

import (
	"fmt"
	"time"
)

// cacheName identifies this cache in the Cache-Status header, as
// described in RFC 9211.
const cacheName = "Cache-Semantics"

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

	// The cache contained a response that matched the request
	// URI, but it could not select a response based upon this request's
	// header fields and stored Vary header fields.
	FwdReasonVaryMiss FwdReason = "vary-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request (to be used when an implementation cannot
	// distinguish between uri-miss and vary-miss).
	FwdReasonMiss FwdReason = "miss"

	// The cache was able to select a fresh response for the
	// request, but the request's semantics (e.g., Cache-Control request
	// directives) did not allow its use.
	FwdReasonRequest FwdReason = "request"

	// The cache was able to select a response for the request, but
	// it was stale.
	FwdReasonStale FwdReason = "stale"

	// The cache was able to select a partial response for the
	// request, but it did not contain all of the requested ranges (or
	// the request was for the complete response).
	FwdReasonPartial FwdReason = "partial"
)

// CacheStatus collects what happened to one request, for the
// Cache-Status response header and for logging.
type CacheStatus struct {
	Status Status
	// FwdReason is the reason the request was forwarded, if it was.
	FwdReason FwdReason
	// FwdStatus is the status code received for the forwarded request.
	FwdStatus int
	// TimeToLive is the served response's remaining freshness in
	// seconds.
	TimeToLive int
	// Stored indicates the forwarded response was stored.
	Stored bool
	detail string
}

// Hit marks the request as served from cache with the given remaining
// freshness.
func (cs *CacheStatus) Hit(ttl time.Duration) {
	cs.Status = StatusHit
	cs.TimeToLive = int(ttl.Seconds())
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

func (cs CacheStatus) String() string {
	status := fmt.Sprintf("%s; %s", cacheName, cs.Status)
	if cs.Status == StatusFwd && cs.FwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.FwdReason)
		if cs.FwdStatus != 0 {
			status = fmt.Sprintf("%s; fwd-status=%d", status, cs.FwdStatus)
		}
		if cs.Stored {
			status = status + "; stored"
		}
	}
	if cs.Status == StatusHit {
		status = fmt.Sprintf("%s; ttl=%d", status, cs.TimeToLive)
	}
	if cs.detail != "" {
		status = status + "; detail=" + cs.detail
	}
	return status
}
