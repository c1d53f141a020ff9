package rfc7234

import "net/http"

// understoodStatuses are the status codes this cache understands, as
// required for storage. Notably absent is 206: combining partial
// content is not implemented, so range responses are never stored.
var understoodStatuses = map[int]bool{
	200: true, 203: true, 204: true,
	300: true, 301: true, 302: true, 303: true, 307: true, 308: true,
	404: true, 405: true, 410: true, 414: true,
	501: true,
}

// §  (RFC 7231, 6.1.  Overview of Status Codes)
// §
// §     Responses with status codes that are defined as cacheable by
// §     default (e.g., 200, 203, 204, 206, 300, 301, 404, 405, 410, 414,
// §     and 501 in this specification) can be reused by a cache with
// §     heuristic expiration unless otherwise indicated by the method
// §     definition or explicit cache controls.
var defaultCacheableStatuses = map[int]bool{
	200: true, 203: true, 204: true,
	300: true, 301: true,
	404: true, 405: true, 410: true, 414: true,
	501: true,
}

// Storable returns whether the response is allowed to be stored in
// this cache at all. A storable response is not necessarily fresh; it
// may require validation on every reuse.
//
// §  3.  Storing Responses in Caches
// §
// §     A cache MUST NOT store a response to any request, unless:
func (p *Policy) Storable() bool {
	// §  ...  the "no-store" cache directive (see Section 5.2) does not
	// §  appear in request or response header fields, and ...
	if p.reqCC.HasDirective("no-store") {
		return false
	}
	// §  ...  the request method is understood by the cache and defined
	// §  as being cacheable, and ...
	//
	// POST is only considered cacheable here when the response makes its
	// freshness explicit.
	switch p.method {
	case http.MethodGet, http.MethodHead:
	case http.MethodPost:
		if !p.hasExplicitExpiration() {
			return false
		}
	default:
		return false
	}
	// §  ...  the response status code is understood by the cache, and ...
	if !understoodStatuses[p.status] {
		return false
	}
	if p.resCC.HasDirective("no-store") {
		return false
	}
	// §  ...  the "private" response directive (see Section 5.2.2.6) does
	// §  not appear in the response, if the cache is shared, and ...
	if p.shared && p.resCC.HasDirective("private") {
		return false
	}
	// §  ...  the Authorization header field (see Section 4.2 of
	// §  [RFC7235]) does not appear in the request, if the cache is
	// §  shared, unless the response explicitly allows it (see Section
	// §  3.2), and ...
	if p.shared && !p.noAuthorization && !p.allowsStoringAuthenticated() {
		return false
	}
	// §  ...  the response either:  contains an Expires header field, or
	// §  contains a max-age response directive, or contains a s-maxage
	// §  response directive and the cache is shared, or contains a public
	// §  response directive, or has a status code that is defined as
	// §  cacheable by default.
	if _, ok := p.resHeaders["expires"]; ok {
		return true
	}
	if p.resCC.HasDirective("max-age") {
		return true
	}
	if p.shared && p.resCC.HasDirective("s-maxage") {
		return true
	}
	if p.resCC.HasDirective("public") {
		return true
	}
	return defaultCacheableStatuses[p.status]
}

// hasExplicitExpiration reports whether the response states its own
// freshness lifetime instead of relying on heuristics.
func (p *Policy) hasExplicitExpiration() bool {
	if p.shared && p.resCC.HasDirective("s-maxage") {
		return true
	}
	if p.resCC.HasDirective("max-age") {
		return true
	}
	_, ok := p.resHeaders["expires"]
	return ok
}

// §  3.2.  Storing Responses to Authenticated Requests
// §
// §     A shared cache MUST NOT use a cached response to a request with an
// §     Authorization header field (Section 4.2 of [RFC7235]) to satisfy
// §     any subsequent request unless a cache directive that allows such
// §     responses to be stored is present in the response.
// §
// §     In this specification, the following Cache-Control response
// §     directives (Section 5.2.2) have such an effect: must-revalidate,
// §     public, s-maxage.
func (p *Policy) allowsStoringAuthenticated() bool {
	return p.resCC.HasDirective("must-revalidate") ||
		p.resCC.HasDirective("public") ||
		p.resCC.HasDirective("s-maxage")
}
