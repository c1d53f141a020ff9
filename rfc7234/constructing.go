package rfc7234

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// SatisfiesWithoutRevalidation reports whether the stored response may
// be served for the given request without contacting the origin. False
// means the caller should forward the request, typically with the
// header fields from RevalidationHeaders.
//
// §  4.  Constructing Responses from Caches
// §
// §     When presented with a request, a cache MUST NOT reuse a stored
// §     response, unless: ...
func (p *Policy) SatisfiesWithoutRevalidation(req *http.Request) (bool, error) {
	if req == nil || req.Header == nil {
		return false, ErrMissingHeaders
	}
	requestCC := ParseCacheControl(req.Header.Get("Cache-Control"))
	// §  ...  the presented request does not contain the no-cache pragma
	// §  (Section 5.4), nor the no-cache cache directive (Section 5.2.1),
	// §  unless the stored response is successfully validated ...
	if requestCC.HasDirective("no-cache") || strings.Contains(req.Header.Get("Pragma"), "no-cache") {
		return false, nil
	}
	// §  5.2.1.1.  max-age ...  indicates that the client is unwilling to
	// §  accept a response whose age is greater than the specified number
	// §  of seconds.
	if maxAge, ok := requestCC.MaxAge(); ok && p.Age() > maxAge {
		return false, nil
	}
	// §  5.2.1.3.  min-fresh ...  indicates that the client is willing to
	// §  accept a response whose freshness lifetime is no less than its
	// §  current age plus the specified time in seconds.
	if minFresh, ok := requestCC.getDeltaSeconds("min-fresh"); ok && p.TimeToLive() < minFresh {
		return false, nil
	}
	// §  ...  the stored response is either:  fresh (see Section 4.2), or
	// §  allowed to be served stale (see Section 4.2.4), or successfully
	// §  validated (see Section 4.3).
	if p.Stale() && !p.allowsStale(requestCC) {
		return false, nil
	}
	return p.requestMatches(req, false), nil
}

// §  5.2.1.2.  max-stale
// §
// §     The "max-stale" request directive indicates that the client is
// §     willing to accept a response that has exceeded its freshness
// §     lifetime.  If max-stale is assigned a value, then the client is
// §     willing to accept a response that has exceeded its freshness
// §     lifetime by no more than the specified number of seconds.  If no
// §     value is assigned to max-stale, then the client is willing to
// §     accept a stale response of any age.
func (p *Policy) allowsStale(requestCC CacheControl) bool {
	if !requestCC.HasDirective("max-stale") || p.resCC.HasDirective("must-revalidate") {
		return false
	}
	if requestCC.HasFlag("max-stale") {
		return true
	}
	maxStale, ok := requestCC.getDeltaSeconds("max-stale")
	return ok && maxStale > p.Age()-p.MaxAge()
}

// requestMatches checks the identity part of response reuse: URL, host
// and method, plus the Vary-selected header fields.
func (p *Policy) requestMatches(req *http.Request, allowHeadMethod bool) bool {
	// §  ...  the presented effective request URI (Section 5.5 of
	// §  [RFC7230]) and that of the stored response match, and ...
	if p.url != "" {
		var url string
		if req.URL != nil {
			url = req.URL.RequestURI()
		}
		if p.url != url {
			return false
		}
	}
	if p.host != requestHost(req) {
		return false
	}
	// §  ...  the request method associated with the stored response
	// §  allows it to be used for the presented request, and ...
	//
	// A HEAD request may stand in for a stored GET when validating.
	if req.Method != "" && p.method != req.Method {
		if !allowHeadMethod || req.Method != http.MethodHead {
			return false
		}
	}
	return p.varyMatches(req)
}

// §  4.1.  Calculating Secondary Keys with Vary
// §
// §     When a cache receives a request that can be satisfied by a stored
// §     response that has a Vary header field (Section 7.1.4 of
// §     [RFC7231]), it MUST NOT use that response unless all of the
// §     selecting header fields nominated by the Vary header field match
// §     in both the original request (i.e., that associated with the
// §     stored response) and the presented request.
func (p *Policy) varyMatches(req *http.Request) bool {
	vary, ok := p.resHeaders["vary"]
	if !ok || vary == "" {
		return true
	}
	// §     A Vary header field-value of "*" always fails to match.
	if vary == "*" {
		return false
	}
	for _, field := range splitList(strings.ToLower(vary)) {
		if strings.Join(req.Header.Values(field), ", ") != p.reqHeaders[field] {
			log.Trace().Msgf("Vary field %s does not match", field)
			return false
		}
	}
	return true
}

// ResponseHeaders returns the header fields the stored response should
// be served with: hop-by-hop fields removed, 1xx warnings dropped, and
// Age and Date refreshed.
func (p *Policy) ResponseHeaders() http.Header {
	fields := withoutHopByHopFields(p.resHeaders)
	age := p.Age()
	// §  5.5.4.  Warning: 113 - "Heuristic Expiration"
	// §
	// §     A cache SHOULD generate this if it heuristically chose a
	// §     freshness lifetime greater than 24 hours and the response's
	// §     age is greater than 24 hours.
	if age > 24*time.Hour && !p.hasExplicitExpiration() && p.MaxAge() > 24*time.Hour {
		warning := `113 - "Heuristic Expiration"`
		if existing, ok := fields["warning"]; ok {
			warning = existing + ", " + warning
		}
		fields["warning"] = warning
	}
	fields["age"] = toDeltaSeconds(age)
	fields["date"] = p.now().UTC().Format(http.TimeFormat)
	return toHeader(fields)
}
