package rfc7234

import (
	"net/http"
	"strings"
)

// §  4.3.  Validation
// §
// §     When a cache has one or more stored responses for a requested URI,
// §     but cannot serve any of them (e.g., because they are not fresh, or
// §     one cannot be selected; see Section 4.1), it can use the
// §     conditional request mechanism [RFC7232] in the forwarded request
// §     to give the next inbound server an opportunity to select a valid
// §     stored response to use, updating the stored metadata in the
// §     process, or to replace the stored response(s) with a new response.

// RevalidationHeaders returns the header fields for the request that
// refreshes the stored response at the origin. When the stored
// response can be validated, they carry the stored validators in
// If-None-Match and If-Modified-Since; otherwise any conditional
// fields are stripped so the origin replies with the full resource.
func (p *Policy) RevalidationHeaders(req *http.Request) (http.Header, error) {
	if req == nil || req.Header == nil {
		return nil, ErrMissingHeaders
	}
	fields := withoutHopByHopFields(lowerKeyed(req.Header))
	// The 304 handling below reuses the stored body as-is, so a range
	// sneaking in through If-Range would corrupt it.
	delete(fields, "if-range")

	if !p.requestMatches(req, true) || !p.Storable() {
		delete(fields, "if-none-match")
		delete(fields, "if-modified-since")
		return toHeader(fields), nil
	}

	// §  4.3.1.  Sending a Validation Request
	// §
	// §     One such validator is the timestamp given in a Last-Modified
	// §     header field (Section 2.2 of [RFC7232]), which can be used in
	// §     an If-Modified-Since header field for response validation, or
	// §     in an If-Unmodified-Since or If-Range header field for
	// §     representation selection (i.e., the client is referring
	// §     specifically to a previously obtained representation with that
	// §     timestamp).
	// §
	// §     Another validator is the entity-tag given in an ETag header
	// §     field (Section 2.3 of [RFC7232]).
	if etag := p.resHeaders["etag"]; etag != "" {
		if inm, ok := fields["if-none-match"]; ok {
			fields["if-none-match"] = inm + ", " + etag
		} else {
			fields["if-none-match"] = etag
		}
	}

	// Clients with Accept-Ranges, If-Match or If-Unmodified-Since expect
	// exact byte equality, which weak validators cannot promise. Neither
	// can they for methods other than GET.
	forbidsWeakValidators := fields["accept-ranges"] != "" ||
		fields["if-match"] != "" ||
		fields["if-unmodified-since"] != "" ||
		p.method != http.MethodGet

	if forbidsWeakValidators {
		delete(fields, "if-modified-since")
		if inm, ok := fields["if-none-match"]; ok {
			if strong := withoutWeakValidators(inm); strong != "" {
				fields["if-none-match"] = strong
			} else {
				delete(fields, "if-none-match")
			}
		}
	} else if lastModified := p.resHeaders["last-modified"]; lastModified != "" {
		if _, ok := fields["if-modified-since"]; !ok {
			fields["if-modified-since"] = lastModified
		}
	}
	return toHeader(fields), nil
}

// Revalidation is the outcome of revalidating a stored response
// against the origin's answer.
type Revalidation struct {
	// Policy is the policy to store from now on. On a matching 304 it
	// carries the stored headers refreshed from the validation response;
	// otherwise it evaluates the new response on its own.
	Policy *Policy
	// Modified reports whether the response body changed, i.e. whether
	// the caller must replace the stored body with the new one.
	Modified bool
	// Matches reports whether the origin's answer was a 304 that
	// corresponds to the stored response.
	Matches bool
}

// §  4.3.4.  Freshening Stored Responses upon Validation
// §
// §     When a cache receives a 304 (Not Modified) response and already
// §     has one or more stored 200 (OK) responses for the same cache key,
// §     the cache needs to identify which of the stored responses are
// §     updated by this new response and then update the stored
// §     response(s) with the new information provided in the 304 response.
// §
// §     *  If the new response contains a strong validator (see Section
// §        2.1 of [RFC7232]), then that strong validator identifies the
// §        selected representation for update. ...
// §     *  If the new response contains a weak validator and that
// §        validator corresponds to one of the cache's stored responses,
// §        then the most recent of those matching stored responses is
// §        selected for update.
// §     *  If the new response does not include any form of validator ...
// §        and there is only one stored response, and that stored response
// §        also lacks a validator, then that stored response is selected
// §        for update.
func (p *Policy) RevalidatedPolicy(req *http.Request, res *http.Response) (*Revalidation, error) {
	if req == nil || req.Header == nil {
		return nil, ErrMissingHeaders
	}
	if res == nil || res.Header == nil {
		return nil, ErrMissingHeaders
	}
	newHeaders := lowerKeyed(res.Header)
	storedETag := p.resHeaders["etag"]
	storedLastModified := p.resHeaders["last-modified"]
	newETag := newHeaders["etag"]
	newLastModified := newHeaders["last-modified"]

	matches := false
	switch {
	case res.StatusCode != 0 && res.StatusCode != http.StatusNotModified:
		matches = false
	case newETag != "" && !isWeakValidator(newETag):
		matches = storedETag != "" && withoutWeakPrefix(storedETag) == newETag
	case storedETag != "" && newETag != "":
		matches = withoutWeakPrefix(storedETag) == withoutWeakPrefix(newETag)
	case storedLastModified != "":
		matches = storedLastModified == newLastModified
	default:
		matches = storedETag == "" && newETag == "" &&
			storedLastModified == "" && newLastModified == ""
	}

	if !matches {
		newPolicy, err := NewPolicy(req, res, &Options{Clock: p.clock})
		if err != nil {
			return nil, err
		}
		return &Revalidation{
			Policy:   newPolicy,
			Modified: res.StatusCode != http.StatusNotModified,
			Matches:  false,
		}, nil
	}

	// §  ...  the cache MUST ...  use other header fields provided in the
	// §  304 (Not Modified) response to replace all instances of the
	// §  corresponding header fields in the stored response.
	//
	// The stored body is reused, so fields describing the body keep
	// their stored values.
	merged := make(map[string]string, len(p.resHeaders))
	for name, value := range p.resHeaders {
		if newValue, ok := newHeaders[name]; ok && !excludedFromRevalidationUpdate[name] {
			merged[name] = newValue
		} else {
			merged[name] = value
		}
	}
	opts := &Options{
		PrivateCache:    !p.shared,
		CacheHeuristic:  p.cacheHeuristic,
		ImmutableMinTTL: p.immutableMinTTL,
		Clock:           p.clock,
	}
	newPolicy, err := NewPolicy(req, &http.Response{
		StatusCode: p.status,
		Header:     toHeader(merged),
	}, opts)
	if err != nil {
		return nil, err
	}
	return &Revalidation{Policy: newPolicy, Modified: false, Matches: true}, nil
}

var excludedFromRevalidationUpdate = map[string]bool{
	"content-length":    true,
	"content-encoding":  true,
	"transfer-encoding": true,
	"content-range":     true,
}

// §  (RFC 7232, 2.3.  ETag)
// §
// §       entity-tag = [ weak ] opaque-tag
// §       weak       = %x57.2F ; "W/", case-sensitive
func isWeakValidator(etag string) bool {
	return strings.HasPrefix(strings.TrimLeft(etag, " \t"), "W/")
}

func withoutWeakPrefix(etag string) string {
	if trimmed := strings.TrimLeft(etag, " \t"); strings.HasPrefix(trimmed, "W/") {
		return strings.TrimPrefix(trimmed, "W/")
	}
	return etag
}

// withoutWeakValidators drops W/-prefixed entity-tags from an
// If-None-Match list, keeping the rest in their original spelling.
func withoutWeakValidators(value string) string {
	kept := make([]string, 0)
	for _, etag := range strings.Split(value, ",") {
		if isWeakValidator(etag) {
			continue
		}
		kept = append(kept, etag)
	}
	return strings.TrimSpace(strings.Join(kept, ","))
}
