// Package rfc7234 implements the caching rules of RFC 7234 (HTTP/1.1
// Caching) as a pure decision engine. Given one request and the origin
// response it produced, a Policy answers whether the response may be
// stored, for how long it remains fresh, whether it satisfies a later
// request without contacting the origin, which header fields it should
// be served with, and how it is revalidated once stale.
//
// The package never performs I/O and never touches response bodies.
// Storing bytes, picking between variants and talking to the origin
// belong to the caller.
package rfc7234

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrMissingHeaders is returned when a request or response is nil or
	// carries no header map at all. An empty header map is acceptable.
	ErrMissingHeaders = errors.New("headers missing")
	// ErrInvalidSerialization is returned when restoring a policy from a
	// record of an unknown version or shape.
	ErrInvalidSerialization = errors.New("invalid serialization")
	// ErrReinitialized is returned when restoring into a policy that has
	// already been initialized.
	ErrReinitialized = errors.New("cannot reinitialize policy")
)

// Options configures policy evaluation. The zero value selects the
// defaults: a shared cache, a heuristic fraction of 10% and a 24 hour
// freshness floor for immutable responses.
type Options struct {
	// PrivateCache evaluates the response for a single-user cache
	// instead of a shared one.
	PrivateCache bool
	// CacheHeuristic is the fraction of the interval since Last-Modified
	// to use as freshness lifetime when the response has no explicit
	// expiration. Zero means the default of 0.1.
	CacheHeuristic float64
	// ImmutableMinTTL is the minimum freshness lifetime granted to
	// responses carrying the immutable directive. Zero means the default
	// of 24 hours.
	ImmutableMinTTL time.Duration
	// IgnoreCargoCult drops no-cache, no-store and must-revalidate from
	// responses that also carry the legacy pre-check and post-check
	// directives, on the assumption that such header fields were pasted
	// from old tutorials rather than written on purpose.
	IgnoreCargoCult bool
	// Clock overrides the wall clock. Nil means time.Now.
	Clock func() time.Time
}

const (
	defaultCacheHeuristic  = 0.1
	defaultImmutableMinTTL = 24 * time.Hour
)

// Policy captures the cacheability of a single response to a single
// request. It is immutable after construction and safe for concurrent
// use; every query allocates its own result.
type Policy struct {
	responseTime    time.Time
	shared          bool
	cacheHeuristic  float64
	immutableMinTTL time.Duration
	status          int
	resHeaders      map[string]string
	resCC           CacheControl
	method          string
	url             string
	host            string
	noAuthorization bool
	// reqHeaders is only retained when the response names request header
	// fields via Vary. See §4.1.
	reqHeaders map[string]string
	reqCC      CacheControl
	clock      func() time.Time
}

// NewPolicy evaluates an origin response in the context of the request
// that produced it. Both must carry a header map (it may be empty);
// otherwise ErrMissingHeaders is returned. A nil opts selects the
// default Options.
//
// The inputs are never modified, and the policy keeps no reference to
// them.
func NewPolicy(req *http.Request, res *http.Response, opts *Options) (*Policy, error) {
	if req == nil || req.Header == nil || res == nil || res.Header == nil {
		return nil, ErrMissingHeaders
	}
	if opts == nil {
		opts = &Options{}
	}
	p := &Policy{
		shared:          !opts.PrivateCache,
		cacheHeuristic:  opts.CacheHeuristic,
		immutableMinTTL: opts.ImmutableMinTTL,
		status:          res.StatusCode,
		resHeaders:      lowerKeyed(res.Header),
		method:          req.Method,
		host:            requestHost(req),
		noAuthorization: req.Header.Get("Authorization") == "",
		reqCC:           ParseCacheControl(req.Header.Get("Cache-Control")),
		clock:           opts.Clock,
	}
	if p.cacheHeuristic == 0 {
		p.cacheHeuristic = defaultCacheHeuristic
	}
	if p.immutableMinTTL == 0 {
		p.immutableMinTTL = defaultImmutableMinTTL
	}
	if p.status == 0 {
		p.status = http.StatusOK
	}
	if p.method == "" {
		p.method = http.MethodGet
	}
	if req.URL != nil {
		p.url = req.URL.RequestURI()
	}
	if p.resHeaders["vary"] != "" {
		p.reqHeaders = lowerKeyed(req.Header)
	}
	p.resCC = ParseCacheControl(p.resHeaders["cache-control"])
	p.responseTime = p.now()

	if opts.IgnoreCargoCult && p.resCC.HasDirective("pre-check") && p.resCC.HasDirective("post-check") {
		p.dropCargoCultedDirectives()
	}

	// §  5.4.  Pragma
	// §
	// §     When the Cache-Control header field is not present in a request,
	// §     caches MUST consider the no-cache request pragma-directive as
	// §     having the same effect as if "Cache-Control: no-cache" were
	// §     present.
	//
	// Servers of a certain age send the same thing in responses, so honor
	// it there as well.
	if _, ok := p.resHeaders["cache-control"]; !ok {
		if strings.Contains(p.resHeaders["pragma"], "no-cache") {
			p.resCC["no-cache"] = DirectiveValue{Flag: true}
		}
	}

	return p, nil
}

// dropCargoCultedDirectives removes the restrictive response directives
// from responses that carry the nonstandard pre-check and post-check
// pair, and rewrites the stored Cache-Control, Expires and Pragma
// fields to match.
func (p *Policy) dropCargoCultedDirectives() {
	delete(p.resCC, "pre-check")
	delete(p.resCC, "post-check")
	delete(p.resCC, "no-cache")
	delete(p.resCC, "no-store")
	delete(p.resCC, "must-revalidate")
	if value := p.resCC.String(); value != "" {
		p.resHeaders["cache-control"] = value
	} else {
		delete(p.resHeaders, "cache-control")
	}
	delete(p.resHeaders, "expires")
	delete(p.resHeaders, "pragma")
}

// SetClock returns a policy reading time from the given clock. Policies
// restored from a serialized record read time.Now unless one is set.
func (p *Policy) SetClock(clock func() time.Time) *Policy {
	clone := *p
	clone.clock = clock
	return &clone
}

func (p *Policy) now() time.Time {
	if p.clock != nil {
		return p.clock()
	}
	return time.Now()
}

func requestHost(req *http.Request) string {
	if req.Host != "" {
		return req.Host
	}
	return req.Header.Get("Host")
}
