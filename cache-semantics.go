// Package cachesemantics is a caching middleware for HTTP handlers. It
// stores responses and reuses them according to their caching headers,
// following the freshness and validation rules of RFC 7234. Reuse
// decisions are delegated to the rfc7234 package; this package owns
// storage, variant selection, conditional requests to the origin and
// cache invalidation.
package cachesemantics

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/cache-semantics/cache"
	cachekey "github.com/always-cache/cache-semantics/pkg/cache-key"
	transformer "github.com/always-cache/cache-semantics/pkg/response-transformer"
	tee "github.com/always-cache/cache-semantics/pkg/response-writer-tee"
	storedresponse "github.com/always-cache/cache-semantics/pkg/stored-response"
	"github.com/always-cache/cache-semantics/rfc7234"
)

type Config struct {
	// Storage for cache entries. A memory cache is used if nil.
	Cache cache.Provider
	// Rules for rewriting origin response headers before caching.
	Rules transformer.Rules
	// Methods to cache in addition to GET and HEAD, e.g. POST.
	// Responses to these methods are only stored when they carry
	// explicit freshness information.
	Methods []string
	// Evaluate responses for a private (single-user) cache instead of
	// a shared one.
	PrivateCache bool
	// Fraction of the interval since Last-Modified to use as freshness
	// lifetime for responses without explicit expiration.
	// The default is 0.1.
	CacheHeuristic float64
	// Minimum freshness lifetime for responses marked immutable.
	// The default is 24 hours.
	ImmutableMinTTL time.Duration
	// Ignore no-cache, no-store and must-revalidate on responses that
	// carry the legacy pre-check and post-check directives.
	IgnoreCargoCult bool
	// Cache-Control to assume for successful responses without one.
	DefaultCacheControl string
	// Identifier for the origin, used as the cache key namespace.
	// Set it when several origins share one storage backend.
	OriginID string
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

type Cache struct {
	provider   cache.Provider
	keyer      cachekey.Keyer
	rules      transformer.Rules
	methods    map[string]bool
	policyOpts rfc7234.Options
	defaultCC  string
	log        zerolog.Logger
}

// New initializes a caching middleware instance.
func New(config Config) *Cache {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	if config.OriginID != "" {
		logger = logger.With().Str("origin", config.OriginID).Logger()
	}

	provider := config.Cache
	if provider == nil {
		provider = cache.NewMemCache()
	}

	methods := map[string]bool{
		http.MethodGet:  true,
		http.MethodHead: true,
	}
	for _, method := range config.Methods {
		methods[strings.ToUpper(method)] = true
	}

	return &Cache{
		provider: provider,
		keyer:    cachekey.NewKeyer(config.OriginID),
		rules:    config.Rules,
		methods:  methods,
		policyOpts: rfc7234.Options{
			PrivateCache:    config.PrivateCache,
			CacheHeuristic:  config.CacheHeuristic,
			ImmutableMinTTL: config.ImmutableMinTTL,
			IgnoreCargoCult: config.IgnoreCargoCult,
		},
		defaultCC: config.DefaultCacheControl,
		log:       logger,
	}
}

// Middleware wraps next with caching. Responses coming from next are
// stored and reused according to their caching headers; requests that
// cannot be answered from storage are passed on, as conditional
// requests whenever the stored response can be revalidated.
func (c *Cache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.serve(w, r, next)
	})
}

// storedEntry is a stored variant whose key matches the presented
// request's variant selection.
type storedEntry struct {
	key string
	res storedresponse.Stored
}

func (c *Cache) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if !c.methods[r.Method] {
		c.passThrough(w, r, next, FwdReasonMethod)
		return
	}
	// §  (RFC 7234, 3.2.)  A shared cache MUST NOT use a cached response
	// §  to a request with an Authorization header field
	if !c.policyOpts.PrivateCache && r.Header.Get("Authorization") != "" {
		c.passThrough(w, r, next, FwdReasonBypass)
		return
	}

	prefix := c.keyer.Prefix(r)
	entries, err := c.provider.All(prefix)
	if err != nil {
		c.log.Error().Err(err).Str("key", prefix).Msg("Could not read from cache")
		CacheErrors.WithLabelValues("read").Inc()
	}
	c.log.Trace().Str("key", prefix).Msgf("Found %v cache entries", len(entries))

	var match *storedEntry
	for _, e := range entries {
		stored, err := storedresponse.BytesToStoredResponse(e.Bytes)
		if err != nil {
			// corrupted entries are dropped and fetched anew
			c.log.Error().Err(err).Str("key", e.Key).Msg("Could not decode stored response")
			c.provider.Purge(e.Key)
			continue
		}
		ok, err := stored.Policy.SatisfiesWithoutRevalidation(r)
		if err != nil {
			c.log.Error().Err(err).Msg("Could not determine reusability")
			continue
		}
		if ok {
			cs := CacheStatus{}
			cs.Hit(stored.Policy.TimeToLive())
			CacheHits.Inc()
			c.sendStored(w, r, stored, cs)
			return
		}
		if c.keyer.AddVaryKeys(prefix, r, stored.Policy.ResponseHeaders()) == e.Key {
			match = &storedEntry{key: e.Key, res: stored}
		}
	}

	if match != nil {
		c.revalidate(w, r, next, prefix, *match)
		return
	}

	reason := FwdReasonUriMiss
	if len(entries) > 0 {
		reason = FwdReasonVaryMiss
	}
	CacheForwards.WithLabelValues(string(reason)).Inc()
	c.fetchAndStore(w, r, next, prefix, reason)
}

// passThrough forwards the request untouched. Responses to unsafe
// methods invalidate the stored responses for the affected URIs.
func (c *Cache) passThrough(w http.ResponseWriter, r *http.Request, next http.Handler, reason FwdReason) {
	cs := CacheStatus{}
	cs.Forward(reason)
	CacheForwards.WithLabelValues(string(reason)).Inc()
	// set cache-status on the underlying rw only (i.e. do not store it)
	w.Header().Add("Cache-Status", cs.String())

	rw := tee.NewResponseSaver(w)
	next.ServeHTTP(rw, r)

	cs.FwdStatus = rw.StatusCode()
	c.logRequest(r, cs)

	// §  4.4.  Invalidation
	// §
	// §     A cache MUST invalidate the effective request URI ...  as well
	// §     as the URI(s) in the Location and Content-Location response
	// §     header fields (if present) when a non-error status code is
	// §     received in response to an unsafe request method.
	if !safeMethods[r.Method] && rw.StatusCode() < 400 {
		c.invalidate(r, rw.Header(), http.MethodGet, http.MethodHead, http.MethodPost)
	}
}

// revalidate forwards the request as a conditional request carrying
// the stored response's validators. On a matching 304 the stored entry
// is refreshed and served; any other answer replaces it.
func (c *Cache) revalidate(w http.ResponseWriter, r *http.Request, next http.Handler, prefix string, entry storedEntry) {
	reason := FwdReasonStale
	if !entry.res.Policy.Stale() {
		// the entry would have been fresh, the request forbade its use
		reason = FwdReasonRequest
	}
	CacheForwards.WithLabelValues(string(reason)).Inc()

	headers, err := entry.res.Policy.RevalidationHeaders(r)
	if err != nil {
		c.log.Error().Err(err).Msg("Could not build revalidation headers")
		c.fetchAndStore(w, r, next, prefix, reason)
		return
	}
	validationReq := r.Clone(r.Context())
	validationReq.Header = headers

	rw := tee.NewResponseSaver(nil)
	next.ServeHTTP(rw, validationReq)
	c.log.Trace().Dur("upstream", time.Since(rw.CreatedAt)).Msg("Conditional request answered")

	res := &http.Response{StatusCode: rw.StatusCode(), Header: rw.Header(), Request: r}
	if res.StatusCode != http.StatusNotModified {
		c.transform(res)
	}

	reval, err := entry.res.Policy.RevalidatedPolicy(validationReq, res)
	if err != nil {
		c.log.Error().Err(err).Msg("Could not revalidate stored response")
		cs := CacheStatus{}
		cs.Forward(reason)
		cs.FwdStatus = rw.StatusCode()
		c.sendSaved(w, r, rw, cs)
		return
	}

	cs := CacheStatus{}
	cs.Forward(reason)
	cs.FwdStatus = rw.StatusCode()

	switch {
	case rw.StatusCode() == http.StatusNotModified && reval.Matches:
		// stored response is still current, refresh the entry
		Revalidations.WithLabelValues("not_modified").Inc()
		refreshed := storedresponse.Stored{
			Policy: reval.Policy,
			Status: entry.res.Status,
			Body:   entry.res.Body,
		}
		if key, ok := c.store(r, prefix, refreshed); ok {
			cs.Stored = true
			if key != entry.key {
				c.provider.Purge(entry.key)
			}
		}
		c.sendStored(w, r, refreshed, cs)

	case rw.StatusCode() == http.StatusNotModified:
		// a 304 whose validators do not correspond to the stored
		// response cannot refresh it, and has no body to serve either.
		// Drop the entry and fetch the resource anew.
		Revalidations.WithLabelValues("mismatch").Inc()
		c.provider.Purge(entry.key)
		plain := r.Clone(r.Context())
		plain.Header.Del("If-None-Match")
		plain.Header.Del("If-Modified-Since")
		plain.Header.Del("If-Range")
		c.fetchAndStore(w, plain, next, prefix, reason)

	default:
		// full response, replaces the stored one
		Revalidations.WithLabelValues("modified").Inc()
		policy := reval.Policy
		if c.shouldStore(policy) {
			stored := storedresponse.Stored{Policy: policy, Status: rw.StatusCode(), Body: rw.Body()}
			if key, ok := c.store(r, prefix, stored); ok {
				cs.Stored = true
				if key != entry.key {
					c.provider.Purge(entry.key)
				}
			}
		} else {
			c.provider.Purge(entry.key)
		}
		c.sendSaved(w, r, rw, cs)
	}
}

// fetchAndStore forwards the request, stores the response if its
// policy allows and then replays it to the client.
func (c *Cache) fetchAndStore(w http.ResponseWriter, r *http.Request, next http.Handler, prefix string, reason FwdReason) {
	rw := tee.NewResponseSaver(nil)
	next.ServeHTTP(rw, r)
	c.log.Trace().Dur("upstream", time.Since(rw.CreatedAt)).Msg("Origin request answered")

	res := &http.Response{StatusCode: rw.StatusCode(), Header: rw.Header(), Request: r}
	c.transform(res)

	cs := CacheStatus{}
	cs.Forward(reason)
	cs.FwdStatus = rw.StatusCode()

	policy, err := rfc7234.NewPolicy(r, res, &c.policyOpts)
	if err != nil {
		c.log.Error().Err(err).Msg("Could not evaluate response for caching")
	} else if c.shouldStore(policy) {
		stored := storedresponse.Stored{Policy: policy, Status: rw.StatusCode(), Body: rw.Body()}
		if _, ok := c.store(r, prefix, stored); ok {
			cs.Stored = true
		}
	}

	// a freshly cached POST means the collection changed under its GETs
	if r.Method == http.MethodPost && rw.StatusCode() < 400 {
		c.invalidate(r, rw.Header(), http.MethodGet, http.MethodHead)
	}

	c.sendSaved(w, r, rw, cs)
}

// transform applies the response rules and the configured default
// Cache-Control to an origin response before it is evaluated.
func (c *Cache) transform(res *http.Response) {
	if err := c.rules.Apply(res); err != nil {
		c.log.Error().Err(err).Msg("Could not apply response rules")
	}
	if c.defaultCC != "" && res.StatusCode >= 200 && res.StatusCode < 300 &&
		res.Header.Get("Cache-Control") == "" {
		res.Header.Set("Cache-Control", c.defaultCC)
	}
}

// shouldStore reports whether an entry for the policy is worth
// keeping: the response must be storable, and either stay fresh for
// some time or carry a validator to revalidate with.
func (c *Cache) shouldStore(p *rfc7234.Policy) bool {
	if !p.Storable() {
		return false
	}
	headers := p.ResponseHeaders()
	if strings.TrimSpace(headers.Get("Vary")) == "*" {
		return false
	}
	return p.TimeToLive() > 0 || hasValidator(headers)
}

// store writes the envelope under the key selected by the policy's
// Vary fields and returns that key.
func (c *Cache) store(r *http.Request, prefix string, stored storedresponse.Stored) (string, bool) {
	bts, err := storedresponse.StoredResponseToBytes(stored)
	if err != nil {
		c.log.Error().Err(err).Msg("Could not encode stored response")
		return "", false
	}
	key := c.keyer.AddVaryKeys(prefix, r, stored.Policy.ResponseHeaders())
	expires := storageExpiry(stored.Policy)
	c.log.Trace().Str("key", key).Time("expires", expires).Msg("Writing to cache")
	if err := c.provider.Put(key, expires, bts); err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
		CacheErrors.WithLabelValues("write").Inc()
		return "", false
	}
	CacheStores.Inc()
	return key, true
}

// sendStored serves a stored response envelope. Clients whose
// conditional headers match the stored validators get a 304 instead of
// the full response.
func (c *Cache) sendStored(w http.ResponseWriter, r *http.Request, stored storedresponse.Stored, cs CacheStatus) {
	headers := stored.Policy.ResponseHeaders()
	copyHeader(w.Header(), headers)
	w.Header().Add("Cache-Status", cs.String())
	if clientHasCurrentVersion(r, headers) {
		w.Header().Del("Content-Length")
		w.WriteHeader(http.StatusNotModified)
		c.logRequest(r, cs)
		return
	}
	w.WriteHeader(stored.Status)
	if _, err := w.Write(stored.Body); err != nil {
		c.log.Error().Err(err).Msg("Could not write response body to client")
	}
	c.logRequest(r, cs)
}

// sendSaved replays a captured origin response to the client.
func (c *Cache) sendSaved(w http.ResponseWriter, r *http.Request, rw *tee.ResponseSaver, cs CacheStatus) {
	copyHeader(w.Header(), rw.Header())
	w.Header().Add("Cache-Status", cs.String())
	w.WriteHeader(rw.StatusCode())
	if _, err := w.Write(rw.Body()); err != nil {
		c.log.Error().Err(err).Msg("Could not write response body to client")
	}
	c.logRequest(r, cs)
}

// invalidate drops the stored responses for the effective request URI
// and for same-origin Location and Content-Location targets, for the
// given methods.
func (c *Cache) invalidate(r *http.Request, resHeader http.Header, methods ...string) {
	uris := []string{r.URL.RequestURI()}
	for _, location := range []string{resHeader.Get("Location"), resHeader.Get("Content-Location")} {
		if location == "" {
			continue
		}
		u, err := url.Parse(location)
		if err != nil {
			continue
		}
		if u.Host != "" && u.Host != r.Host {
			continue
		}
		uris = append(uris, r.URL.ResolveReference(u).RequestURI())
	}
	for _, uri := range uris {
		for _, method := range methods {
			prefix := c.keyer.UriPrefix(method, uri)
			c.log.Trace().Str("key", prefix).Msg("Invalidating cache")
			if err := c.provider.Purge(prefix); err != nil {
				c.log.Error().Err(err).Str("key", prefix).Msg("Could not invalidate")
				CacheErrors.WithLabelValues("purge").Inc()
			}
		}
	}
}

func (c *Cache) logRequest(r *http.Request, cs CacheStatus) {
	isHit := 0
	if cs.Status == StatusHit {
		isHit = 1
	}
	c.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("status", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Bool("stored", cs.Stored).
		Int("ttl", cs.TimeToLive).
		Int("hit", isHit).
		Msg("Sending response to client")
}

var safeMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

// Entries that can be revalidated are kept past their freshness
// lifetime, so that a conditional request can refresh them instead of
// transferring the full response again.
const revalidationHold = 24 * time.Hour

func storageExpiry(p *rfc7234.Policy) time.Time {
	ttl := p.TimeToLive()
	if hasValidator(p.ResponseHeaders()) {
		ttl += revalidationHold
	}
	return time.Now().Add(ttl)
}

func hasValidator(h http.Header) bool {
	return h.Get("Etag") != "" || h.Get("Last-Modified") != ""
}

// clientHasCurrentVersion reports whether the client's own conditional
// headers match the stored response's validators, meaning a 304 is
// enough of an answer.
func clientHasCurrentVersion(r *http.Request, stored http.Header) bool {
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		etag := stored.Get("Etag")
		if etag == "" {
			return false
		}
		for _, tag := range strings.Split(inm, ",") {
			tag = strings.TrimSpace(tag)
			if tag == "*" || weakEtagMatch(tag, etag) {
				return true
			}
		}
		return false
	}
	if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		lastModified, err := http.ParseTime(stored.Get("Last-Modified"))
		if err != nil {
			return false
		}
		since, err := http.ParseTime(ims)
		if err != nil {
			return false
		}
		return !lastModified.After(since)
	}
	return false
}

// §  (RFC 7232, 2.3.2.)  Weak comparison: two entity-tags are
// §  equivalent if their opaque-tags match character-by-character,
// §  regardless of either or both being tagged as "weak".
func weakEtagMatch(a, b string) bool {
	return strings.TrimPrefix(a, "W/") == strings.TrimPrefix(b, "W/")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
