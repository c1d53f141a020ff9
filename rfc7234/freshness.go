package rfc7234

import "time"

// §  4.2.  Freshness
// §
// §     A "fresh" response is one whose age has not yet exceeded its
// §     freshness lifetime.  Conversely, a "stale" response is one where
// §     it has.

// MaxAge returns the freshness lifetime of the response: the duration
// from response generation during which it may be served without
// contacting the origin. Zero means the response is always considered
// stale (it may still be storable and revalidated on every reuse).
func (p *Policy) MaxAge() time.Duration {
	if !p.Storable() || p.resCC.HasDirective("no-cache") {
		return 0
	}
	// Shared caches are told not to serve cookies by default. The public
	// and immutable directives both signal the cookie is not sensitive.
	if p.shared && !p.resCC.HasDirective("public") && !p.resCC.HasDirective("immutable") {
		if _, ok := p.resHeaders["set-cookie"]; ok {
			return 0
		}
	}
	if p.resHeaders["vary"] == "*" {
		return 0
	}
	if p.shared {
		// §  5.2.2.7.  proxy-revalidate
		// §     The "proxy-revalidate" response directive has the same
		// §     meaning as the must-revalidate response directive, except
		// §     that it does not apply to private caches.
		if p.resCC.HasDirective("proxy-revalidate") {
			return 0
		}
		// §  4.2.1. ... If the cache is shared and the s-maxage response
		// §  directive (Section 5.2.2.9) is present, use its value, or ...
		if p.resCC.HasDirective("s-maxage") {
			d, _ := p.resCC.SMaxAge()
			return d
		}
	}
	// §  ...  If the max-age response directive (Section 5.2.2.8) is
	// §  present, use its value, or ...
	if p.resCC.HasDirective("max-age") {
		d, _ := p.resCC.MaxAge()
		return d
	}

	defaultMinTTL := time.Duration(0)
	if p.resCC.HasDirective("immutable") {
		defaultMinTTL = p.immutableMinTTL
	}

	serverDate := p.date_value()
	// §  ...  If the Expires response header field (Section 5.3) is
	// §  present, use its value minus the value of the Date response
	// §  header field, or ...
	if expiresStr, ok := p.resHeaders["expires"]; ok {
		expires, err := httpDate(expiresStr)
		// §  A cache recipient MUST interpret invalid date formats,
		// §  especially the value "0", as representing a time in the past.
		if err != nil || expires.Before(serverDate) {
			return 0
		}
		return durationMax(defaultMinTTL, expires.Sub(serverDate))
	}
	// §  4.2.2. ... If the response has a Last-Modified header field,
	// §  caches are encouraged to use a heuristic expiration value that is
	// §  no more than some fraction of the interval since that time.  A
	// §  typical setting of this fraction might be 10%.
	if lastModifiedStr, ok := p.resHeaders["last-modified"]; ok {
		if lastModified, err := httpDate(lastModifiedStr); err == nil && serverDate.After(lastModified) {
			heuristic := time.Duration(float64(serverDate.Sub(lastModified)) * p.cacheHeuristic)
			return durationMax(defaultMinTTL, heuristic)
		}
	}
	return defaultMinTTL
}

// §  4.2.3.  Calculating Age
// §
// §     ... "date_value" denotes the value of the Date header field, in a
// §     form appropriate for arithmetic operations.
func (p *Policy) date_value() time.Time {
	if date, err := httpDate(p.resHeaders["date"]); err == nil {
		return date
	}
	// the time the message was received, as per Section 6.6.1 of RFC 7231
	return p.responseTime
}

// §     ... "age_value" denotes the value of the Age header field
// §     (Section 5.1), in a form appropriate for arithmetic operation; or
// §     0, if not available.
func (p *Policy) age_value() time.Duration {
	d, _ := deltaSeconds(p.resHeaders["age"])
	return d
}

// Age returns the estimated current age of the response.
//
// §       resident_time = now - response_time;
// §       current_age = corrected_initial_age + resident_time;
func (p *Policy) Age() time.Duration {
	return p.age_value() + p.now().Sub(p.responseTime)
}

// TimeToLive returns how much longer the response stays fresh. Zero
// means it is already stale.
func (p *Policy) TimeToLive() time.Duration {
	return durationMax(0, p.MaxAge()-p.Age())
}

// Stale reports whether the response's age has reached its freshness
// lifetime.
//
// §       response_is_fresh = (freshness_lifetime > current_age)
func (p *Policy) Stale() bool {
	return p.MaxAge() <= p.Age()
}

func durationMax(d1, d2 time.Duration) time.Duration {
	if d1 > d2 {
		return d1
	}
	return d2
}
