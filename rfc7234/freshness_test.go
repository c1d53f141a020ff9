package rfc7234

import (
	"net/http"
	"testing"
	"time"
)

func TestSMaxAgePreferredInSharedCache(t *testing.T) {
	res := newResponse(200, map[string]string{"Cache-Control": "max-age=60, s-maxage=120"})
	p := mustPolicy(t, newRequest("GET", "/", nil), res, testOptions())
	if d := p.MaxAge(); d != 120*time.Second {
		t.Fatalf("MaxAge is %v", d)
	}
	opts := testOptions()
	opts.PrivateCache = true
	p = mustPolicy(t, newRequest("GET", "/", nil), res, opts)
	if d := p.MaxAge(); d != 60*time.Second {
		t.Fatalf("MaxAge is %v in a private cache", d)
	}
}

func TestMaxAgePreferredOverExpires(t *testing.T) {
	res := newResponse(200, map[string]string{
		"Date":          testTime.Format(http.TimeFormat),
		"Expires":       testTime.Add(time.Hour).Format(http.TimeFormat),
		"Cache-Control": "max-age=60",
	})
	p := mustPolicy(t, newRequest("GET", "/", nil), res, testOptions())
	if d := p.MaxAge(); d != 60*time.Second {
		t.Fatalf("MaxAge is %v", d)
	}
}

func TestExpiresAlone(t *testing.T) {
	res := newResponse(200, map[string]string{
		"Date":    testTime.Format(http.TimeFormat),
		"Expires": testTime.Add(time.Hour).Format(http.TimeFormat),
	})
	p := mustPolicy(t, newRequest("GET", "/", nil), res, testOptions())
	if d := p.MaxAge(); d != time.Hour {
		t.Fatalf("MaxAge is %v", d)
	}
}

func TestExpiresWithoutDateUsesResponseTime(t *testing.T) {
	res := newResponse(200, map[string]string{
		"Expires": testTime.Add(10 * time.Minute).Format(http.TimeFormat),
	})
	p := mustPolicy(t, newRequest("GET", "/", nil), res, testOptions())
	if d := p.MaxAge(); d != 10*time.Minute {
		t.Fatalf("MaxAge is %v", d)
	}
}

func TestInvalidExpiresMeansExpired(t *testing.T) {
	for _, expires := range []string{"0", "never", ""} {
		res := newResponse(200, map[string]string{"Expires": expires})
		p := mustPolicy(t, newRequest("GET", "/", nil), res, testOptions())
		if d := p.MaxAge(); d != 0 {
			t.Fatalf("MaxAge for Expires %q is %v", expires, d)
		}
	}
}

func TestExpiresInThePast(t *testing.T) {
	res := newResponse(200, map[string]string{
		"Date":    testTime.Format(http.TimeFormat),
		"Expires": testTime.Add(-time.Hour).Format(http.TimeFormat),
	})
	p := mustPolicy(t, newRequest("GET", "/", nil), res, testOptions())
	if d := p.MaxAge(); d != 0 {
		t.Fatalf("MaxAge is %v", d)
	}
	if !p.Stale() {
		t.Fatal("Expired response should be stale")
	}
}

func TestHeuristicFreshness(t *testing.T) {
	res := newResponse(200, map[string]string{
		"Date":          testTime.Format(http.TimeFormat),
		"Last-Modified": testTime.Add(-100 * 24 * time.Hour).Format(http.TimeFormat),
	})
	p := mustPolicy(t, newRequest("GET", "/", nil), res, testOptions())
	if d := p.MaxAge(); d != 10*24*time.Hour {
		t.Fatalf("MaxAge is %v, want 10 days", d)
	}
}

func TestHeuristicFraction(t *testing.T) {
	res := newResponse(200, map[string]string{
		"Date":          testTime.Format(http.TimeFormat),
		"Last-Modified": testTime.Add(-100 * 24 * time.Hour).Format(http.TimeFormat),
	})
	opts := testOptions()
	opts.CacheHeuristic = 0.5
	p := mustPolicy(t, newRequest("GET", "/", nil), res, opts)
	if d := p.MaxAge(); d != 50*24*time.Hour {
		t.Fatalf("MaxAge is %v, want 50 days", d)
	}
}

func TestHeuristicNeedsOlderLastModified(t *testing.T) {
	res := newResponse(200, map[string]string{
		"Date":          testTime.Format(http.TimeFormat),
		"Last-Modified": testTime.Add(time.Hour).Format(http.TimeFormat),
	})
	p := mustPolicy(t, newRequest("GET", "/", nil), res, testOptions())
	if d := p.MaxAge(); d != 0 {
		t.Fatalf("MaxAge is %v for a future Last-Modified", d)
	}
}

func TestImmutableMinimumLifetime(t *testing.T) {
	res := newResponse(200, map[string]string{"Cache-Control": "immutable"})
	p := mustPolicy(t, newRequest("GET", "/", nil), res, testOptions())
	if d := p.MaxAge(); d != 24*time.Hour {
		t.Fatalf("MaxAge is %v, want 24h", d)
	}
	opts := testOptions()
	opts.ImmutableMinTTL = time.Hour
	p = mustPolicy(t, newRequest("GET", "/", nil), res, opts)
	if d := p.MaxAge(); d != time.Hour {
		t.Fatalf("MaxAge is %v, want 1h", d)
	}
}

func TestImmutableDoesNotOverrideMaxAge(t *testing.T) {
	res := newResponse(200, map[string]string{"Cache-Control": "immutable, max-age=60"})
	p := mustPolicy(t, newRequest("GET", "/", nil), res, testOptions())
	if d := p.MaxAge(); d != 60*time.Second {
		t.Fatalf("MaxAge is %v", d)
	}
}

func TestNoCacheIsAlwaysStale(t *testing.T) {
	res := newResponse(200, map[string]string{"Cache-Control": "no-cache, max-age=60"})
	p := mustPolicy(t, newRequest("GET", "/", nil), res, testOptions())
	if !p.Storable() {
		t.Fatal("no-cache response should still be storable")
	}
	if d := p.MaxAge(); d != 0 {
		t.Fatalf("MaxAge is %v", d)
	}
	if !p.Stale() {
		t.Fatal("no-cache response should be stale")
	}
}

func TestSetCookieInSharedCache(t *testing.T) {
	res := newResponse(200, map[string]string{
		"Set-Cookie":    "session=secret",
		"Cache-Control": "max-age=60",
	})
	p := mustPolicy(t, newRequest("GET", "/", nil), res, testOptions())
	if d := p.MaxAge(); d != 0 {
		t.Fatalf("MaxAge is %v for a cookie in a shared cache", d)
	}

	res = newResponse(200, map[string]string{
		"Set-Cookie":    "session=ok",
		"Cache-Control": "public, max-age=60",
	})
	p = mustPolicy(t, newRequest("GET", "/", nil), res, testOptions())
	if d := p.MaxAge(); d != 60*time.Second {
		t.Fatalf("MaxAge is %v for a public cookie", d)
	}

	res = newResponse(200, map[string]string{
		"Set-Cookie":    "session=ok",
		"Cache-Control": "max-age=60",
	})
	opts := testOptions()
	opts.PrivateCache = true
	p = mustPolicy(t, newRequest("GET", "/", nil), res, opts)
	if d := p.MaxAge(); d != 60*time.Second {
		t.Fatalf("MaxAge is %v for a cookie in a private cache", d)
	}
}

func TestVaryStarIsNeverFresh(t *testing.T) {
	res := newResponse(200, map[string]string{"Cache-Control": "max-age=60", "Vary": "*"})
	p := mustPolicy(t, newRequest("GET", "/", nil), res, testOptions())
	if d := p.MaxAge(); d != 0 {
		t.Fatalf("MaxAge is %v", d)
	}
}

func TestProxyRevalidate(t *testing.T) {
	res := newResponse(200, map[string]string{"Cache-Control": "proxy-revalidate, max-age=60"})
	p := mustPolicy(t, newRequest("GET", "/", nil), res, testOptions())
	if d := p.MaxAge(); d != 0 {
		t.Fatalf("MaxAge is %v in a shared cache", d)
	}
	opts := testOptions()
	opts.PrivateCache = true
	p = mustPolicy(t, newRequest("GET", "/", nil), res, opts)
	if d := p.MaxAge(); d != 60*time.Second {
		t.Fatalf("MaxAge is %v in a private cache", d)
	}
}

func TestAgeArithmetic(t *testing.T) {
	current := testTime
	opts := &Options{Clock: func() time.Time { return current }}
	res := newResponse(200, map[string]string{
		"Cache-Control": "max-age=200",
		"Age":           "100",
	})
	p := mustPolicy(t, newRequest("GET", "/", nil), res, opts)
	current = testTime.Add(50 * time.Second)
	if age := p.Age(); age != 150*time.Second {
		t.Fatalf("Age is %v", age)
	}
	if ttl := p.TimeToLive(); ttl != 50*time.Second {
		t.Fatalf("TimeToLive is %v", ttl)
	}
	if p.Stale() {
		t.Fatal("Response should still be fresh")
	}
	current = testTime.Add(2 * time.Minute)
	if !p.Stale() {
		t.Fatal("Response should be stale")
	}
	if ttl := p.TimeToLive(); ttl != 0 {
		t.Fatalf("TimeToLive is %v", ttl)
	}
}

func TestInvalidAgeHeaderIgnored(t *testing.T) {
	res := newResponse(200, map[string]string{
		"Cache-Control": "max-age=60",
		"Age":           "banana",
	})
	p := mustPolicy(t, newRequest("GET", "/", nil), res, testOptions())
	if age := p.Age(); age != 0 {
		t.Fatalf("Age is %v", age)
	}
}
