package cachekey

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrefixIncludesOriginMethodAndURI(t *testing.T) {
	keyer := NewKeyer("this-is-the-origin")
	r := httptest.NewRequest("GET", "http://dev.localhost/page?q=1", nil)
	key := keyer.Prefix(r)
	if !strings.HasPrefix(key, "this-is-the-origin:GET:/page?q=1\t") {
		t.Fatalf("Prefix is %q", key)
	}
}

func TestPrefixDistinguishesMethods(t *testing.T) {
	keyer := NewKeyer("origin")
	get := keyer.Prefix(httptest.NewRequest("GET", "/page", nil))
	head := keyer.Prefix(httptest.NewRequest("HEAD", "/page", nil))
	if get == head {
		t.Fatalf("GET and HEAD share key %q", get)
	}
}

func TestPrefixIncludesCacheKeyHeader(t *testing.T) {
	keyer := NewKeyer("origin")
	r := httptest.NewRequest("GET", "/page", nil)
	r.Header.Set("Cache-Key", "tenant-42")
	if key := keyer.Prefix(r); !strings.Contains(key, "tenant-42") {
		t.Fatalf("Key %q does not include the Cache-Key header", key)
	}
}

func TestPostBodyChangesKey(t *testing.T) {
	keyer := NewKeyer("origin")
	one := keyer.Prefix(httptest.NewRequest("POST", "/form", strings.NewReader("a=1")))
	two := keyer.Prefix(httptest.NewRequest("POST", "/form", strings.NewReader("a=2")))
	if one == two {
		t.Fatalf("Different POST bodies share key %q", one)
	}
}

func TestPostBodyIsRewound(t *testing.T) {
	keyer := NewKeyer("origin")
	r := httptest.NewRequest("POST", "/form", strings.NewReader("a=1"))
	keyer.Prefix(r)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("Error reading body after keying %v", err)
	}
	if string(body) != "a=1" {
		t.Fatalf("Body after keying is %q", body)
	}
}

func TestMultipartKeysOnFirstPart(t *testing.T) {
	keyer := NewKeyer("origin")
	body := strings.Join([]string{
		"--XXX",
		`Content-Disposition: form-data; name="file"; filename="a.txt"`,
		"",
		"file contents",
		"--XXX--",
		"",
	}, "\r\n")
	makeReq := func(b string) *http.Request {
		r := httptest.NewRequest("POST", "/upload", strings.NewReader(b))
		r.Header.Set("Content-Type", "multipart/form-data; boundary=XXX")
		return r
	}

	// The key hashes the content of the first part, not its headers.
	renamed := strings.Replace(body, `filename="a.txt"`, `filename="b.txt"`, 1)
	if keyer.Prefix(makeReq(body)) != keyer.Prefix(makeReq(renamed)) {
		t.Fatalf("Renaming the file changed the key")
	}

	changed := strings.Replace(body, "file contents", "other contents", 1)
	if keyer.Prefix(makeReq(body)) == keyer.Prefix(makeReq(changed)) {
		t.Fatalf("Multipart key ignores part content")
	}

	secondPart := strings.Replace(body, "--XXX--", strings.Join([]string{
		"--XXX",
		`Content-Disposition: form-data; name="extra"`,
		"",
		"more",
		"--XXX--",
	}, "\r\n"), 1)
	if keyer.Prefix(makeReq(body)) != keyer.Prefix(makeReq(secondPart)) {
		t.Fatalf("A later part changed the key")
	}
}

func TestVaryKeysSortedByFieldName(t *testing.T) {
	keyer := NewKeyer("origin")
	r := httptest.NewRequest("GET", "/page", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	r.Header.Set("Accept-Language", "en")
	prefix := keyer.Prefix(r)

	res := http.Header{}
	res.Set("Vary", "Accept-Language, Accept-Encoding")
	key := keyer.AddVaryKeys(prefix, r, res)
	want := prefix + "\naccept-encoding: gzip\naccept-language: en"
	if key != want {
		t.Fatalf("Key is %q, expected %q", key, want)
	}

	res.Set("Vary", "Accept-Encoding, Accept-Language")
	if other := keyer.AddVaryKeys(prefix, r, res); other != key {
		t.Fatalf("Vary member order changes key: %q vs %q", other, key)
	}
}

func TestVaryKeySkipsAbsentFields(t *testing.T) {
	keyer := NewKeyer("origin")
	r := httptest.NewRequest("GET", "/page", nil)
	prefix := keyer.Prefix(r)
	res := http.Header{}
	res.Set("Vary", "Accept-Encoding")
	if key := keyer.AddVaryKeys(prefix, r, res); key != prefix {
		t.Fatalf("Key with absent vary field is %q", key)
	}
}

func TestVaryKeyDistinguishesValues(t *testing.T) {
	keyer := NewKeyer("origin")
	res := http.Header{}
	res.Set("Vary", "Accept-Encoding")

	gzip := httptest.NewRequest("GET", "/page", nil)
	gzip.Header.Set("Accept-Encoding", "gzip")
	br := httptest.NewRequest("GET", "/page", nil)
	br.Header.Set("Accept-Encoding", "br")

	prefix := keyer.Prefix(gzip)
	if keyer.AddVaryKeys(prefix, gzip, res) == keyer.AddVaryKeys(prefix, br, res) {
		t.Fatalf("Different vary values share a key")
	}
}

func TestVaryAsteriskSelectsNothing(t *testing.T) {
	keyer := NewKeyer("origin")
	r := httptest.NewRequest("GET", "/page", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	prefix := keyer.Prefix(r)
	res := http.Header{}
	res.Set("Vary", "*")
	if key := keyer.AddVaryKeys(prefix, r, res); key != prefix {
		t.Fatalf("Vary * contributed to key %q", key)
	}
}
