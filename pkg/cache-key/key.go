// Package cachekey derives the storage keys for cached responses.
//
// A key has two parts. The prefix identifies the resource: origin,
// method and request URI, plus a body hash for POST requests. The
// variant suffix identifies one stored response among the variants of
// that resource, built from the response's Vary fields and the request
// values they select on. Listing a prefix therefore yields every
// variant of a resource, and recomputing the full key against a stored
// response's Vary set tells whether a request addresses that variant.
package cachekey

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
)

const (
	originSeparator = ":"
	methodSeparator = ":"
	varySeparator   = "\t"
)

type Keyer struct {
	// Unique identifier for the origin.
	// Usually this should be the origin - well - origin.
	OriginID string
}

func NewKeyer(originID string) Keyer {
	return Keyer{OriginID: originID}
}

// UriPrefix returns the key prefix shared by every variant stored for
// the given method and request URI, regardless of Cache-Key header or
// request body.
func (k Keyer) UriPrefix(method, uri string) string {
	return k.OriginID + originSeparator + method + methodSeparator + uri + varySeparator
}

// Prefix returns the cache key for a request without the variant
// suffix. The returned key is suitable for finding all stored response
// variants for a particular request. If the request has a `Cache-Key`
// header, that value is included in the prefix. POST requests include
// a hash of the request body; the body is rewound before returning.
func (k Keyer) Prefix(r *http.Request) string {
	key := k.UriPrefix(r.Method, r.URL.RequestURI())
	if ck := r.Header.Get("Cache-Key"); ck != "" {
		key += ck
	}
	if r.Method == http.MethodPost {
		if hash := multipartHash(r); hash != "" {
			key += hash
		} else if hash := bodyHash(r); hash != "" {
			key += hash
		}
	}
	return key
}

// AddVaryKeys returns the full cache key based on a previously
// generated prefix and the request and response headers involved. The
// variant suffix lists the response's Vary fields in sorted order with
// the request values they matched on, so equal keys mean the same
// variant selection.
func (k Keyer) AddVaryKeys(prefix string, req *http.Request, resHeader http.Header) string {
	key := prefix
	for _, name := range varyFields(resHeader) {
		if len(req.Header.Values(name)) == 0 {
			continue
		}
		value := strings.Join(req.Header.Values(name), ", ")
		key += "\n" + name + ": " + strings.ReplaceAll(value, "\n", `\n`)
	}
	return key
}

// varyFields returns the response's Vary member names, lowercased,
// deduplicated and sorted. The "*" member selects nothing and is
// skipped.
func varyFields(resHeader http.Header) []string {
	seen := make(map[string]bool)
	fields := make([]string, 0)
	for _, member := range strings.Split(strings.Join(resHeader.Values("Vary"), ","), ",") {
		name := strings.ToLower(strings.TrimSpace(member))
		if name == "" || name == "*" || seen[name] {
			continue
		}
		seen[name] = true
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}

// multipartHash returns the hash of the first part of a multipart
// request body, so that file uploads key on the file content. It
// returns an empty string if the request is not multipart. When it
// returns, the request body is rewound to the beginning.
func multipartHash(r *http.Request) string {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return ""
	}
	body, ok := rewindBody(r)
	if !ok {
		return ""
	}
	mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	p, err := mr.NextPart()
	if err != nil {
		return ""
	}
	slurp, err := io.ReadAll(p)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", sha256.Sum256(slurp))
}

// bodyHash returns the hash of the request body. When it returns, the
// request body is rewound to the beginning.
func bodyHash(r *http.Request) string {
	body, ok := rewindBody(r)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%x", sha256.Sum256(body))
}

func rewindBody(r *http.Request) ([]byte, bool) {
	if r.Body == nil {
		return nil, false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, true
}
