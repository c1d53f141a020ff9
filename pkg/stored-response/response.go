// Package storedresponse defines the envelope for responses kept in
// cache storage. An envelope couples the response body and status with
// the caching policy that governs the entry, so that a stored response
// can be evaluated for freshness and revalidated without re-parsing
// header text.
package storedresponse

import (
	"encoding/json"
	"errors"

	"github.com/always-cache/cache-semantics/rfc7234"
)

// ErrNoPolicy is returned when a stored envelope decodes without a
// caching policy. Such entries cannot be evaluated and should be
// dropped.
var ErrNoPolicy = errors.New("stored response has no policy")

type Stored struct {
	// Policy decides freshness and revalidation for the entry. It also
	// carries the response headers to send to clients.
	Policy *rfc7234.Policy `json:"policy"`
	Status int             `json:"status"`
	Body   []byte          `json:"body"`
}

// StoredResponseToBytes encodes the envelope for storage.
func StoredResponseToBytes(s Stored) ([]byte, error) {
	return json.Marshal(s)
}

// BytesToStoredResponse decodes a stored envelope. The policy inside
// reads the system clock; use its SetClock to override.
func BytesToStoredResponse(b []byte) (Stored, error) {
	var s Stored
	if err := json.Unmarshal(b, &s); err != nil {
		return s, err
	}
	if s.Policy == nil {
		return s, ErrNoPolicy
	}
	return s, nil
}
