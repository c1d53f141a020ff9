package rfc7234

import (
	"encoding/json"
	"fmt"
	"time"
)

// The serialized policy is a versioned record meant for persistent
// storage next to the response body. Times are epoch milliseconds so
// records can be exchanged with other implementations of this model.
type policyRecord struct {
	Version         int               `json:"v"`
	ResponseTime    int64             `json:"t"`
	Shared          bool              `json:"sh"`
	CacheHeuristic  float64           `json:"ch"`
	ImmutableMinTTL *int64            `json:"imm"`
	Status          int               `json:"st"`
	ResHeaders      map[string]string `json:"resh"`
	ResCC           CacheControl      `json:"rescc"`
	Method          string            `json:"m"`
	URL             string            `json:"u"`
	Host            string            `json:"h"`
	NoAuthorization bool              `json:"a"`
	ReqHeaders      map[string]string `json:"reqh"`
	ReqCC           CacheControl      `json:"reqcc"`
}

const recordVersion = 1

// MarshalJSON encodes the policy as a version 1 record.
func (p *Policy) MarshalJSON() ([]byte, error) {
	imm := p.immutableMinTTL.Milliseconds()
	return json.Marshal(policyRecord{
		Version:         recordVersion,
		ResponseTime:    p.responseTime.UnixMilli(),
		Shared:          p.shared,
		CacheHeuristic:  p.cacheHeuristic,
		ImmutableMinTTL: &imm,
		Status:          p.status,
		ResHeaders:      p.resHeaders,
		ResCC:           p.resCC,
		Method:          p.method,
		URL:             p.url,
		Host:            p.host,
		NoAuthorization: p.noAuthorization,
		ReqHeaders:      p.reqHeaders,
		ReqCC:           p.reqCC,
	})
}

// UnmarshalJSON restores a policy from a version 1 record. It fails
// with ErrReinitialized on a policy that is already initialized, and
// with ErrInvalidSerialization on records of any other version or
// shape. The restored policy reads time.Now; use SetClock to override.
func (p *Policy) UnmarshalJSON(data []byte) error {
	if !p.responseTime.IsZero() {
		return ErrReinitialized
	}
	var record policyRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSerialization, err)
	}
	if record.Version != recordVersion {
		return ErrInvalidSerialization
	}
	p.responseTime = time.UnixMilli(record.ResponseTime)
	p.shared = record.Shared
	p.cacheHeuristic = record.CacheHeuristic
	if record.ImmutableMinTTL != nil {
		p.immutableMinTTL = time.Duration(*record.ImmutableMinTTL) * time.Millisecond
	} else {
		// records predating the immutable directive
		p.immutableMinTTL = defaultImmutableMinTTL
	}
	p.status = record.Status
	p.resHeaders = record.ResHeaders
	p.resCC = record.ResCC
	p.method = record.Method
	p.url = record.URL
	p.host = record.Host
	p.noAuthorization = record.NoAuthorization
	p.reqHeaders = record.ReqHeaders
	p.reqCC = record.ReqCC
	return nil
}
