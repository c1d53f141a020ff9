package rfc7234

import (
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestSerializationRoundTrip(t *testing.T) {
	p := mustPolicy(t,
		newRequest("GET", "/page", map[string]string{"Accept-Encoding": "gzip"}),
		newResponse(200, map[string]string{
			"Cache-Control": "max-age=300",
			"Vary":          "Accept-Encoding",
			"ETag":          `"v1"`,
		}),
		testOptions())
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Error marshaling %v", err)
	}

	restored := &Policy{}
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("Error unmarshaling %v", err)
	}
	restored = restored.SetClock(fixedClock(testTime))

	if restored.MaxAge() != p.MaxAge() {
		t.Fatalf("MaxAge %v != %v", restored.MaxAge(), p.MaxAge())
	}
	if restored.Age() != p.Age() {
		t.Fatalf("Age %v != %v", restored.Age(), p.Age())
	}
	if restored.Storable() != p.Storable() {
		t.Fatal("Storability changed over the round trip")
	}

	match := newRequest("GET", "/page", map[string]string{"Accept-Encoding": "gzip"})
	if ok, _ := restored.SatisfiesWithoutRevalidation(match); !ok {
		t.Fatal("Restored policy should satisfy the original request")
	}
	mismatch := newRequest("GET", "/page", map[string]string{"Accept-Encoding": "br"})
	if ok, _ := restored.SatisfiesWithoutRevalidation(mismatch); ok {
		t.Fatal("Restored policy should still check Vary")
	}

	headers := revalidationHeaders(t, restored, newRequest("GET", "/page", map[string]string{"Accept-Encoding": "gzip"}))
	if inm := headers.Get("If-None-Match"); inm != `"v1"` {
		t.Fatalf("If-None-Match is %q", inm)
	}
}

func TestSerializationRecordFormat(t *testing.T) {
	p := mustPolicy(t,
		newRequest("GET", "/page", nil),
		newResponse(200, map[string]string{"Cache-Control": "max-age=60"}),
		testOptions())
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Error marshaling %v", err)
	}

	var record map[string]interface{}
	if err := json.Unmarshal(data, &record); err != nil {
		t.Fatalf("Error decoding record %v", err)
	}
	if v, ok := record["v"].(float64); !ok || v != 1 {
		t.Fatalf("Version field is %v", record["v"])
	}
	if ms, ok := record["t"].(float64); !ok || int64(ms) != testTime.UnixMilli() {
		t.Fatalf("Timestamp field is %v, want %d", record["t"], testTime.UnixMilli())
	}
	if _, ok := record["resh"]; !ok {
		t.Fatal("Record is missing the response headers")
	}
}

func TestSerializationRejectsUnknownVersion(t *testing.T) {
	p := &Policy{}
	err := json.Unmarshal([]byte(`{"v":2,"t":0,"st":200}`), p)
	if !errors.Is(err, ErrInvalidSerialization) {
		t.Fatalf("Expected ErrInvalidSerialization, got %v", err)
	}
}

func TestSerializationRejectsGarbage(t *testing.T) {
	for _, raw := range []string{`"hello"`, `[1,2]`, `{"v":"one"}`} {
		p := &Policy{}
		if err := json.Unmarshal([]byte(raw), p); !errors.Is(err, ErrInvalidSerialization) {
			t.Fatalf("Expected ErrInvalidSerialization for %q, got %v", raw, err)
		}
	}
}

func TestSerializationRefusesReinitialization(t *testing.T) {
	p := mustPolicy(t,
		newRequest("GET", "/page", nil),
		newResponse(200, map[string]string{"Cache-Control": "max-age=60"}),
		testOptions())
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Error marshaling %v", err)
	}
	if err := json.Unmarshal(data, p); !errors.Is(err, ErrReinitialized) {
		t.Fatalf("Expected ErrReinitialized, got %v", err)
	}

	restored := &Policy{}
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("Error unmarshaling %v", err)
	}
	if err := json.Unmarshal(data, restored); !errors.Is(err, ErrReinitialized) {
		t.Fatalf("Expected ErrReinitialized on the second unmarshal, got %v", err)
	}
}

func TestSerializationDefaultsImmutableLifetime(t *testing.T) {
	// records written before the imm field existed
	raw := []byte(`{"v":1,"t":` + strconv.FormatInt(testTime.UnixMilli(), 10) + `,"sh":true,"ch":0.1,"st":200,` +
		`"resh":{"cache-control":"immutable"},"rescc":{"immutable":true},"m":"GET","u":"/page","h":"example.com","a":true}`)
	p := &Policy{}
	if err := json.Unmarshal(raw, p); err != nil {
		t.Fatalf("Error unmarshaling %v", err)
	}
	p = p.SetClock(fixedClock(testTime))
	if d := p.MaxAge(); d != 24*time.Hour {
		t.Fatalf("MaxAge is %v, want the 24h immutable default", d)
	}
}
