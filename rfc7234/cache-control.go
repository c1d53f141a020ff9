package rfc7234

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// §  5.2.  Cache-Control
// §
// §     The "Cache-Control" header field is used to specify directives for
// §     caches along the request/response chain.  Such cache directives are
// §     unidirectional in that the presence of a directive in a request does
// §     not imply that the same directive is to be given in the response.
// §
// §       Cache-Control   = 1#cache-directive
// §
// §       cache-directive = token [ "=" ( token / quoted-string ) ]

// DirectiveValue is the argument of a single cache directive. A
// directive is either a bare flag ("no-store") or carries a value
// ("max-age=60"). The two are kept distinct so that a flag is never
// confused with an empty argument ("max-age=").
type DirectiveValue struct {
	Value string
	Flag  bool
}

// CacheControl holds the directives of a parsed Cache-Control field,
// keyed by lower-cased directive name.
type CacheControl map[string]DirectiveValue

// ParseCacheControl parses a Cache-Control header value. An empty
// value yields an empty (non-nil) directive set. Parsing never fails:
// malformed input simply produces fewer directives.
func ParseCacheControl(header string) CacheControl {
	cc := make(CacheControl)
	if header == "" {
		return cc
	}
	// §  Cache directives are identified by a token, to be compared
	// §  case-insensitively, and have an optional argument, that can use
	// §  both token and quoted-string syntax.
	//
	// Note that setting map values like this means the last directive
	// wins when a name repeats.
	for _, field := range strings.Split(header, ",") {
		parts := strings.SplitN(field, "=", 2)
		name := strings.ToLower(strings.TrimSpace(parts[0]))
		if name == "" {
			continue
		}
		if len(parts) == 1 {
			cc[name] = DirectiveValue{Flag: true}
			continue
		}
		cc[name] = DirectiveValue{Value: unquote(strings.TrimSpace(parts[1]))}
	}
	return cc
}

// unquote converts a directive argument from quoted-string to token
// form. Only a single surrounding pair is removed.
func unquote(arg string) string {
	arg = strings.TrimPrefix(arg, `"`)
	return strings.TrimSuffix(arg, `"`)
}

// Get returns the argument of the specified directive, along with a
// boolean indicating whether the directive is present. Flags have an
// empty argument.
func (cc CacheControl) Get(directive string) (string, bool) {
	dv, ok := cc[directive]
	return dv.Value, ok
}

// HasDirective returns whether the specified directive is present.
func (cc CacheControl) HasDirective(directive string) bool {
	_, ok := cc[directive]
	return ok
}

// HasFlag returns whether the specified directive is present in bare
// flag form, i.e. without an argument.
func (cc CacheControl) HasFlag(directive string) bool {
	dv, ok := cc[directive]
	return ok && dv.Flag
}

// MaxAge returns "max-age" as a duration, along with a boolean
// indicating whether a usable max-age directive was present.
func (cc CacheControl) MaxAge() (time.Duration, bool) {
	return cc.getDeltaSeconds("max-age")
}

// SMaxAge returns "s-maxage" as a duration, along with a boolean
// indicating whether a usable s-maxage directive was present.
func (cc CacheControl) SMaxAge() (time.Duration, bool) {
	return cc.getDeltaSeconds("s-maxage")
}

// §  1.2.1.  Delta Seconds
// §
// §     The delta-seconds rule specifies a non-negative integer,
// §     representing time in seconds.
// §
// §       delta-seconds  = 1*DIGIT
func (cc CacheControl) getDeltaSeconds(directive string) (time.Duration, bool) {
	dv, ok := cc[directive]
	if !ok || dv.Flag {
		return 0, false
	}
	d, ok := deltaSeconds(dv.Value)
	return d, ok
}

// String formats the directive set back into a Cache-Control value.
// Directives are sorted by name so the output is deterministic.
func (cc CacheControl) String() string {
	if len(cc) == 0 {
		return ""
	}
	names := make([]string, 0, len(cc))
	for name := range cc {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]string, 0, len(names))
	for _, name := range names {
		if dv := cc[name]; dv.Flag {
			fields = append(fields, name)
		} else {
			fields = append(fields, name+"="+dv.Value)
		}
	}
	return strings.Join(fields, ", ")
}

// MarshalJSON encodes flags as true and arguments as strings, which is
// the shape the serialized policy record uses.
func (cc CacheControl) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(cc))
	for name, dv := range cc {
		if dv.Flag {
			m[name] = true
		} else {
			m[name] = dv.Value
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts booleans, strings and numbers as directive
// arguments. Anything else is dropped rather than rejected.
func (cc *CacheControl) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed := make(CacheControl, len(m))
	for name, value := range m {
		switch v := value.(type) {
		case bool:
			if v {
				parsed[name] = DirectiveValue{Flag: true}
			}
		case string:
			parsed[name] = DirectiveValue{Value: v}
		case float64:
			parsed[name] = DirectiveValue{Value: strconv.FormatFloat(v, 'f', -1, 64)}
		}
	}
	*cc = parsed
	return nil
}
