package rfc7234

import (
	"net/http"
	"strings"
)

// Header fields are kept internally as a map from lower-cased field
// name to a single value, with multiple field lines joined by ", ".
// This matches how the fields travel in a serialized policy record.

func lowerKeyed(header http.Header) map[string]string {
	m := make(map[string]string, len(header))
	for name, values := range header {
		m[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return m
}

func toHeader(fields map[string]string) http.Header {
	header := make(http.Header, len(fields))
	for name, value := range fields {
		header.Set(name, value)
	}
	return header
}

// splitList splits a comma-separated list field into its trimmed
// members.
func splitList(value string) []string {
	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		items = append(items, strings.TrimSpace(item))
	}
	return items
}

// §  (RFC 7230, 6.1.  Connection)
// §
// §     The "Connection" header field allows the sender to indicate desired
// §     control options for the current connection.  ...  Intermediaries
// §     MUST remove the Connection header field and all header fields
// §     nominated within it prior to forwarding the message.
var hopByHopFields = map[string]bool{
	"date":                true,
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// withoutHopByHopFields copies the given fields without the hop-by-hop
// set, without any field nominated by Connection, and without Warning
// entries that would be invalid on a response constructed from a cache.
// Date is part of the removed set since serving from cache updates it.
func withoutHopByHopFields(fields map[string]string) map[string]string {
	copied := make(map[string]string, len(fields))
	for name, value := range fields {
		if hopByHopFields[name] {
			continue
		}
		copied[name] = value
	}
	if connection, ok := fields["connection"]; ok {
		for _, name := range splitList(connection) {
			delete(copied, strings.ToLower(name))
		}
	}
	// §  (RFC 7234, 5.5.  Warning)
	// §
	// §     Warnings in the 1xx range ... MUST be deleted by a cache after
	// §     validation.  They can only be generated by a cache when
	// §     validating a cached entry, and MUST NOT be generated in any
	// §     other situation.
	if warning, ok := copied["warning"]; ok {
		if kept := withoutOneXXWarnings(warning); kept != "" {
			copied["warning"] = kept
		} else {
			delete(copied, "warning")
		}
	}
	return copied
}

// withoutOneXXWarnings drops list members carrying a 1xx warn-code and
// keeps the rest, preserving their original spelling.
func withoutOneXXWarnings(value string) string {
	kept := make([]string, 0)
	for _, warning := range strings.Split(value, ",") {
		code := strings.TrimSpace(warning)
		if len(code) >= 3 && code[0] == '1' && isDigit(code[1]) && isDigit(code[2]) {
			continue
		}
		kept = append(kept, warning)
	}
	return strings.TrimSpace(strings.Join(kept, ","))
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
