package rfc7234

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// §  (RFC 7231, 7.1.1.1.  Date/Time Formats)
// §
// §     Prior to 1995, there were three different formats commonly used by
// §     servers to communicate timestamps.  For compatibility with old
// §     implementations, all three are defined here.  The preferred format
// §     is a fixed-length and single-zone subset of the date and time
// §     specification used by the Internet Message Format.
// §
// §       HTTP-date    = IMF-fixdate / obs-date
// §
// §     An example of the preferred format is
// §
// §       Sun, 06 Nov 1994 08:49:37 GMT    ; IMF-fixdate
// §
// §     Examples of the two obsolete formats are
// §
// §       Sunday, 06-Nov-94 08:49:37 GMT   ; obsolete RFC 850 format
// §       Sun Nov  6 08:49:37 1994         ; ANSI C's asctime() format
func httpDate(dateStr string) (time.Time, error) {
	if date, err := imfDate(dateStr); err == nil {
		return date, err
	} else {
		// try to parse as obsolete date
		if date, err := obsDate(dateStr); err == nil {
			return date, err
		}
		// return original error if unsuccessful
		return date, err
	}
}

const imfDateLayout = "Mon, 02 Jan 2006 15:04:05 MST"

func imfDate(dateStr string) (time.Time, error) {
	date, err := time.Parse(imfDateLayout, normalizeDateStr(dateStr))
	if err != nil {
		return date, err
	}
	if date.Location().String() != "GMT" {
		return date, fmt.Errorf("date %s is not in GMT time, but %s", date, date.Location())
	}
	return date, err
}

func obsDate(dateStr string) (time.Time, error) {
	str := normalizeDateStr(dateStr)
	if date, err := time.Parse(time.RFC850, str); err == nil {
		return date, err
	}
	return time.Parse(time.ANSIC, str)
}

// §     HTTP-date is case sensitive.
//
// The caching RFC relaxes this for recipients, so parse the way real
// caches do and compare case-insensitively.
func normalizeDateStr(dateStr string) string {
	return strings.ToUpper(dateStr)
}

// deltaSeconds parses a delta-seconds value, reporting whether the
// input was a usable non-negative integer.
//
// §     If a cache receives a delta-seconds value greater than the
// §     greatest integer it can represent, or if any of its subsequent
// §     calculations overflows, the cache MUST consider the value to be
// §     2147483648 (2^31) or the greatest positive integer it can
// §     conveniently represent.
func deltaSeconds(secondsStr string) (time.Duration, bool) {
	seconds, err := strconv.ParseUint(secondsStr, 10, 64)
	if err != nil {
		return 0, false
	}
	if seconds > 1<<31 {
		seconds = 1 << 31
	}
	return time.Second * time.Duration(seconds), true
}

func toDeltaSeconds(duration time.Duration) string {
	return fmt.Sprintf("%.f", duration.Seconds())
}
