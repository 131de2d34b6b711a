package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CompareTimestamps orders two platform timestamps. Both Slack's "seconds.micros"
// and Lark's millisecond strings are decimal numbers, so they are compared as such
// without going through float64. The empty string sorts first.
func CompareTimestamps(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}

	aInt, aFrac, _ := strings.Cut(a, ".")
	bInt, bFrac, _ := strings.Cut(b, ".")

	aInt = strings.TrimLeft(aInt, "0")
	bInt = strings.TrimLeft(bInt, "0")
	if len(aInt) != len(bInt) {
		if len(aInt) < len(bInt) {
			return -1
		}
		return 1
	}
	if c := strings.Compare(aInt, bInt); c != 0 {
		return c
	}

	for len(aFrac) < len(bFrac) {
		aFrac += "0"
	}
	for len(bFrac) < len(aFrac) {
		bFrac += "0"
	}
	return strings.Compare(aFrac, bFrac)
}

// ParseTimestamp converts a platform timestamp to a time. Slack timestamps are
// fractional seconds since the epoch; Lark timestamps are milliseconds.
func ParseTimestamp(p Platform, ts string) (time.Time, bool) {
	if ts == "" {
		return time.Time{}, false
	}
	if p == PlatformLark {
		ms, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(ms), true
	}
	secs, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(secs * 1000)), true
}

// FormatTimestamp renders t in the platform's native timestamp format
func FormatTimestamp(p Platform, t time.Time) string {
	if p == PlatformLark {
		return strconv.FormatInt(t.UnixMilli(), 10)
	}
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}
