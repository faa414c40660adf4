// Package timeutil parses the duration and date forms accepted on the
// command line and in the config file: durations as Ns|Nm|Nh|Nd|Nw and
// cutoff dates as ISO-8601.
package timeutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ValidationError reports malformed user-supplied durations or dates.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value %q: %s", e.Input, e.Reason)
}

var durationRe = regexp.MustCompile(`^(\d+)([smhdw])$`)

// ParseDuration parses Ns|Nm|Nh|Nd|Nw into a time.Duration. N is a
// non-negative integer; zero is valid, negatives are rejected by form.
func ParseDuration(s string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, &ValidationError{Input: s, Reason: "want <N>s|m|h|d|w"}
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, &ValidationError{Input: s, Reason: "number out of range"}
	}
	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	}
	return time.Duration(n) * unit, nil
}

// ParseDate parses an ISO-8601 date or timestamp. Bare dates resolve to
// midnight UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &ValidationError{Input: s, Reason: "want ISO-8601 date or timestamp"}
}

// ParseSince resolves a --since argument: a duration relative to now, or an
// absolute ISO-8601 date.
func ParseSince(s string, now time.Time) (time.Time, error) {
	if d, err := ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	t, err := ParseDate(s)
	if err != nil {
		return time.Time{}, &ValidationError{Input: s, Reason: "want duration (Ns|m|h|d|w) or ISO-8601 date"}
	}
	return t, nil
}
