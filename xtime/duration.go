package xtime

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	durationRx = regexp.MustCompile(`^(\d*\.\d+|\d+)(ns|us|µs|ms|s|m|h|d|D|w|W|M|y|Y)`)
	unitMap    = map[string]time.Duration{
		"ns": time.Nanosecond,
		"us": time.Microsecond,
		"µs": time.Microsecond,
		"ms": time.Millisecond,
		"s":  time.Second,
		"m":  time.Minute,
		"h":  time.Hour,
		"d":  24 * time.Hour,
		"D":  24 * time.Hour,
		"w":  7 * 24 * time.Hour,
		"W":  7 * 24 * time.Hour,
		"M":  30 * 24 * time.Hour,
		"y":  365 * 24 * time.Hour,
		"Y":  365 * 24 * time.Hour,
	}
)

// ParseDuration parses a duration string, such as "10s", "-1.5w" or "3Y4M5d".
// In addition to the units supported by time.ParseDuration, it accepts
// "d"="D" (days), "w"="W" (weeks), "M" (30 days) and "y"="Y" (365 days).
func ParseDuration(s string) (time.Duration, error) {
	orig := s
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}

	if s == "0" {
		return 0, nil
	}
	if s == "" {
		return 0, fmt.Errorf("invalid duration '%s'", orig)
	}

	var sum time.Duration
	for s != "" {
		m := durationRx.FindStringSubmatch(s)
		if m == nil {
			return 0, fmt.Errorf("invalid duration '%s'", orig)
		}
		val, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration '%s': %w", orig, err)
		}
		sum += time.Duration(val * float64(unitMap[m[2]]))
		s = s[len(m[0]):]
	}

	if neg {
		sum = -sum
	}

	return sum, nil
}

// FormatDuration formats a duration into a string with friendly units, using
// the same units as ParseDuration, e.g. "10s", "1w2d" or "3Y4M5d". The round
// parameter specifies the smallest unit to include.
func FormatDuration(d time.Duration, round time.Duration) string {
	if round > 0 {
		d = d.Round(round)
	}
	if d == 0 {
		return "0s"
	}

	neg := d < 0
	if neg {
		d = -d
	}

	var sb strings.Builder
	if neg {
		sb.WriteByte('-')
	}

	for _, u := range []struct {
		name string
		dur  time.Duration
	}{
		{"Y", 365 * 24 * time.Hour},
		{"M", 30 * 24 * time.Hour},
		{"w", 7 * 24 * time.Hour},
		{"d", 24 * time.Hour},
		{"h", time.Hour},
		{"m", time.Minute},
		{"s", time.Second},
		{"ms", time.Millisecond},
		{"µs", time.Microsecond},
		{"ns", time.Nanosecond},
	} {
		if round > u.dur {
			break
		}
		if n := d / u.dur; n > 0 {
			fmt.Fprintf(&sb, "%d%s", n, u.name)
			d -= n * u.dur
		}
	}

	return sb.String()
}
