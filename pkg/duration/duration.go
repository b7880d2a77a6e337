// Package duration parses and formats durations with day and week units
// on top of the standard library's hour-and-below syntax.
package duration

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Extended units. Days and weeks are fixed-length; calendar drift does not
// matter for retention windows and pause timers.
const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

// Parse converts a duration string to a time.Duration. It accepts
// everything time.ParseDuration accepts plus "d" (days) and "w" (weeks),
// so "2w", "1d12h" and "90m" are all valid.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	negative := strings.HasPrefix(s, "-")
	if negative {
		s = s[1:]
	}

	var total time.Duration
	rest := s
	for rest != "" {
		i := 0
		for i < len(rest) && (unicode.IsDigit(rune(rest[i])) || rest[i] == '.') {
			i++
		}
		if i == 0 || i == len(rest) {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		value, err := strconv.ParseFloat(rest[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}

		j := i
		for j < len(rest) && !unicode.IsDigit(rune(rest[j])) && rest[j] != '.' {
			j++
		}
		unit := rest[i:j]
		rest = rest[j:]

		switch unit {
		case "d":
			total += time.Duration(value * float64(Day))
		case "w":
			total += time.Duration(value * float64(Week))
		default:
			part, err := time.ParseDuration(strconv.FormatFloat(value, 'f', -1, 64) + unit)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q: unknown unit %q", s, unit)
			}
			total += part
		}
	}

	if negative {
		total = -total
	}
	return total, nil
}

// MustParse is like Parse but panics on error. Use only for constants.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format renders a duration using the largest applicable units, omitting
// zero components: 36h becomes "1d12h", 5m becomes "5m".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	negative := d < 0
	if negative {
		d = -d
	}

	var b strings.Builder
	for _, unit := range []struct {
		d    time.Duration
		name string
	}{
		{Week, "w"},
		{Day, "d"},
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
	} {
		if n := d / unit.d; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, unit.name)
			d -= n * unit.d
		}
	}
	// Sub-second remainders render with the stdlib formatting.
	if d > 0 {
		b.WriteString(d.String())
	}

	if negative {
		return "-" + b.String()
	}
	return b.String()
}
