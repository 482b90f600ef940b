package entry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
)

var durationUnits = []struct {
	suffix byte
	unit   time.Duration
}{
	{'w', week},
	{'d', day},
	{'h', time.Hour},
	{'m', time.Minute},
	{'s', time.Second},
}

// ParseDuration reads durations such as "1h30m", "2d", "-15m" or "1w2d". A
// bare integer is a number of minutes.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing duration")
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if n, err := strconv.Atoi(s); err == nil {
		d := time.Duration(n) * time.Minute
		if neg {
			d = -d
		}
		return d, nil
	}

	var total time.Duration
	rest := strings.ToLower(strings.ReplaceAll(s, " ", ""))
	if rest == "" {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	last := -1
	for rest != "" {
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 || i == len(rest) {
			return 0, fmt.Errorf("invalid duration %q: expected <n><unit>, units w d h m s", s)
		}
		n, err := strconv.Atoi(rest[:i])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		idx := unitIndex(rest[i])
		if idx < 0 {
			return 0, fmt.Errorf("invalid duration %q: unknown unit %q", s, rest[i])
		}
		if idx <= last {
			return 0, fmt.Errorf("invalid duration %q: units out of order", s)
		}
		last = idx
		total += time.Duration(n) * durationUnits[idx].unit
		rest = rest[i+1:]
	}
	if neg {
		total = -total
	}
	return total, nil
}

func unitIndex(c byte) int {
	for i, u := range durationUnits {
		if u.suffix == c {
			return i
		}
	}
	return -1
}

// FormatDuration is the inverse of ParseDuration: largest units first and
// zero parts omitted, "0m" for zero.
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "0m"
	}
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	for _, u := range durationUnits {
		if n := d / u.unit; n > 0 {
			b.WriteString(strconv.FormatInt(int64(n), 10))
			b.WriteByte(u.suffix)
			d -= n * u.unit
		}
	}
	return b.String()
}

// parseDurations reads a comma separated duration list.
func parseDurations(s string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := ParseDuration(part)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("missing duration")
	}
	return out, nil
}

func formatDurations(ds []time.Duration) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = FormatDuration(d)
	}
	return strings.Join(parts, ",")
}
