package heartbeat

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseInterval converts an interval spec from the registration boundary into
// a duration. Accepted forms:
//   - a bare number: seconds ("3600", "90.5")
//   - compound day/hour/minute/second shorthand: "1d12h", "2h30m", "45s"
//
// The result is truncated to whole seconds; negative specs are rejected.
func ParseInterval(spec string) (time.Duration, error) {
	s := strings.TrimSpace(strings.ToLower(spec))
	if s == "" {
		return 0, fmt.Errorf("empty interval")
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative interval %q", spec)
		}
		return time.Duration(secs) * time.Second, nil
	}
	var total time.Duration
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9' || r == '.':
			num += string(r)
		case r == 'd' || r == 'h' || r == 'm' || r == 's':
			if num == "" {
				return 0, fmt.Errorf("malformed interval %q", spec)
			}
			v, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("malformed interval %q: %w", spec, err)
			}
			unit := map[rune]time.Duration{
				'd': 24 * time.Hour, 'h': time.Hour, 'm': time.Minute, 's': time.Second,
			}[r]
			total += time.Duration(v * float64(unit))
			num = ""
		default:
			return 0, fmt.Errorf("malformed interval %q", spec)
		}
	}
	if num != "" {
		return 0, fmt.Errorf("malformed interval %q: trailing %q", spec, num)
	}
	return total.Truncate(time.Second), nil
}

// FormatDelta renders a duration as the compact "NdHH:MM" display form used
// in status rows. The sign is dropped; callers carry early/late separately.
func FormatDelta(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	days := int(d / (24 * time.Hour))
	rem := d % (24 * time.Hour)
	return fmt.Sprintf("%dd%02d:%02d", days, int(rem/time.Hour), int(rem%time.Hour/time.Minute))
}

// FormatInterval renders a raw interval for processes that never reported,
// spelled out so the expected cadence is obvious at a glance.
func FormatInterval(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("interval=%dd%dh%dm%ds",
		secs/(3600*24), secs%(3600*24)/3600, secs%3600/60, secs%60)
}
