package lifecycle

import (
	"strconv"
	"strings"
	"time"

	"github.com/rocicorp/zero-ivm/internal/types"
)

// Forever is the sentinel duration meaning "retain indefinitely"
// (spec §4.6: "forever" or any negative number).
const Forever = time.Duration(-1)

// ParseTTL normalizes a TTL surface value -- a duration string in the
// `Ns|Nm|Nh|Nd|Ny` grammar (not Go's time.ParseDuration syntax),
// "forever", "none", a time.Duration, or a raw int, int64 or float64
// number of milliseconds -- into a time.Duration, with Forever as the
// indefinite-retention sentinel and 0 meaning "release immediately".
func ParseTTL(v any) (time.Duration, error) {
	switch t := v.(type) {
	case time.Duration:
		return normalizeDuration(t), nil
	case int:
		if t < 0 {
			return Forever, nil
		}
		return time.Duration(t) * time.Millisecond, nil
	case int64:
		if t < 0 {
			return Forever, nil
		}
		return time.Duration(t) * time.Millisecond, nil
	case float64:
		if t < 0 {
			return Forever, nil
		}
		return time.Duration(t * float64(time.Millisecond)), nil
	case string:
		return parseTTLString(t)
	default:
		return 0, types.NewBuilderError("unsupported TTL value")
	}
}

func normalizeDuration(d time.Duration) time.Duration {
	if d < 0 {
		return Forever
	}
	return d
}

func parseTTLString(s string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forever":
		return Forever, nil
	case "none":
		return 0, nil
	}

	if len(s) < 2 {
		return 0, types.NewBuilderError("malformed TTL: " + s)
	}
	unit := s[len(s)-1]
	numPart := s[:len(s)-1]
	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, types.NewBuilderError("malformed TTL: " + s)
	}
	if n < 0 {
		return Forever, nil
	}

	var unitDur time.Duration
	switch unit {
	case 's':
		unitDur = time.Second
	case 'm':
		unitDur = time.Minute
	case 'h':
		unitDur = time.Hour
	case 'd':
		unitDur = 24 * time.Hour
	case 'y':
		unitDur = 365 * 24 * time.Hour
	default:
		return 0, types.NewBuilderError("malformed TTL unit in: " + s)
	}
	return time.Duration(n * float64(unitDur)), nil
}

// maxTTL returns the larger of a and b, with Forever dominating any
// finite value (spec §4.6: "effective TTL of a query is the maximum
// over live holders").
func maxTTL(a, b time.Duration) time.Duration {
	if a == Forever || b == Forever {
		return Forever
	}
	if a > b {
		return a
	}
	return b
}
