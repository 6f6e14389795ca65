package risk

import (
	"regexp"
	"strconv"
)

var (
	taggedDuration = regexp.MustCompile(`(?i)duration:\s*(\d+)`)
	unitDuration   = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(hours?|hrs?|h|minutes?|mins?|m)\b`)
)

// ExtractDuration finds an activity duration in minutes within free text.
// An explicit "Duration: N" tag wins over "N hours" / "N minutes" phrases.
func ExtractDuration(text string) (int, bool) {
	if m := taggedDuration.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return n, true
		}
	}
	m := unitDuration.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch m[2][0] {
	case 'h', 'H':
		return int(v * 60), true
	default:
		return int(v), true
	}
}
