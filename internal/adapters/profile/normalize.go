package profile

import (
	"regexp"
	"strconv"
	"strings"
)

var countPattern = regexp.MustCompile(`([0-9][0-9.,]*)\s*([kKmMbB]?)`)

// ParseCount normalizes human-formatted counts ("1.2M", "3,456", "12k")
// into an integer. The second return value reports whether a count was
// recognized at all.
func ParseCount(s string) (int64, bool) {
	match := countPattern.FindStringSubmatch(strings.TrimSpace(s))
	if match == nil {
		return 0, false
	}
	digits := strings.ReplaceAll(match[1], ",", "")
	value, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(match[2]) {
	case "k":
		value *= 1_000
	case "m":
		value *= 1_000_000
	case "b":
		value *= 1_000_000_000
	}
	return int64(value), true
}
