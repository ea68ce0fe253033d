package alarm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Match "7:05", "07:05", "23:59"
var timePattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ParseTime parses a "HH:MM" wall-clock time into hour and minute.
func ParseTime(s string) (hour, minute int, err error) {
	matches := timePattern.FindStringSubmatch(strings.TrimSpace(s))
	if matches == nil {
		return 0, 0, fmt.Errorf("invalid time of day: %q", s)
	}

	hour, _ = strconv.Atoi(matches[1])
	minute, _ = strconv.Atoi(matches[2])

	if hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour: %d", hour)
	}
	if minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute: %d", minute)
	}

	return hour, minute, nil
}

// FormatTime renders hour and minute as a zero-padded "HH:MM" string.
func FormatTime(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}
