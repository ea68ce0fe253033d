package scheduler

import "fmt"

// DomainToCenterWeekday converts an alarm repeat day (1=Monday ... 7=Sunday)
// to the notification center's weekday (1=Sunday ... 7=Saturday).
func DomainToCenterWeekday(d int) int {
	if d == 7 {
		return 1
	}
	return d + 1
}

// CenterToDomainWeekday is the inverse of DomainToCenterWeekday.
func CenterToDomainWeekday(w int) int {
	if w == 1 {
		return 7
	}
	return w - 1
}

// TriggerID returns the trigger id of an alarm on a repeat day.
func TriggerID(alarmID string, day int) string {
	return fmt.Sprintf("%s_%d", alarmID, day)
}

// TriggerIDs returns the trigger ids an alarm can own, one per weekday.
func TriggerIDs(alarmID string) []string {
	ids := make([]string, 0, 7)
	for d := 1; d <= 7; d++ {
		ids = append(ids, TriggerID(alarmID, d))
	}
	return ids
}
