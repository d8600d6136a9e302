package agent

import (
	"fmt"
	"time"

	"github.com/rewired-gh/stockagent/internal/models"
)

const defaultIntervalMinutes = 10

// NextRun returns when the rule should run again after now. Interval rules
// repeat every IntervalMinutes; daily rules run at ScheduleTime in the
// rule's timezone, falling back to the local zone when it cannot be loaded.
func NextRun(rule models.WatchRule, now time.Time) time.Time {
	if rule.ScheduleMode == models.ScheduleInterval {
		minutes := rule.IntervalMinutes
		if minutes <= 0 {
			minutes = defaultIntervalMinutes
		}
		return now.Add(time.Duration(minutes) * time.Minute)
	}

	loc, err := time.LoadLocation(rule.Timezone)
	if err != nil || rule.Timezone == "" {
		loc = time.Local
	}
	hour, minute := 16, 10
	if _, err := fmt.Sscanf(rule.ScheduleTime, "%d:%d", &hour, &minute); err != nil {
		hour, minute = 16, 10
	}

	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}
