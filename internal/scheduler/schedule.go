package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/domainlink/linkauditor/internal/linkaudit"
)

// scheduleFor maps a SheetInterval to the cron.Schedule that computes
// its next fire time. manual returns ok=false and never arms.
func scheduleFor(interval linkaudit.SheetInterval) (cron.Schedule, bool) {
	switch interval {
	case linkaudit.Interval5m:
		return cron.ConstantDelaySchedule{Delay: 5 * time.Minute}, true
	case linkaudit.Interval30m:
		return cron.ConstantDelaySchedule{Delay: 30 * time.Minute}, true
	case linkaudit.Interval1h:
		return cron.ConstantDelaySchedule{Delay: time.Hour}, true
	case linkaudit.Interval4h:
		return cron.ConstantDelaySchedule{Delay: 4 * time.Hour}, true
	case linkaudit.Interval8h:
		return cron.ConstantDelaySchedule{Delay: 8 * time.Hour}, true
	case linkaudit.Interval12h:
		return cron.ConstantDelaySchedule{Delay: 12 * time.Hour}, true
	case linkaudit.Interval1d:
		return cron.ConstantDelaySchedule{Delay: 24 * time.Hour}, true
	case linkaudit.Interval3d:
		return cron.ConstantDelaySchedule{Delay: 72 * time.Hour}, true
	case linkaudit.Interval1w:
		return cron.ConstantDelaySchedule{Delay: 7 * 24 * time.Hour}, true
	case linkaudit.Interval1M:
		return monthlySchedule{}, true
	default:
		return nil, false
	}
}

// monthlySchedule advances the calendar month field, clamping the day
// to the last day of the target month when the source day doesn't
// exist there (e.g. Jan 31 -> Feb 28/29).
type monthlySchedule struct{}

func (monthlySchedule) Next(t time.Time) time.Time {
	y, m, d := t.Date()
	lastDayOfTarget := time.Date(y, m+2, 0, 0, 0, 0, 0, t.Location()).Day()
	if d > lastDayOfTarget {
		d = lastDayOfTarget
	}
	return time.Date(y, m+1, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
