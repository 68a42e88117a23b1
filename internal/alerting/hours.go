package alerting

import (
	"time"

	"github.com/driftwatch/driftwatch/pkg/detection"
)

// defaultWorkDays applies when a BusinessHours config lists no days.
var defaultWorkDays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
}

// nextWorkingTime returns t itself when t falls inside the business-hours
// window, otherwise the start of the next window. A malformed window
// (start >= end) is treated as always open.
func nextWorkingTime(t time.Time, bh *detection.BusinessHours) time.Time {
	if bh.StartHour >= bh.EndHour {
		return t
	}
	loc := time.UTC
	if bh.Location != "" {
		if l, err := time.LoadLocation(bh.Location); err == nil {
			loc = l
		}
	}
	days := bh.Days
	if len(days) == 0 {
		days = defaultWorkDays
	}

	local := t.In(loc)
	for i := 0; i < 8; i++ {
		day := local.AddDate(0, 0, i)
		if !workDay(day.Weekday(), days) {
			continue
		}
		open := time.Date(day.Year(), day.Month(), day.Day(), bh.StartHour, 0, 0, 0, loc)
		shut := time.Date(day.Year(), day.Month(), day.Day(), bh.EndHour, 0, 0, 0, loc)
		if i == 0 && !local.Before(open) && local.Before(shut) {
			return t
		}
		if local.Before(open) || i > 0 {
			return open
		}
	}
	return t
}

func workDay(d time.Weekday, days []time.Weekday) bool {
	for _, w := range days {
		if w == d {
			return true
		}
	}
	return false
}
