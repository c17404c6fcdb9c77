package domain

import "time"

const (
	MinAnchorDay = 1
	MaxAnchorDay = 28
)

// NextAnchorDate returns local midnight of the next occurrence of anchorDay
// in the tenant's calendar: today when the day-of-month has not passed yet,
// otherwise the following month. Days beyond a month's end clamp to its last
// day. All arithmetic is on tenant-local calendar days; comparing UTC
// midnights misfires around DST shifts.
func NextAnchorDate(now time.Time, anchorDay int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}

	local := now.In(loc)
	year, month, day := local.Date()

	if day > anchorDay {
		month++
	}
	return anchoredDate(year, month, anchorDay, loc)
}

// anchoredDate clamps anchorDay to the month's length and returns its local
// midnight. time.Date normalizes month overflow (13 → January next year).
func anchoredDate(year int, month time.Month, anchorDay int, loc *time.Location) time.Time {
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	if anchorDay > lastDay {
		anchorDay = lastDay
	}
	return time.Date(year, month, anchorDay, 0, 0, 0, 0, loc)
}

// ValidAnchorDay reports whether day is within the range every month has.
func ValidAnchorDay(day int) bool {
	return day >= MinAnchorDay && day <= MaxAnchorDay
}
