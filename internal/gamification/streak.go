package gamification

import "time"

// Streak is the daily-activity streak state of a user.
type Streak struct {
	Current      int
	Longest      int
	LastActivity *time.Time
}

// UpdateStreak applies one scored activity at now to prev. Days are
// calendar days in loc; a nil loc means UTC.
//
// Activity on the same day leaves the counters alone, the following day
// extends the streak, and anything later starts over at 1. An activity
// older than the last recorded day is ignored.
func UpdateStreak(prev Streak, now time.Time, loc *time.Location) Streak {
	if loc == nil {
		loc = time.UTC
	}
	next := prev
	at := now

	switch {
	case prev.LastActivity == nil:
		next.Current = 1
		next.LastActivity = &at
	default:
		gap := dayNumber(now, loc) - dayNumber(*prev.LastActivity, loc)
		switch {
		case gap < 0:
			return prev
		case gap == 0:
			if next.Current < 1 {
				next.Current = 1
			}
		case gap == 1:
			next.Current++
		default:
			next.Current = 1
		}
		next.LastActivity = &at
	}

	if next.Current > next.Longest {
		next.Longest = next.Current
	}
	return next
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	return dayNumber(a, loc) == dayNumber(b, loc)
}

// DayKey formats t as a YYYY-MM-DD key in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}

func dayNumber(t time.Time, loc *time.Location) int64 {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}
