package market

import "time"

// Session is the regular trading window on the virtual clock.
type Session struct {
	OpenMinute  int
	CloseMinute int
}

// DefaultSession is 09:30-16:00 on weekdays.
func DefaultSession() Session {
	return Session{OpenMinute: 9*60 + 30, CloseMinute: 16 * 60}
}

// IsOpen reports whether t falls inside the session.
func (s Session) IsOpen(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	return minute >= s.OpenMinute && minute < s.CloseMinute
}
