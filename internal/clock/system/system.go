// Package system provides a real clock implementation.
package system

import "time"

// Clock implements car.Clock using time.Now. Calendar days are cut in loc.
type Clock struct {
	loc *time.Location
}

// New creates a Clock whose Today is evaluated in loc. A nil loc means UTC.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Today returns midnight of the current calendar day in the clock's location.
func (c Clock) Today() time.Time {
	loc := c.loc
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := time.Now().In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
