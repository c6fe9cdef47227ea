// Package system supplies the wall clock behind job timestamps, report
// generation times and archive paths.
package system

import "time"

// Clock implements brief.Clock. Readings are in UTC so archive day folders
// and the report's "Generated" line do not depend on the host time zone.
type Clock struct{}

// New returns the wall clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
