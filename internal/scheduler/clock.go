package scheduler

import "time"

// Clock supplies the current time. Everything that reads "now" goes through
// a Clock so tests can pin it.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC at second precision, matching
// what the store persists.
type SystemClock struct{}

// Now returns the current UTC time truncated to the second.
func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
