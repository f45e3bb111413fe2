package utils

import "time"

// UnixMillis converts t to milliseconds since the epoch, the unit used on the
// wire for timestamps and TTLs.
func UnixMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromUnixMillis is the inverse of UnixMillis. Zero maps to the zero time.
func FromUnixMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// DurationMillis converts d to whole milliseconds.
func DurationMillis(d time.Duration) int64 {
	return d.Milliseconds()
}

// IsExpired reports whether deadline has passed at now. A zero deadline
// never expires.
func IsExpired(deadline, now time.Time) bool {
	return !deadline.IsZero() && now.After(deadline)
}
