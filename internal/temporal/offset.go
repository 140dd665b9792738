package temporal

import (
	"fmt"
	"time"
)

// Offset returns the signed minute offset of tz from UTC at now. It renders
// now as wall-clock time in the zone and diffs it against UTC.
func Offset(tz string, now time.Time) (int, error) {
	loc, err := LoadZone(tz)
	if err != nil {
		return 0, err
	}
	local := now.In(loc)
	wall := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), 0, 0, time.UTC)
	utc := now.UTC().Truncate(time.Minute)
	return int(wall.Sub(utc) / time.Minute), nil
}

// FormatOffset renders minutes as "UTC+05:30".
func FormatOffset(minutes int) string {
	sign := '+'
	if minutes < 0 {
		sign = '-'
		minutes = -minutes
	}
	return fmt.Sprintf("UTC%c%02d:%02d", sign, minutes/60, minutes%60)
}

// FormatIn renders t for a participant in tz, including the zone offset at t.
func FormatIn(t time.Time, tz string) (string, error) {
	loc, err := LoadZone(tz)
	if err != nil {
		return "", err
	}
	off, err := Offset(tz, t)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (%s, %s)", t.In(loc).Format("Monday, January 2, 2006 3:04 PM"), loc.String(), FormatOffset(off)), nil
}
