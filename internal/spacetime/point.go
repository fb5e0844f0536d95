// Package spacetime describes query points (a timestamp plus three coordinates
// in a caller-selected coordinate system) and marshals them into the
// year / day-of-year / seconds-of-day arrays the native library expects.
package spacetime

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ErrEmptyTime is returned when a point is built from an empty time string.
var ErrEmptyTime = errors.New("empty time value")

// Point is a single spacetime location. X1..X3 are interpreted in the
// coordinate system configured on the client that consumes the point.
type Point struct {
	Time time.Time
	X1   float64
	X2   float64
	X3   float64
}

// NewPoint builds a Point from a time value. The time is normalized to UTC.
func NewPoint(t time.Time, x1, x2, x3 float64) Point {
	return Point{Time: t.UTC(), X1: x1, X2: x2, X3: x3}
}

// ParsePoint builds a Point from a time string. Accepts ISO-8601 as well as the
// looser layouts dateutil-style parsers accept ("2015-02-02 06:12:43",
// "Feb 2 2015 06:12:43", ...). Strings without a zone are read as UTC.
func ParsePoint(ts string, x1, x2, x3 float64) (Point, error) {
	t, err := ParseTime(ts)
	if err != nil {
		return Point{}, err
	}
	return Point{Time: t, X1: x1, X2: x2, X3: x3}, nil
}

// ParseTime parses a timestamp string into a UTC time.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrEmptyTime
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// Coords returns the three coordinates as an array.
func (p Point) Coords() [3]float64 {
	return [3]float64{p.X1, p.X2, p.X3}
}

// SecondsOfDay returns the whole seconds elapsed since midnight UTC.
// Sub-second precision is dropped, as the native routines expect.
func SecondsOfDay(t time.Time) float64 {
	t = t.UTC()
	return float64(3600*t.Hour() + 60*t.Minute() + t.Second())
}
