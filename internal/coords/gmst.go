package coords

import (
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// unixEpochJD is the Julian Date of 1970-01-01T00:00:00Z.
const unixEpochJD = 2440587.5

// JulianDate returns the Julian Date of t. Leap seconds are ignored, as in
// UT1 ~ UTC.
func JulianDate(t time.Time) float64 {
	return unixEpochJD + float64(t.Unix())/86400 + float64(t.Nanosecond())/86400e9
}

// GMST returns Greenwich Mean Sidereal Time at t in radians, in [0, 2π).
func GMST(t time.Time) float64 {
	g := math.Mod(satellite.ThetaG_JD(JulianDate(t)), 2*math.Pi)
	if g < 0 {
		g += 2 * math.Pi
	}
	return g
}
