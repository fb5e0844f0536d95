package bounce

import "math"

// Physical constants.
const (
	SpeedOfLight  = 2.998e8 // m/s
	EarthRadiusM  = 6.371e6 // path-length scale (m per Re)
	EarthRadiusKm = 6371.0  // altitude scale (km per Re)

	// ElectronRestEnergy is the default rest energy in keV.
	ElectronRestEnergy = 511.0
)

// Gamma returns the Lorentz factor of a particle with kinetic energy e and
// rest energy erest (same units).
func Gamma(e, erest float64) float64 {
	return e/erest + 1
}

// Beta returns the particle speed as a fraction of the speed of light.
func Beta(e, erest float64) float64 {
	g := Gamma(e, erest)
	return math.Sqrt(1 - 1/(g*g))
}

// VParallel returns the speed along the field (m/s) of a particle with
// kinetic energy e at a point where the field is b, given the mirror field
// bm. It is zero at the mirror point and NaN beyond it (|b/bm| > 1).
func VParallel(e, bm, b, erest float64) float64 {
	ratio := math.Abs(b / bm)
	if ratio > 1 {
		return math.NaN()
	}
	return SpeedOfLight * Beta(e, erest) * math.Sqrt(1-ratio)
}
