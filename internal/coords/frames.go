// Package coords converts positions between the coordinate systems that can be
// expressed without a solar-wind or dipole-tilt model: geodetic (GDZ),
// geographic cartesian (GEO), geographic spherical (SPH), radius/geodetic
// latitude/longitude (RLL) and inertial (GEI, via GMST).
//
// Cartesian systems are in Earth radii (EarthRadiusKm). Angles are degrees.
// GSM, GSE, SM and MAG depend on the Sun direction and dipole axis and are
// left to the native library.
package coords

import (
	"errors"
	"fmt"
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/PRBEM/IRBEM/internal/spacetime"
)

// EarthRadiusKm is the Earth radius used as the unit of cartesian positions.
const EarthRadiusKm = 6371.2

// WGS-84 ellipsoid parameters.
const (
	wgs84AKm = 6378.137             // semi-major axis (km)
	wgs84F   = 1.0 / 298.257223563  // flattening
	wgs84E2  = wgs84F * (2 - wgs84F) // first eccentricity squared
)

const deg = math.Pi / 180.0

// ErrUnsupportedSystem is returned for systems this package cannot convert.
var ErrUnsupportedSystem = errors.New("coordinate system not supported")

// Vec is a cartesian position in Earth radii.
type Vec [3]float64

// Norm returns the vector length.
func (v Vec) Norm() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// GDZToGEO converts geodetic altitude (km), latitude and East longitude
// (degrees) to GEO cartesian.
func GDZToGEO(altKm, latDeg, lonDeg float64) Vec {
	lat := latDeg * deg
	lon := lonDeg * deg

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)

	// Radius of curvature in the prime vertical.
	n := wgs84AKm / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return Vec{
		(n + altKm) * cosLat * math.Cos(lon) / EarthRadiusKm,
		(n + altKm) * cosLat * math.Sin(lon) / EarthRadiusKm,
		(n*(1-wgs84E2) + altKm) * sinLat / EarthRadiusKm,
	}
}

// GEOToGDZ converts GEO cartesian to geodetic altitude (km), latitude and East
// longitude (degrees) with Bowring's iteration.
func GEOToGDZ(v Vec) (altKm, latDeg, lonDeg float64) {
	x := v[0] * EarthRadiusKm
	y := v[1] * EarthRadiusKm
	z := v[2] * EarthRadiusKm

	lon := math.Atan2(y, x)
	p := math.Hypot(x, y)
	lat := math.Atan2(z, p*(1-wgs84E2))

	for i := 0; i < 5; i++ {
		sinLat := math.Sin(lat)
		n := wgs84AKm / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		lat = math.Atan2(z+wgs84E2*n*sinLat, p)
	}

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	n := wgs84AKm / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	if math.Abs(cosLat) > 1e-10 {
		altKm = p/cosLat - n
	} else {
		altKm = math.Abs(z)/math.Abs(sinLat) - n*(1-wgs84E2)
	}
	return altKm, lat / deg, lon / deg
}

// SPHToGEO converts geocentric radius (Re), latitude and East longitude to GEO.
func SPHToGEO(r, latDeg, lonDeg float64) Vec {
	lat := latDeg * deg
	lon := lonDeg * deg
	return Vec{
		r * math.Cos(lat) * math.Cos(lon),
		r * math.Cos(lat) * math.Sin(lon),
		r * math.Sin(lat),
	}
}

// GEOToSPH converts GEO to geocentric radius (Re), latitude and East longitude.
func GEOToSPH(v Vec) (r, latDeg, lonDeg float64) {
	r = v.Norm()
	if r == 0 {
		return 0, 0, 0
	}
	return r, math.Asin(v[2]/r) / deg, math.Atan2(v[1], v[0]) / deg
}

// RLLToGEO converts radius (Re), geodetic latitude and East longitude to GEO:
// the point on the geodetic normal through (lat, lon) at distance r from the
// Earth's center.
func RLLToGEO(r, latDeg, lonDeg float64) Vec {
	// |GDZ(h)| grows almost linearly with h; a few Newton steps converge.
	h := r*EarthRadiusKm - wgs84AKm
	for i := 0; i < 8; i++ {
		diff := GDZToGEO(h, latDeg, lonDeg).Norm()*EarthRadiusKm - r*EarthRadiusKm
		if math.Abs(diff) < 1e-9 {
			break
		}
		h -= diff
	}
	return GDZToGEO(h, latDeg, lonDeg)
}

// GEOToRLL converts GEO to radius (Re), geodetic latitude and East longitude.
func GEOToRLL(v Vec) (r, latDeg, lonDeg float64) {
	_, lat, lon := GEOToGDZ(v)
	return v.Norm(), lat, lon
}

// GEIToGEO rotates an inertial position into the Earth-fixed frame.
func GEIToGEO(v Vec, t time.Time) Vec {
	ecf := satellite.ECIToECEF(satellite.Vector3{X: v[0], Y: v[1], Z: v[2]}, GMST(t))
	return Vec{ecf.X, ecf.Y, ecf.Z}
}

// GEOToGEI is the inverse of GEIToGEO: a rotation by -GMST about z.
func GEOToGEI(v Vec, t time.Time) Vec {
	g := GMST(t)
	cosG := math.Cos(g)
	sinG := math.Sin(g)
	return Vec{
		v[0]*cosG - v[1]*sinG,
		v[0]*sinG + v[1]*cosG,
		v[2],
	}
}

// ToGEO converts x from the given system to GEO.
func ToGEO(sys spacetime.CoordSystem, x Vec, t time.Time) (Vec, error) {
	switch sys {
	case spacetime.GEO:
		return x, nil
	case spacetime.GDZ:
		return GDZToGEO(x[0], x[1], x[2]), nil
	case spacetime.SPH:
		return SPHToGEO(x[0], x[1], x[2]), nil
	case spacetime.RLL:
		return RLLToGEO(x[0], x[1], x[2]), nil
	case spacetime.GEI:
		return GEIToGEO(x, t), nil
	}
	return Vec{}, fmt.Errorf("%w: %s", ErrUnsupportedSystem, sys)
}

// FromGEO converts a GEO position to the given system.
func FromGEO(sys spacetime.CoordSystem, v Vec, t time.Time) (Vec, error) {
	switch sys {
	case spacetime.GEO:
		return v, nil
	case spacetime.GDZ:
		alt, lat, lon := GEOToGDZ(v)
		return Vec{alt, lat, lon}, nil
	case spacetime.SPH:
		r, lat, lon := GEOToSPH(v)
		return Vec{r, lat, lon}, nil
	case spacetime.RLL:
		r, lat, lon := GEOToRLL(v)
		return Vec{r, lat, lon}, nil
	case spacetime.GEI:
		return GEOToGEI(v, t), nil
	}
	return Vec{}, fmt.Errorf("%w: %s", ErrUnsupportedSystem, sys)
}

// Transform converts x between two systems through GEO.
func Transform(from, to spacetime.CoordSystem, x Vec, t time.Time) (Vec, error) {
	if from == to {
		return x, nil
	}
	geo, err := ToGEO(from, x, t)
	if err != nil {
		return Vec{}, err
	}
	return FromGEO(to, geo, t)
}
