package spacetime

import (
	"fmt"
	"strconv"
	"strings"
)

// CoordSystem identifies a coordinate system by the integer the native
// library uses for its sysaxes arguments.
type CoordSystem int32

const (
	GDZ CoordSystem = iota // geodetic: altitude (km), latitude, East longitude (deg)
	GEO                    // geographic cartesian (Re)
	GSM                    // geocentric solar magnetospheric cartesian (Re)
	GSE                    // geocentric solar ecliptic cartesian (Re)
	SM                     // solar magnetic cartesian (Re)
	GEI                    // geocentric equatorial inertial cartesian (Re)
	MAG                    // geomagnetic cartesian (Re)
	SPH                    // geographic spherical: r (Re), latitude, East longitude (deg)
	RLL                    // r (Re), geodetic latitude, East longitude (deg)
)

var coordSystemNames = [...]string{"GDZ", "GEO", "GSM", "GSE", "SM", "GEI", "MAG", "SPH", "RLL"}

// String returns the three-letter name of the coordinate system.
func (c CoordSystem) String() string {
	if !c.Valid() {
		return "CoordSystem(" + strconv.Itoa(int(c)) + ")"
	}
	return coordSystemNames[c]
}

// Valid reports whether c is one of the known systems.
func (c CoordSystem) Valid() bool {
	return c >= GDZ && c <= RLL
}

// Cartesian reports whether the system's coordinates are x, y, z in Re.
func (c CoordSystem) Cartesian() bool {
	switch c {
	case GEO, GSM, GSE, SM, GEI, MAG:
		return true
	}
	return false
}

// ParseCoordSystem accepts a case-insensitive name ("gdz", "GEO") or the
// integer id ("0", "1").
func ParseCoordSystem(s string) (CoordSystem, error) {
	s = strings.TrimSpace(s)
	for i, name := range coordSystemNames {
		if strings.EqualFold(s, name) {
			return CoordSystem(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil {
		c := CoordSystem(n)
		if c.Valid() {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown coordinate system %q: choose from GDZ, GEO, GSM, GSE, SM, GEI, MAG, SPH, RLL", s)
}
