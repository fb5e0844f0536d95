// Package dipole implements irbem.Backend for a centered dipole aligned with
// the GEO z axis. It needs no native library and serves as the reference
// field for tests and for running the service without IRBEM-LIB installed.
//
// The external model, options and driver inputs are ignored: a dipole has no
// external sources.
package dipole

import (
	"fmt"
	"math"
	"time"

	"github.com/PRBEM/IRBEM/internal/coords"
	"github.com/PRBEM/IRBEM/internal/irbem"
	"github.com/PRBEM/IRBEM/internal/spacetime"
)

// Defaults.
const (
	DefaultB0     = 30000.0 // equatorial surface field (nT)
	DefaultMaxL   = 15.0    // lines beyond this are reported open
	DefaultPoints = 1001    // samples per traced line
	DefaultNTime  = 100000
)

// Backend is a centered-dipole field model.
type Backend struct {
	b0     float64
	maxL   float64
	points int
	ntime  int32
}

// Option configures a Backend.
type Option func(*Backend)

// WithB0 sets the equatorial surface field in nT.
func WithB0(b0 float64) Option {
	return func(b *Backend) { b.b0 = b0 }
}

// WithMaxL sets the L above which field lines are reported open.
func WithMaxL(l float64) Option {
	return func(b *Backend) { b.maxL = l }
}

// WithPoints sets the number of samples per traced field line. Even values
// are rounded up so the equator falls on a sample.
func WithPoints(n int) Option {
	return func(b *Backend) { b.points = n }
}

// New returns a dipole backend.
func New(opts ...Option) *Backend {
	b := &Backend{b0: DefaultB0, maxL: DefaultMaxL, points: DefaultPoints, ntime: DefaultNTime}
	for _, o := range opts {
		o(b)
	}
	if b.points < 5 {
		b.points = 5
	}
	if b.points%2 == 0 {
		b.points++
	}
	if b.points > irbem.MaxTracePoints {
		b.points = irbem.MaxTracePoints - 1
	}
	return b
}

// Name identifies the backend in logs.
func (b *Backend) Name() string { return "dipole" }

// NTimeMax returns the batch limit reported to clients.
func (b *Backend) NTimeMax() int32 { return b.ntime }

// Close is a no-op.
func (b *Backend) Close() error { return nil }

// shell describes the dipole field line through a point.
type shell struct {
	L   float64 // equatorial crossing distance (Re)
	lat float64 // magnetic latitude of the point (rad)
	lon float64 // longitude of the line's meridian (rad)
}

func shellOf(v coords.Vec) shell {
	r := v.Norm()
	s := v[2] / r
	c2 := 1 - s*s
	return shell{L: r / c2, lat: math.Asin(s), lon: math.Atan2(v[1], v[0])}
}

// lineB is |B| on the line of the given L at latitude lat.
func (b *Backend) lineB(L, lat float64) float64 {
	s := math.Sin(lat)
	c := math.Cos(lat)
	c3 := c * c * c
	return b.b0 / (L * L * L) * math.Sqrt(1+3*s*s) / (c3 * c3)
}

// linePoint is the GEO position on the line at latitude lat.
func linePoint(L, lat, lon float64) coords.Vec {
	c := math.Cos(lat)
	r := L * c * c
	return coords.Vec{r * c * math.Cos(lon), r * c * math.Sin(lon), r * math.Sin(lat)}
}

// field returns the GEO field vector and magnitude at v. The moment points
// along -z.
func (b *Backend) field(v coords.Vec) ([3]float64, float64) {
	r := v.Norm()
	if r == 0 {
		return [3]float64{math.NaN(), math.NaN(), math.NaN()}, math.NaN()
	}
	s := v[2] / r
	k := b.b0 / (r * r * r)
	vec := [3]float64{
		-3 * k * s * v[0] / r,
		-3 * k * s * v[1] / r,
		k * (1 - 3*s*s),
	}
	return vec, k * math.Sqrt(1+3*s*s)
}

func (b *Backend) open(sh shell) bool {
	return math.IsNaN(sh.L) || math.IsInf(sh.L, 0) || sh.L > b.maxL
}

// footLat is the latitude where the line of the given L reaches radius r0.
func footLat(L, r0 float64) (float64, bool) {
	if L < r0 {
		return 0, false
	}
	return math.Acos(math.Sqrt(r0 / L)), true
}

// mirrorLat is the absolute latitude where |B| on the line reaches bm.
func (b *Backend) mirrorLat(L, bm float64) float64 {
	lo, hi := 0.0, math.Pi/2-1e-9
	if b.lineB(L, lo) >= bm {
		return 0
	}
	for i := 0; i < 100; i++ {
		mid := 0.5 * (lo + hi)
		if b.lineB(L, mid) < bm {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi)
}

// secondInvariant integrates sqrt(1 - B/Bm) ds (Re) between the mirror
// points at +-latM with the midpoint rule.
func (b *Backend) secondInvariant(L, latM float64) float64 {
	latM = math.Abs(latM)
	if latM == 0 {
		return 0
	}
	bm := b.lineB(L, latM)
	const steps = 2000
	h := 2 * latM / steps
	var sum float64
	for k := 0; k < steps; k++ {
		lat := -latM + (float64(k)+0.5)*h
		s := math.Sin(lat)
		ds := L * math.Cos(lat) * math.Sqrt(1+3*s*s) * h
		sum += math.Sqrt(math.Max(0, 1-b.lineB(L, lat)/bm)) * ds
	}
	return sum
}

// mlt approximates magnetic local time as local solar time: the dipole
// axis is the rotation axis.
func mlt(ut, lonRad float64) float64 {
	m := math.Mod(ut/3600+lonRad/(math.Pi/12), 24)
	if m < 0 {
		m += 24
	}
	return m
}

func locTime(iyear, idoy int32, ut float64) time.Time {
	return time.Date(int(iyear), 1, int(idoy), 0, 0, 0, 0, time.UTC).
		Add(time.Duration(ut * float64(time.Second)))
}

func toGEO(sys int32, loc irbem.TimeLoc) (coords.Vec, error) {
	v, err := coords.ToGEO(spacetime.CoordSystem(sys), coords.Vec(loc.X), locTime(loc.IYear, loc.IDoy, loc.UT))
	if err != nil {
		return coords.Vec{}, fmt.Errorf("%w: %w", irbem.ErrUnsupported, err)
	}
	return v, nil
}

// MakeLstar fills L, L* (equal to L for a dipole), Blocal, Bmin, I and MLT.
func (b *Backend) MakeLstar(c *irbem.LstarCall) error {
	for i := 0; i < int(c.NTime); i++ {
		loc := irbem.TimeLoc{IYear: c.IYear[i], IDoy: c.IDoy[i], UT: c.UT[i], X: [3]float64{c.X1[i], c.X2[i], c.X3[i]}}
		v, err := toGEO(c.Model.Sysaxes, loc)
		if err != nil {
			return err
		}
		_, c.Blocal[i] = b.field(v)
		c.MLT[i] = mlt(loc.UT, math.Atan2(v[1], v[0]))

		sh := shellOf(v)
		if b.open(sh) {
			continue
		}
		c.Lm[i] = sh.L
		c.Lstar[i] = sh.L
		c.Bmin[i] = b.lineB(sh.L, 0)
		c.XJ[i] = b.secondInvariant(sh.L, sh.lat)
	}
	return nil
}

// TraceFieldLine samples the line uniformly in latitude from the northern
// foot at R0 to the southern foot.
func (b *Backend) TraceFieldLine(c *irbem.TraceCall) error {
	v, err := toGEO(c.Model.Sysaxes, c.Loc)
	if err != nil {
		return err
	}
	sh := shellOf(v)
	if b.open(sh) {
		c.NPosit = irbem.OpenLineCount
		return nil
	}
	latF, ok := footLat(sh.L, c.R0)
	if !ok {
		c.NPosit = irbem.OpenLineCount
		return nil
	}

	n := b.points
	for i := 0; i < n; i++ {
		lat := latF - 2*latF*float64(i)/float64(n-1)
		c.Posit[i] = linePoint(sh.L, lat, sh.lon)
		c.Blocal[i] = b.lineB(sh.L, lat)
	}
	c.NPosit = int32(n)
	c.Lm = sh.L
	c.Bmin = b.lineB(sh.L, 0)
	c.XJ = b.secondInvariant(sh.L, sh.lat)
	return nil
}

// FindMirrorPoint returns the mirror point in the hemisphere of the query
// point (northern for points on the equator).
func (b *Backend) FindMirrorPoint(c *irbem.MirrorCall) error {
	v, err := toGEO(c.Model.Sysaxes, c.Loc)
	if err != nil {
		return err
	}
	sh := shellOf(v)
	if b.open(sh) {
		return nil
	}
	_, blocal := b.field(v)
	sinA := math.Sin(c.Alpha * math.Pi / 180)
	bm := blocal / (sinA * sinA)

	lat := b.mirrorLat(sh.L, bm)
	if sh.lat < 0 {
		lat = -lat
	}
	c.Blocal = bm
	c.Bmin = b.lineB(sh.L, 0)
	c.Posit = linePoint(sh.L, lat, sh.lon)
	return nil
}

// FindFootPoint finds where the line crosses geodetic altitude StopAlt.
func (b *Backend) FindFootPoint(c *irbem.FootCall) error {
	v, err := toGEO(c.Model.Sysaxes, c.Loc)
	if err != nil {
		return err
	}
	sh := shellOf(v)
	if b.open(sh) {
		return nil
	}

	sign := 1.0
	switch irbem.Hemisphere(c.Hemi) {
	case irbem.HemiNorth:
	case irbem.HemiSouth:
		sign = -1
	case irbem.HemiSame:
		if sh.lat < 0 {
			sign = -1
		}
	case irbem.HemiOpposite:
		if sh.lat >= 0 {
			sign = -1
		}
	default:
		return fmt.Errorf("%w: hemisphere flag %d", irbem.ErrInvalidInput, c.Hemi)
	}

	alt := func(lat float64) float64 {
		a, _, _ := coords.GEOToGDZ(linePoint(sh.L, sign*lat, sh.lon))
		return a
	}
	lo, hi := 0.0, math.Pi/2-1e-6
	if alt(lo) < c.StopAlt || alt(hi) > c.StopAlt {
		return nil
	}
	for i := 0; i < 100; i++ {
		mid := 0.5 * (lo + hi)
		if alt(mid) > c.StopAlt {
			lo = mid
		} else {
			hi = mid
		}
	}

	foot := linePoint(sh.L, sign*0.5*(lo+hi), sh.lon)
	a, lat, lon := coords.GEOToGDZ(foot)
	vec, mag := b.field(foot)
	c.XFoot = [3]float64{a, lat, lon}
	c.BFoot = vec
	c.BFootMag = [3]float64{mag, mag, mag}
	return nil
}

// FindMagEquator returns the equatorial crossing of the line.
func (b *Backend) FindMagEquator(c *irbem.MagEquatorCall) error {
	v, err := toGEO(c.Model.Sysaxes, c.Loc)
	if err != nil {
		return err
	}
	sh := shellOf(v)
	if b.open(sh) {
		return nil
	}
	c.Bmin = b.lineB(sh.L, 0)
	c.XGEO = linePoint(sh.L, 0, sh.lon)
	return nil
}

// GetFieldMulti fills the GEO field vector at each point.
func (b *Backend) GetFieldMulti(c *irbem.FieldMultiCall) error {
	for i := 0; i < int(c.NTime); i++ {
		loc := irbem.TimeLoc{IYear: c.IYear[i], IDoy: c.IDoy[i], UT: c.UT[i], X: [3]float64{c.X1[i], c.X2[i], c.X3[i]}}
		v, err := toGEO(c.Model.Sysaxes, loc)
		if err != nil {
			return err
		}
		c.BGEO[i], c.Bl[i] = b.field(v)
	}
	return nil
}

// GetMLT computes local solar time at the GEO position.
func (b *Backend) GetMLT(c *irbem.MLTCall) error {
	c.MLT = mlt(c.Loc.UT, math.Atan2(c.Loc.X[1], c.Loc.X[0]))
	return nil
}

// DriftShell traces the shell's field lines at irbem.DriftShellLines evenly
// spaced longitudes. Every line of a dipole shell has the same L.
func (b *Backend) DriftShell(c *irbem.DriftShellCall) error {
	v, err := toGEO(c.Model.Sysaxes, c.Loc)
	if err != nil {
		return err
	}
	sh := shellOf(v)
	if b.open(sh) {
		return nil
	}
	latF, ok := footLat(sh.L, 1)
	if !ok {
		return nil
	}

	n := b.points
	if n > irbem.DriftShellPoints {
		n = irbem.DriftShellPoints - 1
	}
	for k := 0; k < irbem.DriftShellLines; k++ {
		lon := sh.lon + 2*math.Pi*float64(k)/irbem.DriftShellLines
		for i := 0; i < n; i++ {
			lat := latF - 2*latF*float64(i)/float64(n-1)
			c.Posit[k][i] = linePoint(sh.L, lat, lon)
			c.Blocal[k][i] = b.lineB(sh.L, lat)
		}
		c.NPosit[k] = int64(n)
	}
	c.Lm = sh.L
	c.Lstar = sh.L
	c.Bmin = b.lineB(sh.L, 0)
	c.XJ = b.secondInvariant(sh.L, sh.lat)
	return nil
}

// CoordTrans converts among the systems that need no Sun or dipole-tilt
// model (GDZ, GEO, GEI, SPH, RLL).
func (b *Backend) CoordTrans(c *irbem.CoordTransCall) error {
	from := spacetime.CoordSystem(c.SysIn)
	to := spacetime.CoordSystem(c.SysOut)
	for i := 0; i < int(c.NTime); i++ {
		out, err := coords.Transform(from, to, coords.Vec(c.PosIn[i]), locTime(c.IYear[i], c.IDoy[i], c.UT[i]))
		if err != nil {
			return fmt.Errorf("%w: %w", irbem.ErrUnsupported, err)
		}
		c.PosOut[i] = out
	}
	return nil
}
