package bounce

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"

	"github.com/PRBEM/IRBEM/internal/irbem"
)

// minSamples is the fewest samples a not-a-knot cubic spline can be fit to.
const minSamples = 4

// Interpolant holds cubic splines of a traced field line over the arclength
// index s in [0, N-1]: the field shifted by the mirror threshold, and the
// three GEO coordinates.
type Interpolant struct {
	n       int
	mirrorB float64
	fb      interp.NotAKnotCubic
	fx      interp.NotAKnotCubic
	fy      interp.NotAKnotCubic
	fz      interp.NotAKnotCubic
}

// MirrorField returns the field magnitude at the mirror points of a particle
// with pitch angle alphaDeg at a point where the field is inputB.
func MirrorField(inputB, alphaDeg float64) float64 {
	s := math.Sin(alphaDeg * math.Pi / 180)
	return inputB / (s * s)
}

// NewInterpolant fits the splines to line. inputB is |B| at the query point
// and alphaDeg the local pitch angle.
func NewInterpolant(line irbem.FieldLine, inputB, alphaDeg float64) (*Interpolant, error) {
	if line.Open {
		return nil, irbem.ErrOpenFieldLine
	}
	n := len(line.Points)
	switch {
	case n != len(line.B):
		return nil, fmt.Errorf("%w: %d positions but %d field values", irbem.ErrInvalidInput, n, len(line.B))
	case n < minSamples:
		return nil, fmt.Errorf("%w: field line has %d samples, need at least %d", irbem.ErrInvalidInput, n, minSamples)
	case !(alphaDeg > 0 && alphaDeg < 180):
		return nil, fmt.Errorf("%w: pitch angle %v outside (0, 180)", irbem.ErrInvalidInput, alphaDeg)
	case !finite(inputB) || inputB <= 0:
		return nil, fmt.Errorf("%w: local field %v", irbem.ErrInvalidInput, inputB)
	}

	mirrorB := MirrorField(inputB, alphaDeg)
	if !finite(mirrorB) {
		return nil, fmt.Errorf("%w: mirror field is not finite for pitch angle %v", irbem.ErrInvalidInput, alphaDeg)
	}

	s := make([]float64, n)
	fb := make([]float64, n)
	x := make([]float64, n)
	y := make([]float64, n)
	z := make([]float64, n)
	for i := range s {
		p := line.Points[i]
		if !finite(line.B[i]) || !finite(p[0]) || !finite(p[1]) || !finite(p[2]) {
			return nil, fmt.Errorf("%w: non-finite sample %d on field line", irbem.ErrInvalidInput, i)
		}
		s[i] = float64(i)
		fb[i] = line.B[i] - mirrorB
		x[i], y[i], z[i] = p[0], p[1], p[2]
	}

	ip := &Interpolant{n: n, mirrorB: mirrorB}
	for _, fit := range []struct {
		spline *interp.NotAKnotCubic
		ys     []float64
	}{
		{&ip.fb, fb}, {&ip.fx, x}, {&ip.fy, y}, {&ip.fz, z},
	} {
		if err := fit.spline.Fit(s, fit.ys); err != nil {
			return nil, fmt.Errorf("%w: fitting field line spline: %v", irbem.ErrInvalidInput, err)
		}
	}
	return ip, nil
}

// Len returns the number of native samples N.
func (ip *Interpolant) Len() int { return ip.n }

// MirrorB returns the mirror threshold inputB / sin^2(alpha).
func (ip *Interpolant) MirrorB() float64 { return ip.mirrorB }

// FB returns |B|(s) minus the mirror threshold; its zeros are the mirror
// points.
func (ip *Interpolant) FB(s float64) float64 { return ip.fb.Predict(s) }

// Position returns the interpolated GEO position (Re) at s.
func (ip *Interpolant) Position(s float64) [3]float64 {
	return [3]float64{ip.fx.Predict(s), ip.fy.Predict(s), ip.fz.Predict(s)}
}

// Z returns the interpolated GEO z coordinate at s.
func (ip *Interpolant) Z(s float64) float64 { return ip.fz.Predict(s) }

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
