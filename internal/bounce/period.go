package bounce

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/PRBEM/IRBEM/internal/irbem"
)

// ErrMirrorBelowReferenceSurface is returned when the field never reaches
// the mirror threshold between the query point and a foot of the traced
// line: the particle mirrors below the reference radius. Lower the
// reference radius or the pitch angle and retry.
var ErrMirrorBelowReferenceSurface = errors.New("mirror point below reference surface")

// BouncePoints are the arclength indices of the two mirror points. Start
// lies in the half of the line where the trace begins.
type BouncePoints struct {
	Start float64
	End   float64
}

// AccuracyWarning is attached to a result whose path was resampled with
// fewer points than the native trace holds between the mirror points.
type AccuracyWarning struct {
	ResampleCount int
	NativeSamples int
}

func (w AccuracyWarning) String() string {
	return fmt.Sprintf("resampling with %d points, fewer than the %d native samples between the mirror points: the bounce period may be inaccurate",
		w.ResampleCount, w.NativeSamples)
}

// FindBouncePoints locates the zeros of FB in [0, N/2] and [N/2, N-1].
func FindBouncePoints(ip *Interpolant) (BouncePoints, error) {
	half := float64(ip.Len()) / 2
	last := float64(ip.Len() - 1)

	start, err := Brent(ip.FB, 0, half, DefaultXTol, DefaultRTol, DefaultMaxIter)
	if err != nil {
		return BouncePoints{}, bracketErr(ip, "first", 0, half, err)
	}
	end, err := Brent(ip.FB, half, last, DefaultXTol, DefaultRTol, DefaultMaxIter)
	if err != nil {
		return BouncePoints{}, bracketErr(ip, "second", half, last, err)
	}
	return BouncePoints{Start: start, End: end}, nil
}

// bracketErr explains a half with no crossing. |B| above the threshold at
// both ends means the particle mirrors at the field minimum (90 degrees on
// the magnetic equator) and has no bounce path; otherwise the foot of the
// line is still below the threshold.
func bracketErr(ip *Interpolant, which string, lo, hi float64, err error) error {
	if !errors.Is(err, ErrNoSignChange) {
		return fmt.Errorf("%s mirror point: %w", which, err)
	}
	if ip.FB(lo) >= 0 && ip.FB(hi) >= 0 {
		return fmt.Errorf("%w: |B| never drops below the mirror field %g nT in the %s half of the field line, the particle mirrors at the field minimum",
			ErrMirrorBelowReferenceSurface, ip.MirrorB(), which)
	}
	return fmt.Errorf("%w: no mirror crossing in the %s half of the field line", ErrMirrorBelowReferenceSurface, which)
}

// nativeSamples counts the trace samples lying between the bounce points.
func nativeSamples(bp BouncePoints) int {
	n := int(math.Floor(bp.End)) - int(math.Ceil(bp.Start)) + 1
	if n < 0 {
		return 0
	}
	return n
}

// Integrate resamples the path between the bounce points at resample evenly
// spaced indices and sums ds / v_parallel over the interior points, once per
// energy (keV). The returned periods are for a full bounce (twice the
// mirror-to-mirror transit). A non-nil warning means resample was below the
// native sample count between the bounce points.
func Integrate(ip *Interpolant, bp BouncePoints, energies []float64, restEnergy float64, resample int) ([]float64, *AccuracyWarning, error) {
	if resample < 3 {
		return nil, nil, fmt.Errorf("%w: resample count %d, need at least 3", irbem.ErrInvalidInput, resample)
	}

	var warn *AccuracyWarning
	if native := nativeSamples(bp); resample < native {
		warn = &AccuracyWarning{ResampleCount: resample, NativeSamples: native}
	}

	s := make([]float64, resample)
	floats.Span(s, bp.Start, bp.End)

	mirrorB := ip.MirrorB()
	ds := make([]float64, resample)
	dB := make([]float64, resample)
	prev := ip.Position(s[0])
	dB[0] = ip.FB(s[0]) + mirrorB
	for i := 1; i < resample; i++ {
		cur := ip.Position(s[i])
		dx := cur[0] - prev[0]
		dy := cur[1] - prev[1]
		dz := cur[2] - prev[2]
		ds[i] = EarthRadiusM * math.Sqrt(dx*dx+dy*dy+dz*dz)
		dB[i] = ip.FB(s[i]) + mirrorB
		prev = cur
	}

	// The end points sit on the mirror points where v_parallel is zero.
	inner := ds[1 : resample-1]
	innerB := dB[1 : resample-1]
	terms := make([]float64, len(inner))

	periods := make([]float64, len(energies))
	for k, e := range energies {
		for i := range inner {
			terms[i] = inner[i] / VParallel(e, mirrorB, innerB[i], restEnergy)
		}
		tb := 2 * floats.Sum(terms)
		if !finite(tb) || tb <= 0 {
			return nil, warn, fmt.Errorf("%w: bounce period for %v keV is %v", irbem.ErrInvalidInput, e, tb)
		}
		periods[k] = tb
	}
	return periods, warn, nil
}

// MirrorAltitude returns the altitude (km) of the conjugate mirror point:
// End when Start lies north of the GEO equator, Start otherwise.
func MirrorAltitude(ip *Interpolant, bp BouncePoints) float64 {
	s := bp.Start
	if ip.Z(bp.Start) > 0 {
		s = bp.End
	}
	p := ip.Position(s)
	return EarthRadiusKm * (math.Sqrt(p[0]*p[0]+p[1]*p[1]+p[2]*p[2]) - 1)
}
