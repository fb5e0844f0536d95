// Package bounce estimates bounce periods and conjugate mirror-point
// altitudes of trapped particles from a traced field line. The line and the
// local field come from a FieldSource; everything else is spline
// interpolation, root bracketing and a discrete path integral.
package bounce

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PRBEM/IRBEM/internal/irbem"
	"github.com/PRBEM/IRBEM/internal/maginput"
	"github.com/PRBEM/IRBEM/internal/metrics"
	"github.com/PRBEM/IRBEM/internal/spacetime"
)

// DefaultResampleCount is the default number of points the path between the
// mirror points is resampled at.
const DefaultResampleCount = 100000

// FieldSource provides the field line through a point and the local field
// magnitude there. *irbem.MagFields implements it.
type FieldSource interface {
	LocalField(ctx context.Context, p spacetime.Point, in maginput.Input) (float64, error)
	TraceFieldLine(ctx context.Context, p spacetime.Point, in maginput.Input, r0 float64) (irbem.FieldLine, error)
}

// Options tunes a bounce-period query.
type Options struct {
	RestEnergy      float64 // keV
	ReferenceRadius float64 // Re, where the trace stops
	PitchAngle      float64 // local pitch angle (deg)
	ResampleCount   int
}

// DefaultOptions returns options for locally mirroring electrons traced to
// the Earth's surface.
func DefaultOptions() Options {
	return Options{
		RestEnergy:      ElectronRestEnergy,
		ReferenceRadius: 1,
		PitchAngle:      90,
		ResampleCount:   DefaultResampleCount,
	}
}

// Option modifies Options.
type Option func(*Options)

// WithRestEnergy sets the particle rest energy in keV.
func WithRestEnergy(e float64) Option { return func(o *Options) { o.RestEnergy = e } }

// WithReferenceRadius sets the radius (Re) the field line is traced down to.
func WithReferenceRadius(r0 float64) Option { return func(o *Options) { o.ReferenceRadius = r0 } }

// WithPitchAngle sets the local pitch angle in degrees.
func WithPitchAngle(alpha float64) Option { return func(o *Options) { o.PitchAngle = alpha } }

// WithResampleCount sets how many points the path is resampled at.
func WithResampleCount(n int) Option { return func(o *Options) { o.ResampleCount = n } }

// Result is the outcome of a bounce-period query.
type Result struct {
	Energies []float64 // keV
	Periods  []float64 // s, one per energy
	MirrorB  float64   // nT
	Bounce   BouncePoints
	Warnings []AccuracyWarning
}

// Estimator runs bounce-period and mirror-altitude queries against a
// FieldSource. It holds no per-query state and is safe for concurrent use
// when the source is.
type Estimator struct {
	src    FieldSource
	logger *slog.Logger
}

// NewEstimator creates an estimator.
func NewEstimator(src FieldSource, logger *slog.Logger) *Estimator {
	return &Estimator{src: src, logger: logger}
}

// BouncePeriod computes the bounce period (s) of particles at p for each
// kinetic energy in energies (keV).
func (e *Estimator) BouncePeriod(ctx context.Context, p spacetime.Point, in maginput.Input, energies []float64, opts ...Option) (Result, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := validate(energies, o); err != nil {
		return Result{}, err
	}

	start := time.Now()
	ip, err := e.interpolate(ctx, p, in, o.ReferenceRadius, o.PitchAngle)
	if err != nil {
		return Result{}, err
	}
	bp, err := FindBouncePoints(ip)
	if err != nil {
		return Result{}, err
	}
	periods, warn, err := Integrate(ip, bp, energies, o.RestEnergy, o.ResampleCount)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Energies: append([]float64(nil), energies...),
		Periods:  periods,
		MirrorB:  ip.MirrorB(),
		Bounce:   bp,
	}
	if warn != nil {
		res.Warnings = append(res.Warnings, *warn)
		metrics.IncAccuracyWarnings()
		e.logger.Warn("bounce period may be inaccurate",
			"resample_count", warn.ResampleCount,
			"native_samples", warn.NativeSamples,
		)
	}

	duration := time.Since(start)
	metrics.ObserveQuery("bounce_period", duration)
	e.logger.Debug("bounce period computed",
		"energies", len(energies),
		"maginput", in.Map(),
		"samples", ip.Len(),
		"duration_ms", duration.Milliseconds(),
	)
	return res, nil
}

// MirrorPointAltitude returns the altitude (km) of the conjugate mirror
// point of a locally mirroring particle at p, with the line traced down to
// r0 (Re).
func (e *Estimator) MirrorPointAltitude(ctx context.Context, p spacetime.Point, in maginput.Input, r0 float64) (float64, error) {
	start := time.Now()
	ip, err := e.interpolate(ctx, p, in, r0, 90)
	if err != nil {
		return 0, err
	}
	bp, err := FindBouncePoints(ip)
	if err != nil {
		return 0, err
	}
	alt := MirrorAltitude(ip, bp)
	metrics.ObserveQuery("mirror_altitude", time.Since(start))
	return alt, nil
}

func (e *Estimator) interpolate(ctx context.Context, p spacetime.Point, in maginput.Input, r0, alpha float64) (*Interpolant, error) {
	inputB, err := e.src.LocalField(ctx, p, in)
	if err != nil {
		return nil, fmt.Errorf("local field: %w", err)
	}
	line, err := e.src.TraceFieldLine(ctx, p, in, r0)
	if err != nil {
		return nil, fmt.Errorf("tracing field line: %w", err)
	}
	return NewInterpolant(line, inputB, alpha)
}

func validate(energies []float64, o Options) error {
	if len(energies) == 0 {
		return fmt.Errorf("%w: no energies given", irbem.ErrInvalidInput)
	}
	for _, en := range energies {
		if !finite(en) || en <= 0 {
			return fmt.Errorf("%w: energy %v keV", irbem.ErrInvalidInput, en)
		}
	}
	switch {
	case !finite(o.RestEnergy) || o.RestEnergy <= 0:
		return fmt.Errorf("%w: rest energy %v keV", irbem.ErrInvalidInput, o.RestEnergy)
	case !finite(o.ReferenceRadius) || o.ReferenceRadius <= 0:
		return fmt.Errorf("%w: reference radius %v", irbem.ErrInvalidInput, o.ReferenceRadius)
	case !(o.PitchAngle > 0 && o.PitchAngle < 180):
		return fmt.Errorf("%w: pitch angle %v", irbem.ErrInvalidInput, o.PitchAngle)
	case o.ResampleCount < 3:
		return fmt.Errorf("%w: resample count %d, need at least 3", irbem.ErrInvalidInput, o.ResampleCount)
	}
	return nil
}
