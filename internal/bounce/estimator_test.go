package bounce

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"gonum.org/v1/gonum/floats/scalar"

	"github.com/PRBEM/IRBEM/internal/dipole"
	"github.com/PRBEM/IRBEM/internal/irbem"
	"github.com/PRBEM/IRBEM/internal/maginput"
	"github.com/PRBEM/IRBEM/internal/spacetime"
)

var epoch = time.Date(2015, 2, 2, 6, 12, 43, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newDipoleEstimator(t *testing.T, opts ...dipole.Option) (*Estimator, *irbem.MagFields) {
	t.Helper()
	model := irbem.DefaultModel()
	model.Kext = irbem.KextNone
	model.Sysaxes = spacetime.GEO
	mf, err := irbem.NewMagFields(dipole.New(opts...), model, testLogger())
	if err != nil {
		t.Fatalf("NewMagFields failed: %v", err)
	}
	return NewEstimator(mf, testLogger()), mf
}

// shellPoint is the GEO point at magnetic latitude latDeg on the dipole line
// of the given L, in the noon meridian.
func shellPoint(L, latDeg float64) spacetime.Point {
	lat := latDeg * math.Pi / 180
	c := math.Cos(lat)
	r := L * c * c
	return spacetime.NewPoint(epoch, r*c, 0, r*math.Sin(lat))
}

// dipoleBounce approximates the bounce period of a particle mirroring at
// latitude latDeg on a dipole line.
func dipoleBounce(L, latDeg, energy float64) float64 {
	lat := latDeg * math.Pi / 180
	c := math.Cos(lat)
	s := math.Sin(lat)
	sinEq := math.Sqrt(c * c * c * c * c * c / math.Sqrt(1+3*s*s))
	v := SpeedOfLight * Beta(energy, ElectronRestEnergy)
	return 4 * L * EarthRadiusM / v * (1.30 - 0.56*sinEq)
}

func TestBouncePeriodDipole(t *testing.T) {
	est, _ := newDipoleEstimator(t)
	energies := []float64{200, 500, 1000}

	res, err := est.BouncePeriod(context.Background(), shellPoint(4, 30), maginput.Input{}, energies)
	if err != nil {
		t.Fatalf("BouncePeriod failed: %v", err)
	}
	if len(res.Periods) != len(energies) {
		t.Fatalf("got %d periods, want %d", len(res.Periods), len(energies))
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
	for i, e := range energies {
		want := dipoleBounce(4, 30, e)
		if got := res.Periods[i]; !scalar.EqualWithinRel(got, want, 0.05) {
			t.Errorf("Tb(%v keV) = %v s, want %v s within 5%%", e, got, want)
		}
	}
	if !(res.Periods[0] > res.Periods[1] && res.Periods[1] > res.Periods[2]) {
		t.Errorf("periods %v do not decrease with energy", res.Periods)
	}
	if !(res.Bounce.Start < res.Bounce.End) {
		t.Errorf("bounce points %+v out of order", res.Bounce)
	}
}

func TestBouncePeriodIdempotent(t *testing.T) {
	est, _ := newDipoleEstimator(t)
	p := shellPoint(5, 20)
	energies := []float64{300, 3000}

	first, err := est.BouncePeriod(context.Background(), p, maginput.Input{}, energies)
	if err != nil {
		t.Fatalf("BouncePeriod failed: %v", err)
	}
	second, err := est.BouncePeriod(context.Background(), p, maginput.Input{}, energies)
	if err != nil {
		t.Fatalf("BouncePeriod failed: %v", err)
	}
	if !slices.Equal(first.Periods, second.Periods) {
		t.Errorf("repeated query gave %v then %v", first.Periods, second.Periods)
	}
}

func TestBouncePeriodPitchAngle(t *testing.T) {
	est, _ := newDipoleEstimator(t)

	res, err := est.BouncePeriod(context.Background(), shellPoint(4, 0), maginput.Input{}, []float64{500}, WithPitchAngle(45))
	if err != nil {
		t.Fatalf("BouncePeriod failed: %v", err)
	}
	v := SpeedOfLight * Beta(500, ElectronRestEnergy)
	want := 4 * 4 * EarthRadiusM / v * (1.30 - 0.56*math.Sqrt2/2)
	if got := res.Periods[0]; !scalar.EqualWithinRel(got, want, 0.05) {
		t.Errorf("Tb = %v s, want %v s within 5%%", got, want)
	}
	if !scalar.EqualWithinRel(res.MirrorB, 2*equatorialB(4), 1e-9) {
		t.Errorf("MirrorB = %v, want %v", res.MirrorB, 2*equatorialB(4))
	}
}

// equatorialB is the equatorial field of the default dipole at L.
func equatorialB(L float64) float64 {
	return dipole.DefaultB0 / (L * L * L)
}

func TestBouncePeriodRestEnergy(t *testing.T) {
	est, _ := newDipoleEstimator(t)
	p := shellPoint(4, 30)

	electron, err := est.BouncePeriod(context.Background(), p, maginput.Input{}, []float64{1000})
	if err != nil {
		t.Fatalf("BouncePeriod failed: %v", err)
	}
	proton, err := est.BouncePeriod(context.Background(), p, maginput.Input{}, []float64{1000}, WithRestEnergy(938272))
	if err != nil {
		t.Fatalf("BouncePeriod failed: %v", err)
	}
	if proton.Periods[0] <= electron.Periods[0] {
		t.Errorf("proton Tb %v should exceed electron Tb %v", proton.Periods[0], electron.Periods[0])
	}
}

func TestBouncePeriodAccuracyWarning(t *testing.T) {
	est, _ := newDipoleEstimator(t)

	res, err := est.BouncePeriod(context.Background(), shellPoint(4, 30), maginput.Input{}, []float64{500}, WithResampleCount(100))
	if err != nil {
		t.Fatalf("BouncePeriod failed: %v", err)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("got %d warnings, want 1", len(res.Warnings))
	}
	w := res.Warnings[0]
	if w.ResampleCount != 100 || w.NativeSamples <= 100 {
		t.Errorf("warning = %+v", w)
	}
	if res.Periods[0] <= 0 || math.IsNaN(res.Periods[0]) {
		t.Errorf("Tb = %v, want a positive value despite the warning", res.Periods[0])
	}
}

func TestBouncePeriodOpenFieldLine(t *testing.T) {
	est, _ := newDipoleEstimator(t, dipole.WithMaxL(3))

	_, err := est.BouncePeriod(context.Background(), shellPoint(4, 30), maginput.Input{}, []float64{500})
	if !errors.Is(err, irbem.ErrOpenFieldLine) {
		t.Errorf("BouncePeriod: got %v, want ErrOpenFieldLine", err)
	}
	_, err = est.MirrorPointAltitude(context.Background(), shellPoint(4, 30), maginput.Input{}, 1)
	if !errors.Is(err, irbem.ErrOpenFieldLine) {
		t.Errorf("MirrorPointAltitude: got %v, want ErrOpenFieldLine", err)
	}
}

func TestMirrorBelowReferenceSurface(t *testing.T) {
	est, _ := newDipoleEstimator(t)
	// The point sits at r = 3 Re, inside the reference radius.
	p := shellPoint(4, 30)

	_, err := est.BouncePeriod(context.Background(), p, maginput.Input{}, []float64{500}, WithReferenceRadius(3.5))
	if !errors.Is(err, ErrMirrorBelowReferenceSurface) {
		t.Errorf("BouncePeriod: got %v, want ErrMirrorBelowReferenceSurface", err)
	}
	_, err = est.MirrorPointAltitude(context.Background(), p, maginput.Input{}, 3.5)
	if !errors.Is(err, ErrMirrorBelowReferenceSurface) {
		t.Errorf("MirrorPointAltitude: got %v, want ErrMirrorBelowReferenceSurface", err)
	}
}

func TestBouncePeriodLogsInputs(t *testing.T) {
	_, mf := newDipoleEstimator(t)
	var buf bytes.Buffer
	est := NewEstimator(mf, slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	in := maginput.Input{}.Set(maginput.Kp, 40)
	if _, err := est.BouncePeriod(context.Background(), shellPoint(4, 30), in, []float64{500}); err != nil {
		t.Fatalf("BouncePeriod failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"maginput":{"Kp":40}`) {
		t.Errorf("debug log does not carry the model inputs: %s", buf.String())
	}
}

func TestEquatorialMirroringHasNoBounce(t *testing.T) {
	est, _ := newDipoleEstimator(t)
	for _, L := range []float64{2, 4, 8} {
		_, err := est.BouncePeriod(context.Background(), shellPoint(L, 0), maginput.Input{}, []float64{500}, WithPitchAngle(90))
		if !errors.Is(err, ErrMirrorBelowReferenceSurface) {
			t.Errorf("L=%v: got %v, want ErrMirrorBelowReferenceSurface", L, err)
		}
	}
}

func TestBouncePeriodInvalidInput(t *testing.T) {
	est, _ := newDipoleEstimator(t)
	p := shellPoint(4, 30)

	tests := []struct {
		name     string
		energies []float64
		opts     []Option
	}{
		{"no energies", nil, nil},
		{"negative energy", []float64{-5}, nil},
		{"NaN energy", []float64{math.NaN()}, nil},
		{"zero rest energy", []float64{500}, []Option{WithRestEnergy(0)}},
		{"zero reference radius", []float64{500}, []Option{WithReferenceRadius(0)}},
		{"zero pitch angle", []float64{500}, []Option{WithPitchAngle(0)}},
		{"pitch angle 180", []float64{500}, []Option{WithPitchAngle(180)}},
		{"resample 2", []float64{500}, []Option{WithResampleCount(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := est.BouncePeriod(context.Background(), p, maginput.Input{}, tt.energies, tt.opts...)
			if !errors.Is(err, irbem.ErrInvalidInput) {
				t.Errorf("got %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestBouncePeriodCancelled(t *testing.T) {
	est, _ := newDipoleEstimator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := est.BouncePeriod(ctx, shellPoint(4, 30), maginput.Input{}, []float64{500})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestMirrorPointAltitudeDipole(t *testing.T) {
	est, _ := newDipoleEstimator(t)

	tests := []struct {
		name   string
		latDeg float64
	}{
		{"north", 30},
		{"south", -30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alt, err := est.MirrorPointAltitude(context.Background(), shellPoint(4, tt.latDeg), maginput.Input{}, 1)
			if err != nil {
				t.Fatalf("MirrorPointAltitude failed: %v", err)
			}
			// The conjugate point mirrors at the same |latitude|, r = 3 Re.
			want := EarthRadiusKm * 2
			if math.Abs(alt-want) > 1 {
				t.Errorf("altitude = %v km, want %v km", alt, want)
			}
		})
	}
}

// staticSource serves a fixed field line.
type staticSource struct {
	line irbem.FieldLine
	b    float64
}

func (s staticSource) LocalField(context.Context, spacetime.Point, maginput.Input) (float64, error) {
	return s.b, nil
}

func (s staticSource) TraceFieldLine(context.Context, spacetime.Point, maginput.Input, float64) (irbem.FieldLine, error) {
	return s.line, nil
}

func TestMirrorPointAltitudeHemisphereSymmetry(t *testing.T) {
	_, mf := newDipoleEstimator(t)
	p := shellPoint(4, 25)
	ctx := context.Background()

	line, err := mf.TraceFieldLine(ctx, p, maginput.Input{}, 1)
	if err != nil {
		t.Fatalf("TraceFieldLine failed: %v", err)
	}
	b, err := mf.LocalField(ctx, p, maginput.Input{})
	if err != nil {
		t.Fatalf("LocalField failed: %v", err)
	}

	reversed := irbem.FieldLine{
		Points: slices.Clone(line.Points),
		B:      slices.Clone(line.B),
	}
	slices.Reverse(reversed.Points)
	slices.Reverse(reversed.B)

	north, err := NewEstimator(staticSource{line: line, b: b}, testLogger()).MirrorPointAltitude(ctx, p, maginput.Input{}, 1)
	if err != nil {
		t.Fatalf("MirrorPointAltitude failed: %v", err)
	}
	south, err := NewEstimator(staticSource{line: reversed, b: b}, testLogger()).MirrorPointAltitude(ctx, p, maginput.Input{}, 1)
	if err != nil {
		t.Fatalf("MirrorPointAltitude on the reversed line failed: %v", err)
	}
	if math.Abs(north-south) > 1e-3 {
		t.Errorf("altitude depends on trace direction: %v km vs %v km", north, south)
	}

	// The reported point is the conjugate one, in the southern hemisphere.
	ip, err := NewInterpolant(line, b, 90)
	if err != nil {
		t.Fatalf("NewInterpolant failed: %v", err)
	}
	bp, err := FindBouncePoints(ip)
	if err != nil {
		t.Fatalf("FindBouncePoints failed: %v", err)
	}
	end := ip.Position(bp.End)
	if end[2] >= 0 {
		t.Errorf("conjugate point z = %v, want southern hemisphere", end[2])
	}
	want := EarthRadiusKm * (math.Sqrt(end[0]*end[0]+end[1]*end[1]+end[2]*end[2]) - 1)
	if math.Abs(north-want) > 1e-9 {
		t.Errorf("altitude = %v km, want %v km", north, want)
	}
}
