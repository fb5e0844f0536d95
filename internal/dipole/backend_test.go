package dipole

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/PRBEM/IRBEM/internal/irbem"
	"github.com/PRBEM/IRBEM/internal/maginput"
	"github.com/PRBEM/IRBEM/internal/spacetime"
)

var epoch = time.Date(2015, 2, 2, 6, 12, 43, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func geoModel() irbem.Model {
	m := irbem.DefaultModel()
	m.Kext = irbem.KextNone
	m.Sysaxes = spacetime.GEO
	return m
}

func newClient(t *testing.T, model irbem.Model, opts ...Option) *irbem.MagFields {
	t.Helper()
	mf, err := irbem.NewMagFields(New(opts...), model, testLogger())
	if err != nil {
		t.Fatalf("NewMagFields failed: %v", err)
	}
	return mf
}

func TestFieldMagnitude(t *testing.T) {
	b := New()
	tests := []struct {
		name string
		pos  [3]float64
		want float64
	}{
		{"equator surface", [3]float64{1, 0, 0}, DefaultB0},
		{"north pole surface", [3]float64{0, 0, 1}, 2 * DefaultB0},
		{"equator 4 Re", [3]float64{0, 4, 0}, DefaultB0 / 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vec, mag := b.field(tt.pos)
			if math.Abs(mag-tt.want) > 1e-9*tt.want {
				t.Errorf("|B| = %v, want %v", mag, tt.want)
			}
			norm := math.Sqrt(vec[0]*vec[0] + vec[1]*vec[1] + vec[2]*vec[2])
			if math.Abs(norm-mag) > 1e-9*mag {
				t.Errorf("vector norm %v != magnitude %v", norm, mag)
			}
		})
	}

	// Earth's field points north at the equator.
	vec, _ := b.field([3]float64{1, 0, 0})
	if vec[2] <= 0 || math.Abs(vec[0]) > 1e-12 {
		t.Errorf("equatorial field vector = %v, want +z", vec)
	}
}

func TestTraceFieldLine(t *testing.T) {
	mf := newClient(t, geoModel())
	p := spacetime.NewPoint(epoch, 4, 0, 0)

	line, err := mf.TraceFieldLine(context.Background(), p, maginput.Input{}, 1)
	if err != nil {
		t.Fatalf("TraceFieldLine failed: %v", err)
	}
	if line.Len() != DefaultPoints {
		t.Fatalf("got %d points, want %d", line.Len(), DefaultPoints)
	}
	if math.Abs(line.Lm-4) > 1e-12 {
		t.Errorf("Lm = %v, want 4", line.Lm)
	}

	first, last, mid := line.Points[0], line.Points[line.Len()-1], line.Points[line.Len()/2]
	if first[2] <= 0 || last[2] >= 0 {
		t.Errorf("trace should run north to south: first z=%v last z=%v", first[2], last[2])
	}
	for _, end := range [][3]float64{first, last} {
		r := math.Sqrt(end[0]*end[0] + end[1]*end[1] + end[2]*end[2])
		if math.Abs(r-1) > 1e-9 {
			t.Errorf("foot radius = %v, want 1", r)
		}
	}
	if math.Abs(mid[0]-4) > 1e-9 || math.Abs(mid[2]) > 1e-9 {
		t.Errorf("middle sample = %v, want equator crossing (4,0,0)", mid)
	}
	if math.Abs(line.B[line.Len()/2]-line.Bmin) > 1e-9 {
		t.Errorf("B at equator %v != Bmin %v", line.B[line.Len()/2], line.Bmin)
	}
}

func TestTraceReferenceRadius(t *testing.T) {
	mf := newClient(t, geoModel())
	p := spacetime.NewPoint(epoch, 4, 0, 0)

	line, err := mf.TraceFieldLine(context.Background(), p, maginput.Input{}, 2)
	if err != nil {
		t.Fatalf("TraceFieldLine failed: %v", err)
	}
	f := line.Points[0]
	if r := math.Sqrt(f[0]*f[0] + f[1]*f[1] + f[2]*f[2]); math.Abs(r-2) > 1e-9 {
		t.Errorf("foot radius = %v, want 2", r)
	}
}

func TestTraceOpenLine(t *testing.T) {
	mf := newClient(t, geoModel(), WithMaxL(10))
	p := spacetime.NewPoint(epoch, 12, 0, 0)

	line, err := mf.TraceFieldLine(context.Background(), p, maginput.Input{}, 1)
	if !errors.Is(err, irbem.ErrOpenFieldLine) {
		t.Fatalf("got %v, want ErrOpenFieldLine", err)
	}
	if !line.Open || line.Len() != 0 {
		t.Errorf("open line should carry no points: %+v", line)
	}
}

func TestMakeLstarGDZ(t *testing.T) {
	model := irbem.DefaultModel()
	mf := newClient(t, model)

	points := []spacetime.Point{
		spacetime.NewPoint(epoch, 600, 60, 50),
		spacetime.NewPoint(epoch, 20000, 0, -75),
	}
	res, err := mf.MakeLstar(context.Background(), points, []maginput.Input{maginput.Input{}.Set(maginput.Kp, 40)})
	if err != nil {
		t.Fatalf("MakeLstar failed: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("got %d results, want 2", len(res))
	}
	for i, r := range res {
		if !(r.Lm > 1) || r.Lm != r.Lstar {
			t.Errorf("point %d: Lm=%v Lstar=%v", i, r.Lm, r.Lstar)
		}
		if !(r.Blocal >= r.Bmin) {
			t.Errorf("point %d: Blocal %v < Bmin %v", i, r.Blocal, r.Bmin)
		}
		if r.MLT < 0 || r.MLT >= 24 {
			t.Errorf("point %d: MLT = %v", i, r.MLT)
		}
	}
	// 60 deg geodetic is near L = 1/cos^2(60) = 4 plus the altitude.
	if res[0].Lm < 4 || res[0].Lm > 4.6 {
		t.Errorf("Lm at 60N 600 km = %v, want ~4.4", res[0].Lm)
	}
	// On the equator the particle mirrors where it is.
	if res[1].XJ > 1e-6 {
		t.Errorf("equatorial I = %v, want 0", res[1].XJ)
	}
}

func TestMakeLstarOpenIsNaN(t *testing.T) {
	mf := newClient(t, geoModel(), WithMaxL(5))
	res, err := mf.MakeLstar(context.Background(), []spacetime.Point{spacetime.NewPoint(epoch, 8, 0, 0)}, nil)
	if err != nil {
		t.Fatalf("MakeLstar failed: %v", err)
	}
	if !math.IsNaN(res[0].Lm) || !math.IsNaN(res[0].Lstar) {
		t.Errorf("open line should give NaN L, got %+v", res[0])
	}
	if math.IsNaN(res[0].Blocal) {
		t.Error("Blocal should still be defined")
	}
}

func TestFindMirrorPoint(t *testing.T) {
	mf := newClient(t, geoModel())
	// 30 deg magnetic latitude on L = 4.
	lat := 30 * math.Pi / 180
	r := 4 * math.Cos(lat) * math.Cos(lat)
	p := spacetime.NewPoint(epoch, r*math.Cos(lat), 0, r*math.Sin(lat))

	mp, err := mf.FindMirrorPoint(context.Background(), p, maginput.Input{}, 90)
	if err != nil {
		t.Fatalf("FindMirrorPoint failed: %v", err)
	}
	for i, want := range p.Coords() {
		if math.Abs(mp.GEO[i]-want) > 1e-6 {
			t.Errorf("90 deg particle mirrors in place: component %d = %v, want %v", i, mp.GEO[i], want)
		}
	}

	mp45, err := mf.FindMirrorPoint(context.Background(), p, maginput.Input{}, 45)
	if err != nil {
		t.Fatalf("FindMirrorPoint failed: %v", err)
	}
	g := mp45.GEO
	if rm := math.Sqrt(g[0]*g[0] + g[1]*g[1] + g[2]*g[2]); !(rm < r) || !(g[2] > 0) {
		t.Errorf("45 deg mirror point %v should lie further down the northern half of the line", g)
	}
	if math.Abs(mp45.Blocal-2*mp.Blocal) > 1e-6*mp.Blocal {
		t.Errorf("Bm = %v, want 2 x %v", mp45.Blocal, mp.Blocal)
	}
}

func TestFindFootPoint(t *testing.T) {
	mf := newClient(t, geoModel())
	p := spacetime.NewPoint(epoch, 4, 0, 0)

	north, err := mf.FindFootPoint(context.Background(), p, maginput.Input{}, 100, irbem.HemiNorth)
	if err != nil {
		t.Fatalf("FindFootPoint failed: %v", err)
	}
	south, err := mf.FindFootPoint(context.Background(), p, maginput.Input{}, 100, irbem.HemiSouth)
	if err != nil {
		t.Fatalf("FindFootPoint failed: %v", err)
	}
	if math.Abs(north.GDZ[0]-100) > 1e-3 || math.Abs(south.GDZ[0]-100) > 1e-3 {
		t.Errorf("foot altitudes = %v, %v, want 100 km", north.GDZ[0], south.GDZ[0])
	}
	if math.Abs(north.GDZ[1]+south.GDZ[1]) > 1e-6 || north.GDZ[1] < 55 {
		t.Errorf("foot latitudes = %v, %v, want symmetric near 60", north.GDZ[1], south.GDZ[1])
	}
	if math.IsNaN(north.B) || north.B <= 0 {
		t.Errorf("foot |B| = %v", north.B)
	}
}

func TestFindMagEquator(t *testing.T) {
	mf := newClient(t, geoModel())
	p := spacetime.NewPoint(epoch, 0, 2, 1)

	eq, err := mf.FindMagEquator(context.Background(), p, maginput.Input{})
	if err != nil {
		t.Fatalf("FindMagEquator failed: %v", err)
	}
	// r = sqrt(5), cos^2 = 4/5, L = 5^1.5/4.
	wantL := math.Pow(5, 1.5) / 4
	if math.Abs(eq.GEO[1]-wantL) > 1e-9 || math.Abs(eq.GEO[2]) > 1e-12 {
		t.Errorf("equator crossing = %v, want (0, %v, 0)", eq.GEO, wantL)
	}
	if math.Abs(eq.Bmin-DefaultB0/(wantL*wantL*wantL)) > 1e-9 {
		t.Errorf("Bmin = %v", eq.Bmin)
	}
}

func TestGetFieldMultiAndMLT(t *testing.T) {
	mf := newClient(t, geoModel())
	points := []spacetime.Point{
		spacetime.NewPoint(epoch, 1, 0, 0),
		spacetime.NewPoint(epoch, 0, 0, 2),
	}
	res, err := mf.GetFieldMulti(context.Background(), points, nil)
	if err != nil {
		t.Fatalf("GetFieldMulti failed: %v", err)
	}
	if math.Abs(res[0].B-DefaultB0) > 1e-9 || math.Abs(res[1].B-2*DefaultB0/8) > 1e-9 {
		t.Errorf("field magnitudes = %v, %v", res[0].B, res[1].B)
	}

	noon := spacetime.NewPoint(time.Date(2015, 2, 2, 12, 0, 0, 0, time.UTC), 1, 0, 0)
	m, err := mf.GetMLT(context.Background(), noon)
	if err != nil {
		t.Fatalf("GetMLT failed: %v", err)
	}
	if math.Abs(m-12) > 1e-9 {
		t.Errorf("MLT at 12 UT on the prime meridian = %v, want 12", m)
	}
}

func TestDriftShell(t *testing.T) {
	mf := newClient(t, geoModel(), WithPoints(201))
	p := spacetime.NewPoint(epoch, 3, 0, 0.5)

	ds, err := mf.DriftShell(context.Background(), p, maginput.Input{})
	if err != nil {
		t.Fatalf("DriftShell failed: %v", err)
	}
	if len(ds.Lines) != irbem.DriftShellLines {
		t.Fatalf("got %d lines, want %d", len(ds.Lines), irbem.DriftShellLines)
	}
	for i, l := range ds.Lines {
		if len(l.Points) != 201 || len(l.B) != 201 {
			t.Fatalf("line %d has %d points", i, len(l.Points))
		}
	}
	if ds.Lm != ds.Lstar || !(ds.XJ > 0) {
		t.Errorf("shell = L %v L* %v I %v", ds.Lm, ds.Lstar, ds.XJ)
	}
}

func TestCoordTransUnsupported(t *testing.T) {
	c := irbem.NewCoords(New(), testLogger())
	_, err := c.Transform(context.Background(), []time.Time{epoch}, [][3]float64{{1, 0, 0}}, spacetime.GEO, spacetime.GSM)
	if !errors.Is(err, irbem.ErrUnsupported) {
		t.Errorf("GEO->GSM: got %v, want ErrUnsupported", err)
	}

	out, err := c.Transform(context.Background(), []time.Time{epoch}, [][3]float64{{600, 60, 50}}, spacetime.GDZ, spacetime.GEO)
	if err != nil {
		t.Fatalf("GDZ->GEO failed: %v", err)
	}
	r := math.Sqrt(out[0][0]*out[0][0] + out[0][1]*out[0][1] + out[0][2]*out[0][2])
	if r < 1.08 || r > 1.1 {
		t.Errorf("GEO radius = %v, want ~1.09", r)
	}
}
