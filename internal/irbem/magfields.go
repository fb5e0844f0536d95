// Package irbem marshals queries into the argument frames of the IRBEM-LIB
// field-model routines, runs them on a Backend and converts the raw output
// buffers into typed results. Fill values in the outputs become NaN, or an
// error when the whole result is meaningless.
package irbem

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/PRBEM/IRBEM/internal/maginput"
	"github.com/PRBEM/IRBEM/internal/spacetime"
)

var nan = math.NaN()

// Hemisphere selects where FindFootPoint looks for the foot point.
type Hemisphere int32

const (
	HemiSouth    Hemisphere = -1
	HemiSame     Hemisphere = 0 // same hemisphere as the query point
	HemiNorth    Hemisphere = 1
	HemiOpposite Hemisphere = 2 // conjugate hemisphere
)

// ParseHemisphere accepts "same", "north", "south", "opposite" or the
// native integer flag.
func ParseHemisphere(s string) (Hemisphere, error) {
	switch s {
	case "same", "0":
		return HemiSame, nil
	case "north", "1":
		return HemiNorth, nil
	case "south", "-1":
		return HemiSouth, nil
	case "opposite", "2":
		return HemiOpposite, nil
	}
	return 0, fmt.Errorf("%w: hemisphere %q, use same, north, south or opposite", ErrInvalidInput, s)
}

// LstarResult holds the magnetic coordinates of one point.
type LstarResult struct {
	Lm     float64 // McIlwain L
	Lstar  float64 // Roederer L*, or Phi depending on options
	Blocal float64 // local |B| (nT)
	Bmin   float64 // |B| at the magnetic equator (nT)
	XJ     float64 // second invariant I
	MLT    float64 // magnetic local time (h)
}

// FieldLine is a traced field line. Points are GEO (Re) and B holds |B| (nT)
// at each point. Lines are traced from the northern foot to the southern
// foot. Open is set for lines that do not close; such lines carry no points.
type FieldLine struct {
	Points [][3]float64
	B      []float64
	Lm     float64
	Bmin   float64
	XJ     float64
	Open   bool
}

// Len returns the number of samples on the line.
func (l FieldLine) Len() int {
	return len(l.Points)
}

// MirrorPoint is the mirror point of a particle with the given local pitch
// angle, in GEO.
type MirrorPoint struct {
	Blocal float64
	Bmin   float64
	GEO    [3]float64
}

// FootPoint is the field line foot point at the requested altitude.
type FootPoint struct {
	GDZ  [3]float64 // altitude (km), latitude, East longitude (deg)
	BGEO [3]float64 // field vector at the foot (nT)
	B    float64    // |B| at the foot (nT)
}

// MagEquator is the minimum-|B| point of the field line.
type MagEquator struct {
	Bmin float64
	GEO  [3]float64
}

// FieldVector is the field at one point in GEO components.
type FieldVector struct {
	BGEO [3]float64
	B    float64
}

// DriftLine is one of the field lines making up a drift shell.
type DriftLine struct {
	Points [][3]float64
	B      []float64
}

// DriftShell is the drift shell of particles mirroring at the query point.
type DriftShell struct {
	Lm    float64
	Lstar float64
	Bmin  float64
	XJ    float64
	Lines []DriftLine
}

// MagFields runs field-model routines with a fixed model configuration.
// It is safe for concurrent use; calls into the backend are serialized.
type MagFields struct {
	backend  Backend
	model    Model
	logger   *slog.Logger
	ntimeMax int
}

// NewMagFields creates a client on b. b is wrapped with Guard.
func NewMagFields(b Backend, model Model, logger *slog.Logger) (*MagFields, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}
	g := Guard(b)
	m := &MagFields{
		backend:  g,
		model:    model,
		logger:   logger,
		ntimeMax: int(g.NTimeMax()),
	}
	logger.Info("field model ready",
		"backend", b.Name(),
		"kext", model.Kext.String(),
		"sysaxes", model.Sysaxes.String(),
		"ntime_max", m.ntimeMax,
	)
	return m, nil
}

// Model returns the client's model configuration.
func (m *MagFields) Model() Model {
	return m.model
}

// Backend returns the guarded backend, for sharing with a Coords client.
func (m *MagFields) Backend() Backend {
	return m.backend
}

// NTimeMax returns the largest batch the backend accepts in one call.
func (m *MagFields) NTimeMax() int {
	return m.ntimeMax
}

// MakeLstar computes L, L*, Blocal, Bmin, I and MLT for each point. inputs
// holds one driver set per point, or a single set applied to all points.
func (m *MagFields) MakeLstar(ctx context.Context, points []spacetime.Point, inputs []maginput.Input) ([]LstarResult, error) {
	frame, magin, err := m.prepArray(points, inputs)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := frame.Len()
	c := &LstarCall{
		Model:    m.model.args(),
		NTime:    frame.NTime,
		IYear:    frame.IYear,
		IDoy:     frame.IDoy,
		UT:       frame.UT,
		X1:       frame.X1,
		X2:       frame.X2,
		X3:       frame.X3,
		MagInput: magin,
		Lm:       make([]float64, n),
		Lstar:    make([]float64, n),
		Blocal:   make([]float64, n),
		Bmin:     make([]float64, n),
		XJ:       make([]float64, n),
		MLT:      make([]float64, n),
	}
	for _, s := range [][]float64{c.Lm, c.Lstar, c.Blocal, c.Bmin, c.XJ, c.MLT} {
		fill(s)
	}

	start := time.Now()
	if err := m.backend.MakeLstar(c); err != nil {
		return nil, fmt.Errorf("make_lstar: %w", err)
	}
	m.logger.Debug("make_lstar complete", "ntime", n, "duration_ms", time.Since(start).Milliseconds())

	out := make([]LstarResult, n)
	for i := range out {
		out[i] = LstarResult{
			Lm:     clean(c.Lm[i]),
			Lstar:  clean(c.Lstar[i]),
			Blocal: clean(c.Blocal[i]),
			Bmin:   clean(c.Bmin[i]),
			XJ:     clean(c.XJ[i]),
			MLT:    clean(c.MLT[i]),
		}
	}
	return out, nil
}

// LocalField returns |B| (nT) at the point.
func (m *MagFields) LocalField(ctx context.Context, p spacetime.Point, in maginput.Input) (float64, error) {
	res, err := m.MakeLstar(ctx, []spacetime.Point{p}, []maginput.Input{in})
	if err != nil {
		return 0, err
	}
	b := res[0].Blocal
	if math.IsNaN(b) {
		return 0, fmt.Errorf("%w: model returned no field at %v", ErrInvalidInput, p.Coords())
	}
	return b, nil
}

// TraceFieldLine traces the field line through p down to radius r0 (Re) in
// both hemispheres.
func (m *MagFields) TraceFieldLine(ctx context.Context, p spacetime.Point, in maginput.Input, r0 float64) (FieldLine, error) {
	if !(r0 > 0) || math.IsInf(r0, 0) {
		return FieldLine{}, fmt.Errorf("%w: reference radius %v", ErrInvalidInput, r0)
	}
	loc, err := m.prepSingle(p)
	if err != nil {
		return FieldLine{}, err
	}
	if err := ctx.Err(); err != nil {
		return FieldLine{}, err
	}

	c := &TraceCall{
		Model:    m.model.args(),
		Loc:      loc,
		MagInput: in.Pack(),
		R0:       r0,
		Lm:       Missing,
		Bmin:     Missing,
		XJ:       Missing,
		NPosit:   OpenLineCount,
	}
	if err := m.backend.TraceFieldLine(c); err != nil {
		return FieldLine{}, fmt.Errorf("trace_field_line: %w", err)
	}

	n := int(c.NPosit)
	if n == OpenLineCount || n <= 0 {
		return FieldLine{Open: true}, ErrOpenFieldLine
	}
	if n > MaxTracePoints {
		return FieldLine{}, fmt.Errorf("trace_field_line: backend reported %d points, limit is %d", n, MaxTracePoints)
	}

	line := FieldLine{
		Points: make([][3]float64, n),
		B:      make([]float64, n),
		Lm:     clean(c.Lm),
		Bmin:   clean(c.Bmin),
		XJ:     clean(c.XJ),
	}
	for i := 0; i < n; i++ {
		line.Points[i] = cleanVec(c.Posit[i])
		line.B[i] = clean(c.Blocal[i])
	}
	return line, nil
}

// FindMirrorPoint finds the mirror point of a particle at p with local pitch
// angle alpha (deg).
func (m *MagFields) FindMirrorPoint(ctx context.Context, p spacetime.Point, in maginput.Input, alpha float64) (MirrorPoint, error) {
	if !(alpha > 0 && alpha <= 180) {
		return MirrorPoint{}, fmt.Errorf("%w: pitch angle %v", ErrInvalidInput, alpha)
	}
	loc, err := m.prepSingle(p)
	if err != nil {
		return MirrorPoint{}, err
	}
	if err := ctx.Err(); err != nil {
		return MirrorPoint{}, err
	}

	c := &MirrorCall{
		Model:    m.model.args(),
		Loc:      loc,
		Alpha:    alpha,
		MagInput: in.Pack(),
		Blocal:   Missing,
		Bmin:     Missing,
		Posit:    [3]float64{Missing, Missing, Missing},
	}
	if err := m.backend.FindMirrorPoint(c); err != nil {
		return MirrorPoint{}, fmt.Errorf("find_mirror_point: %w", err)
	}
	return MirrorPoint{
		Blocal: clean(c.Blocal),
		Bmin:   clean(c.Bmin),
		GEO:    cleanVec(c.Posit),
	}, nil
}

// FindFootPoint finds where the field line through p crosses stopAlt (km) in
// the selected hemisphere.
func (m *MagFields) FindFootPoint(ctx context.Context, p spacetime.Point, in maginput.Input, stopAlt float64, hemi Hemisphere) (FootPoint, error) {
	switch hemi {
	case HemiSame, HemiNorth, HemiSouth, HemiOpposite:
	default:
		return FootPoint{}, fmt.Errorf("%w: hemisphere flag %d", ErrInvalidInput, hemi)
	}
	if math.IsNaN(stopAlt) || math.IsInf(stopAlt, 0) {
		return FootPoint{}, fmt.Errorf("%w: stop altitude %v", ErrInvalidInput, stopAlt)
	}
	loc, err := m.prepSingle(p)
	if err != nil {
		return FootPoint{}, err
	}
	if err := ctx.Err(); err != nil {
		return FootPoint{}, err
	}

	missing := [3]float64{Missing, Missing, Missing}
	c := &FootCall{
		Model:    m.model.args(),
		Loc:      loc,
		StopAlt:  stopAlt,
		Hemi:     int32(hemi),
		MagInput: in.Pack(),
		XFoot:    missing,
		BFoot:    missing,
		BFootMag: missing,
	}
	if err := m.backend.FindFootPoint(c); err != nil {
		return FootPoint{}, fmt.Errorf("find_foot_point: %w", err)
	}
	return FootPoint{
		GDZ:  cleanVec(c.XFoot),
		BGEO: cleanVec(c.BFoot),
		B:    clean(c.BFootMag[0]),
	}, nil
}

// FindMagEquator finds the minimum-|B| point on the field line through p.
func (m *MagFields) FindMagEquator(ctx context.Context, p spacetime.Point, in maginput.Input) (MagEquator, error) {
	loc, err := m.prepSingle(p)
	if err != nil {
		return MagEquator{}, err
	}
	if err := ctx.Err(); err != nil {
		return MagEquator{}, err
	}

	c := &MagEquatorCall{
		Model:    m.model.args(),
		Loc:      loc,
		MagInput: in.Pack(),
		Bmin:     Missing,
		XGEO:     [3]float64{Missing, Missing, Missing},
	}
	if err := m.backend.FindMagEquator(c); err != nil {
		return MagEquator{}, fmt.Errorf("find_magequator: %w", err)
	}
	return MagEquator{Bmin: clean(c.Bmin), GEO: cleanVec(c.XGEO)}, nil
}

// GetFieldMulti computes the GEO field vector at each point.
func (m *MagFields) GetFieldMulti(ctx context.Context, points []spacetime.Point, inputs []maginput.Input) ([]FieldVector, error) {
	frame, magin, err := m.prepArray(points, inputs)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := frame.Len()
	c := &FieldMultiCall{
		Model:    m.model.args(),
		NTime:    frame.NTime,
		IYear:    frame.IYear,
		IDoy:     frame.IDoy,
		UT:       frame.UT,
		X1:       frame.X1,
		X2:       frame.X2,
		X3:       frame.X3,
		MagInput: magin,
		BGEO:     make([][3]float64, n),
		Bl:       make([]float64, n),
	}
	fill(c.Bl)
	for i := range c.BGEO {
		c.BGEO[i] = [3]float64{Missing, Missing, Missing}
	}
	if err := m.backend.GetFieldMulti(c); err != nil {
		return nil, fmt.Errorf("get_field_multi: %w", err)
	}

	out := make([]FieldVector, n)
	for i := range out {
		out[i] = FieldVector{BGEO: cleanVec(c.BGEO[i]), B: clean(c.Bl[i])}
	}
	return out, nil
}

// GetMLT returns the magnetic local time (h) of p. The coordinates of p are
// read as GEO whatever the client's input system.
func (m *MagFields) GetMLT(ctx context.Context, p spacetime.Point) (float64, error) {
	if err := checkPoint(p); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f := spacetime.SingleFrame(p)
	c := &MLTCall{
		Loc: TimeLoc{IYear: f.IYear[0], IDoy: f.IDoy[0], UT: f.UT[0], X: p.Coords()},
		MLT: Missing,
	}
	if err := m.backend.GetMLT(c); err != nil {
		return 0, fmt.Errorf("get_mlt: %w", err)
	}
	if bad(c.MLT) {
		return 0, fmt.Errorf("%w: no MLT for GEO position %v", ErrInvalidInput, p.Coords())
	}
	return c.MLT, nil
}

// DriftShell traces the drift shell of particles mirroring at p.
func (m *MagFields) DriftShell(ctx context.Context, p spacetime.Point, in maginput.Input) (DriftShell, error) {
	loc, err := m.prepSingle(p)
	if err != nil {
		return DriftShell{}, err
	}
	if err := ctx.Err(); err != nil {
		return DriftShell{}, err
	}

	c := &DriftShellCall{
		Model:    m.model.args(),
		Loc:      loc,
		MagInput: in.Pack(),
		Lm:       Missing,
		Lstar:    Missing,
		Bmin:     Missing,
		XJ:       Missing,
	}
	if err := m.backend.DriftShell(c); err != nil {
		return DriftShell{}, fmt.Errorf("drift_shell: %w", err)
	}

	shell := DriftShell{
		Lm:    clean(c.Lm),
		Lstar: clean(c.Lstar),
		Bmin:  clean(c.Bmin),
		XJ:    clean(c.XJ),
	}
	for i := 0; i < DriftShellLines; i++ {
		n := int(c.NPosit[i])
		if n <= 0 {
			continue
		}
		if n > DriftShellPoints {
			n = DriftShellPoints
		}
		dl := DriftLine{Points: make([][3]float64, n), B: make([]float64, n)}
		for j := 0; j < n; j++ {
			dl.Points[j] = cleanVec(c.Posit[i][j])
			dl.B[j] = clean(c.Blocal[i][j])
		}
		shell.Lines = append(shell.Lines, dl)
	}
	return shell, nil
}

func (m *MagFields) prepArray(points []spacetime.Point, inputs []maginput.Input) (spacetime.Frame, []float64, error) {
	if len(points) == 0 {
		return spacetime.Frame{}, nil, fmt.Errorf("%w: %w", ErrInvalidInput, spacetime.ErrNoPoints)
	}
	if len(points) > m.ntimeMax {
		return spacetime.Frame{}, nil, fmt.Errorf("%w: %d points exceeds the backend limit of %d per call, split the batch",
			ErrInvalidInput, len(points), m.ntimeMax)
	}
	for _, p := range points {
		if err := checkPoint(p); err != nil {
			return spacetime.Frame{}, nil, err
		}
	}
	frame, err := spacetime.NewFrame(points)
	if err != nil {
		return spacetime.Frame{}, nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	magin, err := maginput.PackSeries(inputs, frame.Len())
	if err != nil {
		return spacetime.Frame{}, nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return frame, magin, nil
}

func (m *MagFields) prepSingle(p spacetime.Point) (TimeLoc, error) {
	if err := checkPoint(p); err != nil {
		return TimeLoc{}, err
	}
	f := spacetime.SingleFrame(p)
	return TimeLoc{IYear: f.IYear[0], IDoy: f.IDoy[0], UT: f.UT[0], X: p.Coords()}, nil
}

func checkPoint(p spacetime.Point) error {
	if p.Time.IsZero() {
		return fmt.Errorf("%w: point has no time", ErrInvalidInput)
	}
	for _, v := range p.Coords() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate in %v", ErrInvalidInput, p.Coords())
		}
	}
	return nil
}

func cleanVec(v [3]float64) [3]float64 {
	return [3]float64{clean(v[0]), clean(v[1]), clean(v[2])}
}
